package polystore

import "github.com/google/uuid"

// NewID mints the identifier for a key-less put: a UUIDv7, so ids
// created later sort later. Time-ordered ids keep btree indexes on the
// SQL backends append-mostly and make id ranges meaningful.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does; a v4 id still
		// satisfies every caller, it just loses the time ordering.
		id = uuid.New()
	}
	return id.String()
}
