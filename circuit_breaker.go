package polystore

import (
	"context"
	"errors"
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker fails fast when a backend keeps timing out or
// refusing connections, so one sick dependency does not stall every
// caller behind it. Only unavailability and timeouts count as
// failures: a NotFound or Conflict is the backend working as intended.
//
// Closed passes everything through. After maxFailures consecutive
// retryable errors the breaker opens and rejects calls with
// ErrBackendUnavailable until resetTimeout passes, then a single
// probe (half-open) decides whether to close again.
type CircuitBreaker struct {
	mu            sync.Mutex
	maxFailures   int
	resetTimeout  time.Duration
	failures      int
	lastFailure   time.Time
	state         breakerState
	onStateChange func(from, to string)
}

func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
	}
}

// WithStateChangeCallback registers a hook for state transitions,
// typically to bump a metric.
func (cb *CircuitBreaker) WithStateChangeCallback(fn func(from, to string)) *CircuitBreaker {
	cb.onStateChange = fn
	return cb
}

// Execute runs fn unless the breaker is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.allow() {
		return WithContext(ErrBackendUnavailable, map[string]interface{}{
			"reason": "circuit breaker open",
		})
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == breakerOpen {
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.setState(breakerHalfOpen)
			return true
		}
		return false
	}
	return true
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && (errors.Is(err, ErrBackendUnavailable) || errors.Is(err, ErrTimeout)) {
		cb.failures++
		cb.lastFailure = time.Now()
		if cb.failures >= cb.maxFailures && cb.state != breakerOpen {
			cb.setState(breakerOpen)
		}
		return
	}
	// Success, or an error that is the backend answering correctly.
	cb.failures = 0
	if cb.state != breakerClosed {
		cb.setState(breakerClosed)
	}
}

func (cb *CircuitBreaker) setState(next breakerState) {
	prev := cb.state
	cb.state = next
	if cb.onStateChange != nil {
		cb.onStateChange(prev.String(), next.String())
	}
}

// State reports "closed", "open" or "half-open".
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.String()
}

// Reset closes the breaker and clears the failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.setState(breakerClosed)
}

// BreakerBackend wraps a Backend so every call goes through one
// shared circuit breaker. Collection and index management is
// deliberately not short-circuited: those are rare administrative
// calls and a stale open breaker should not block recovery tooling.
type BreakerBackend struct {
	Backend
	breaker *CircuitBreaker
}

func WithCircuitBreaker(backend Backend, maxFailures int, resetTimeout time.Duration) *BreakerBackend {
	return &BreakerBackend{
		Backend: backend,
		breaker: NewCircuitBreaker(maxFailures, resetTimeout),
	}
}

// Breaker exposes the underlying breaker for state callbacks and
// manual resets.
func (b *BreakerBackend) Breaker() *CircuitBreaker { return b.breaker }

func (b *BreakerBackend) Get(ctx context.Context, op *CompiledOp) (*Item, error) {
	var item *Item
	err := b.breaker.Execute(ctx, func() error {
		var err error
		item, err = b.Backend.Get(ctx, op)
		return err
	})
	return item, err
}

func (b *BreakerBackend) Put(ctx context.Context, op *CompiledOp) (*Item, error) {
	var item *Item
	err := b.breaker.Execute(ctx, func() error {
		var err error
		item, err = b.Backend.Put(ctx, op)
		return err
	})
	return item, err
}

func (b *BreakerBackend) Update(ctx context.Context, op *CompiledOp) (*Item, error) {
	var item *Item
	err := b.breaker.Execute(ctx, func() error {
		var err error
		item, err = b.Backend.Update(ctx, op)
		return err
	})
	return item, err
}

func (b *BreakerBackend) Delete(ctx context.Context, op *CompiledOp) error {
	return b.breaker.Execute(ctx, func() error {
		return b.Backend.Delete(ctx, op)
	})
}

func (b *BreakerBackend) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	var result *QueryResult
	err := b.breaker.Execute(ctx, func() error {
		var err error
		result, err = b.Backend.Query(ctx, req)
		return err
	})
	return result, err
}

func (b *BreakerBackend) Count(ctx context.Context, req CountRequest) (int, error) {
	var n int
	err := b.breaker.Execute(ctx, func() error {
		var err error
		n, err = b.Backend.Count(ctx, req)
		return err
	})
	return n, err
}

func (b *BreakerBackend) Batch(ctx context.Context, ops []*CompiledOp) error {
	return b.breaker.Execute(ctx, func() error {
		return b.Backend.Batch(ctx, ops)
	})
}

func (b *BreakerBackend) Transact(ctx context.Context, ops []*CompiledOp) ([]*Item, error) {
	var results []*Item
	err := b.breaker.Execute(ctx, func() error {
		var err error
		results, err = b.Backend.Transact(ctx, ops)
		return err
	})
	return results, err
}

func (b *BreakerBackend) Ping(ctx context.Context) error {
	return b.breaker.Execute(ctx, func() error {
		return b.Backend.Ping(ctx)
	})
}
