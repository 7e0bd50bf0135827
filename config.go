package polystore

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default knobs shared by the adapters
const (
	DefaultScanPageSize  = 100
	DefaultQueryTimeout  = 30 * time.Second
	DefaultIDField       = "id"
	DefaultPKField       = "pk"
	DefaultEtagField     = "_etag"
	DefaultSQLitePath    = "polystore.db"
	DefaultRedisAddr     = "localhost:6379"
	DefaultMongoDatabase = "polystore"
)

// Config selects and configures one backend adapter. Exactly one of the
// engine sections must match Backend. Zero-valued identity fields fall
// back to the defaults above.
type Config struct {
	// Backend names the adapter: memory, dynamodb, mongodb, postgres,
	// redis or sqlite.
	Backend string `yaml:"backend"`

	// IDField/PKField/EtagField name the embedded identity fields.
	IDField   string `yaml:"id_field"`
	PKField   string `yaml:"pk_field"`
	EtagField string `yaml:"etag_field"`

	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
	MongoDB  MongoDBConfig  `yaml:"mongodb"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
}

// DynamoDBConfig configures the DynamoDB adapter. Endpoint overrides
// the AWS endpoint for local testing.
type DynamoDBConfig struct {
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	TablePrefix string `yaml:"table_prefix"`
}

// MongoDBConfig configures the MongoDB adapter.
type MongoDBConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// PostgresConfig configures the Postgres adapter.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig configures the Redis adapter.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SQLiteConfig configures the SQLite adapter.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns a config for the in-process memory adapter.
func DefaultConfig() Config {
	return Config{
		Backend:   "memory",
		IDField:   DefaultIDField,
		PKField:   DefaultPKField,
		EtagField: DefaultEtagField,
	}
}

// LoadConfig reads a YAML config file and applies defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, WithContext(ErrInvalidConfig, map[string]interface{}{
			"path":   path,
			"reason": err.Error(),
		})
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, WithContext(ErrInvalidConfig, map[string]interface{}{
			"path":   path,
			"reason": err.Error(),
		})
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.IDField == "" {
		c.IDField = DefaultIDField
	}
	if c.PKField == "" {
		c.PKField = DefaultPKField
	}
	if c.EtagField == "" {
		c.EtagField = DefaultEtagField
	}
}

// Validate checks the Config is complete for its chosen backend.
func (c Config) Validate() error {
	switch c.Backend {
	case "memory":
		return nil
	case "dynamodb":
		if c.DynamoDB.Region == "" && c.DynamoDB.Endpoint == "" {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "dynamodb.region",
				"reason": "region or endpoint required",
			})
		}
	case "mongodb":
		if c.MongoDB.URI == "" {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "mongodb.uri",
				"reason": "must not be empty",
			})
		}
	case "postgres":
		if c.Postgres.DSN == "" {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "postgres.dsn",
				"reason": "must not be empty",
			})
		}
	case "redis":
		if c.Redis.Addr == "" {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "redis.addr",
				"reason": "must not be empty",
			})
		}
	case "sqlite":
		if c.SQLite.Path == "" {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "sqlite.path",
				"reason": "must not be empty",
			})
		}
	default:
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "backend",
			"value":  c.Backend,
			"reason": "unknown backend",
		})
	}
	return nil
}
