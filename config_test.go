package polystore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Backend != "memory" {
		t.Errorf("Backend = %q, want memory", cfg.Backend)
	}
	if cfg.IDField != DefaultIDField {
		t.Errorf("IDField = %q, want %q", cfg.IDField, DefaultIDField)
	}
	if cfg.PKField != DefaultPKField {
		t.Errorf("PKField = %q, want %q", cfg.PKField, DefaultPKField)
	}
	if cfg.EtagField != DefaultEtagField {
		t.Errorf("EtagField = %q, want %q", cfg.EtagField, DefaultEtagField)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "memory needs nothing",
			config:  Config{Backend: "memory"},
			wantErr: false,
		},
		{
			name:    "dynamodb with region",
			config:  Config{Backend: "dynamodb", DynamoDB: DynamoDBConfig{Region: "us-east-1"}},
			wantErr: false,
		},
		{
			name:    "dynamodb with local endpoint only",
			config:  Config{Backend: "dynamodb", DynamoDB: DynamoDBConfig{Endpoint: "http://localhost:8000"}},
			wantErr: false,
		},
		{
			name:    "dynamodb missing region and endpoint",
			config:  Config{Backend: "dynamodb"},
			wantErr: true,
		},
		{
			name:    "mongodb with uri",
			config:  Config{Backend: "mongodb", MongoDB: MongoDBConfig{URI: "mongodb://localhost:27017"}},
			wantErr: false,
		},
		{
			name:    "mongodb missing uri",
			config:  Config{Backend: "mongodb"},
			wantErr: true,
		},
		{
			name:    "postgres with dsn",
			config:  Config{Backend: "postgres", Postgres: PostgresConfig{DSN: "postgres://localhost/app"}},
			wantErr: false,
		},
		{
			name:    "postgres missing dsn",
			config:  Config{Backend: "postgres"},
			wantErr: true,
		},
		{
			name:    "redis with addr",
			config:  Config{Backend: "redis", Redis: RedisConfig{Addr: "localhost:6379"}},
			wantErr: false,
		},
		{
			name:    "redis missing addr",
			config:  Config{Backend: "redis"},
			wantErr: true,
		},
		{
			name:    "sqlite with path",
			config:  Config{Backend: "sqlite", SQLite: SQLiteConfig{Path: ":memory:"}},
			wantErr: false,
		},
		{
			name:    "sqlite missing path",
			config:  Config{Backend: "sqlite"},
			wantErr: true,
		},
		{
			name:    "unknown backend",
			config:  Config{Backend: "cassandra"},
			wantErr: true,
		},
		{
			name:    "empty backend",
			config:  Config{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("validation errors should wrap ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "polystore.yaml")

	yaml := `backend: redis
etag_field: _version
redis:
  addr: redis.internal:6379
  db: 2
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "redis", cfg.Backend)
	require.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	require.Equal(t, 2, cfg.Redis.DB)

	// Unset identity fields fall back to defaults, set ones stick.
	require.Equal(t, DefaultIDField, cfg.IDField)
	require.Equal(t, DefaultPKField, cfg.PKField)
	require.Equal(t, "_version", cfg.EtagField)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("backend: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for malformed yaml")
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoadConfigInvalidBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte("backend: mongodb\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Parses fine but fails validation: mongodb requires a URI.
	_, err := LoadConfig(path)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}
