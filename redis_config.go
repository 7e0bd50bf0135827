package polystore

import (
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisConfigFromEnv fills the blanks of cfg from the standard
// environment variables, for deployments that configure the store
// 12-factor style:
//
//	REDIS_ADDR     (default "localhost:6379")
//	REDIS_PASSWORD (default "")
//	REDIS_DB       (default 0)
//
// Explicit config always wins over the environment.
func RedisConfigFromEnv(cfg RedisConfig) RedisConfig {
	if cfg.Addr == "" {
		cfg.Addr = os.Getenv("REDIS_ADDR")
	}
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.Password == "" {
		cfg.Password = os.Getenv("REDIS_PASSWORD")
	}
	if cfg.DB == 0 {
		cfg.DB = envInt("REDIS_DB", 0)
	}
	return cfg
}

// RedisOptions renders the config as client options. Cluster,
// Sentinel, TLS and pool tuning are out of scope here; build
// redis.Options directly and use NewRedisBackend for those.
func RedisOptions(cfg RedisConfig) *redis.Options {
	cfg = RedisConfigFromEnv(cfg)
	return &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
