package polystore

import "testing"

func TestRedisConfigFromEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("REDIS_PASSWORD", "hunter2")
	t.Setenv("REDIS_DB", "3")

	cfg := RedisConfigFromEnv(RedisConfig{})
	if cfg.Addr != "redis.internal:6380" {
		t.Errorf("addr = %q", cfg.Addr)
	}
	if cfg.Password != "hunter2" {
		t.Errorf("password = %q", cfg.Password)
	}
	if cfg.DB != 3 {
		t.Errorf("db = %d", cfg.DB)
	}
}

func TestRedisConfigExplicitWins(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("REDIS_PASSWORD", "hunter2")

	cfg := RedisConfigFromEnv(RedisConfig{Addr: "explicit:6379", Password: "own"})
	if cfg.Addr != "explicit:6379" {
		t.Errorf("addr = %q, explicit config should win", cfg.Addr)
	}
	if cfg.Password != "own" {
		t.Errorf("password = %q, explicit config should win", cfg.Password)
	}
}

func TestRedisConfigDefaults(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("REDIS_PASSWORD", "")
	t.Setenv("REDIS_DB", "")

	cfg := RedisConfigFromEnv(RedisConfig{})
	if cfg.Addr != "localhost:6379" {
		t.Errorf("addr = %q, want the local default", cfg.Addr)
	}
	if cfg.Password != "" || cfg.DB != 0 {
		t.Errorf("cfg = %+v, want empty password and db 0", cfg)
	}
}

func TestRedisConfigBadDBValue(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")
	cfg := RedisConfigFromEnv(RedisConfig{})
	if cfg.DB != 0 {
		t.Errorf("db = %d, want fallback 0", cfg.DB)
	}
}

func TestRedisOptions(t *testing.T) {
	opts := RedisOptions(RedisConfig{Addr: "explicit:6379", Password: "p", DB: 2})
	if opts.Addr != "explicit:6379" || opts.Password != "p" || opts.DB != 2 {
		t.Errorf("options = %+v", opts)
	}
}
