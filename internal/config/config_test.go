package config

import (
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvFloat(t *testing.T) {
	t.Setenv("TEST_FLOAT", "2.5")
	v, err := envFloat("TEST_FLOAT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 2.5 {
		t.Fatalf("expected 2.5, got %v", v)
	}

	t.Setenv("TEST_FLOAT_BAD", "fast")
	if _, err := envFloat("TEST_FLOAT_BAD", 0); err == nil {
		t.Fatal("expected error for non-numeric value, got nil")
	}
}

func TestLoadFailsOnInvalidPort(t *testing.T) {
	t.Setenv("RECORRIDOS_PORT", "abc")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid RECORRIDOS_PORT")
	}
	// Error should mention the variable name and value.
	if got := err.Error(); !contains(got, "RECORRIDOS_PORT") || !contains(got, "abc") {
		t.Fatalf("error should mention RECORRIDOS_PORT and value 'abc', got: %s", got)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("RECORRIDOS_PORT", "abc")
	t.Setenv("RECORRIDOS_RATE_LIMIT_BURST", "xyz")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !contains(got, "RECORRIDOS_PORT") {
		t.Fatalf("error should mention RECORRIDOS_PORT, got: %s", got)
	}
	if !contains(got, "RECORRIDOS_RATE_LIMIT_BURST") {
		t.Fatalf("error should mention RECORRIDOS_RATE_LIMIT_BURST, got: %s", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	// With no env vars set, Load should succeed using all defaults.
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.Store != StorePostgres {
		t.Fatalf("expected default store postgres, got %q", cfg.Store)
	}
	if cfg.NotifyURL != cfg.DatabaseURL {
		t.Fatal("notify URL should default to DATABASE_URL")
	}
	if cfg.RetentionSchedule != "@daily" {
		t.Fatalf("expected @daily retention, got %q", cfg.RetentionSchedule)
	}
}

func TestLoadSQLiteStore(t *testing.T) {
	t.Setenv("RECORRIDOS_STORE", "SQLite")
	t.Setenv("RECORRIDOS_SQLITE_DSN", ":memory:")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store != StoreSQLite || cfg.SQLiteDSN != ":memory:" {
		t.Fatalf("unexpected store config: %q %q", cfg.Store, cfg.SQLiteDSN)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		Store:               StoreSQLite,
		SQLiteDSN:           ":memory:",
		Port:                8080,
		MaxRequestBodyBytes: 1024,
		JWTExpiration:       time.Hour,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := map[string]func(*Config){
		"unknown store":     func(c *Config) { c.Store = "mysql" },
		"missing db url":    func(c *Config) { c.Store = StorePostgres; c.DatabaseURL = "" },
		"port out of range": func(c *Config) { c.Port = 70000 },
		"zero body limit":   func(c *Config) { c.MaxRequestBodyBytes = 0 },
		"negative burst":    func(c *Config) { c.RateLimitBurst = -1 },
		"half a key pair":   func(c *Config) { c.JWTPrivateKeyPath = "priv.pem" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid
			mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && searchSubstring(s, substr)
}

func searchSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
