package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:                   "production",
		Port:                  "8080",
		DBDriver:              "postgres",
		DBPassword:            "secure-password",
		DBSSLMode:             "require",
		JWTSecret:             "secure-secret-at-least-32-chars-long",
		AnonKey:               "prod-anon-key",
		AccessTokenTTLMinutes: 60,
		RestoreAttempts:       2,
		RestoreTimeoutMS:      2000,
		ActivateAttempts:      15,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
	}{
		{"Valid Production", func(c *Config) {}, false},
		{"Default Secret In Production", func(c *Config) { c.JWTSecret = DefaultJWTSecret }, true},
		{"Short Secret In Production", func(c *Config) { c.JWTSecret = "short" }, true},
		{"Short Secret In Development", func(c *Config) { c.Env = "development"; c.JWTSecret = "short" }, false},
		{"Default Anon Key In Production", func(c *Config) { c.AnonKey = DefaultAnonKey }, true},
		{"Weak DB Password", func(c *Config) { c.DBPassword = "password" }, true},
		{"SQLite Ignores DB Password", func(c *Config) { c.DBDriver = "sqlite"; c.DBPassword = "" }, false},
		{"Unknown Driver", func(c *Config) { c.DBDriver = "mysql" }, true},
		{"Missing Port", func(c *Config) { c.Port = "" }, true},
		{"Missing Anon Key", func(c *Config) { c.AnonKey = "" }, true},
		{"Zero Restore Attempts", func(c *Config) { c.RestoreAttempts = 0 }, true},
		{"Zero Token TTL", func(c *Config) { c.AccessTokenTTLMinutes = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("DB_DRIVER", "  SQLITE ")
	t.Setenv("BACKEND_URL", "http://platform:8375/")
	t.Setenv("RESTORE_ATTEMPTS", "3")
	t.Setenv("SESSION_IDLE_TTL_MINUTES", "5")

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", c.DBDriver)
	assert.Equal(t, "http://platform:8375", c.BackendURL)
	assert.Equal(t, 3, c.RestoreAttempts)
	assert.Equal(t, 5*time.Minute, c.SessionIdleTTL())
	assert.Equal(t, time.Hour, c.AccessTokenTTL())
	assert.False(t, c.IsProduction())
}

func TestConfig_Origins(t *testing.T) {
	c := &Config{AllowedOrigins: " http://a.test, ,http://b.test "}
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, c.Origins())
}
