// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultJWTSecret and DefaultAnonKey are development placeholders that
// Validate rejects in production.
const (
	DefaultJWTSecret = "your-secret-key-change-in-production"
	DefaultAnonKey   = "ikak-anon-dev-key"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Env          string `mapstructure:"APP_ENV"`
	Port         string `mapstructure:"PORT"`
	PlatformPort string `mapstructure:"PLATFORM_PORT"`

	DBDriver   string `mapstructure:"DB_DRIVER"`
	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	DBSSLMode  string `mapstructure:"DB_SSLMODE"`
	SQLitePath string `mapstructure:"SQLITE_PATH"`

	RedisURL       string `mapstructure:"REDIS_URL"`
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	AnonKey        string `mapstructure:"ANON_KEY"`
	BackendURL     string `mapstructure:"BACKEND_URL"`
	SiteURL        string `mapstructure:"SITE_URL"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
	FeatureFlags   string `mapstructure:"FEATURE_FLAGS"`

	AccessTokenTTLMinutes int `mapstructure:"ACCESS_TOKEN_TTL_MINUTES"`

	RestoreAttempts       int `mapstructure:"RESTORE_ATTEMPTS"`
	RestoreDelayMS        int `mapstructure:"RESTORE_DELAY_MS"`
	RestoreTimeoutMS      int `mapstructure:"RESTORE_TIMEOUT_MS"`
	ActivateAttempts      int `mapstructure:"ACTIVATE_ATTEMPTS"`
	ActivateDelayMS       int `mapstructure:"ACTIVATE_DELAY_MS"`
	SessionIdleTTLMinutes int `mapstructure:"SESSION_IDLE_TTL_MINUTES"`

	TracingEnabled  bool   `mapstructure:"TRACING_ENABLED"`
	TracingExporter string `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint    string `mapstructure:"OTLP_ENDPOINT"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.AddConfigPath(".")
	v.AddConfigPath("..")
	v.AddConfigPath("../..")
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AutomaticEnv()

	// The base file is optional; env vars and defaults cover everything.
	_ = v.ReadInConfig()

	env := v.GetString("APP_ENV")
	if env != "" && env != "development" && env != "test" {
		v.SetConfigName("config." + env)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PORT", "8080")
	v.SetDefault("PLATFORM_PORT", "8375")
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "user")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "ikak")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("SQLITE_PATH", "ikak.db")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("JWT_SECRET", DefaultJWTSecret)
	v.SetDefault("ANON_KEY", DefaultAnonKey)
	v.SetDefault("BACKEND_URL", "http://localhost:8375")
	v.SetDefault("SITE_URL", "http://localhost:8080")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:8080")
	v.SetDefault("FEATURE_FLAGS", "email_confirmation=off")
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 60)
	v.SetDefault("RESTORE_ATTEMPTS", 2)
	v.SetDefault("RESTORE_DELAY_MS", 500)
	v.SetDefault("RESTORE_TIMEOUT_MS", 2000)
	v.SetDefault("ACTIVATE_ATTEMPTS", 15)
	v.SetDefault("ACTIVATE_DELAY_MS", 500)
	v.SetDefault("SESSION_IDLE_TTL_MINUTES", 30)
	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("TRACING_EXPORTER", "stdout")
	v.SetDefault("OTLP_ENDPOINT", "localhost:4318")
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	c.DBSSLMode = strings.ToLower(strings.TrimSpace(c.DBSSLMode))
	c.BackendURL = strings.TrimRight(strings.TrimSpace(c.BackendURL), "/")
}

// IsProduction reports whether the production profile is active.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Origins returns ALLOWED_ORIGINS as a list.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// AccessTokenTTL is the lifetime of platform access tokens.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

// SessionIdleTTL is how long the web host keeps an unused browser session.
func (c *Config) SessionIdleTTL() time.Duration {
	return time.Duration(c.SessionIdleTTLMinutes) * time.Minute
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.AnonKey == "" {
		return errors.New("ANON_KEY is required")
	}
	if c.DBDriver != "postgres" && c.DBDriver != "sqlite" {
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver)
	}
	if c.RestoreAttempts < 1 || c.ActivateAttempts < 1 {
		return errors.New("RESTORE_ATTEMPTS and ACTIVATE_ATTEMPTS must be at least 1")
	}
	if c.RestoreTimeoutMS <= 0 {
		return errors.New("RESTORE_TIMEOUT_MS must be positive")
	}
	if c.AccessTokenTTLMinutes <= 0 {
		return errors.New("ACCESS_TOKEN_TTL_MINUTES must be positive")
	}

	// Strict checks for production
	if c.IsProduction() {
		if c.JWTSecret == DefaultJWTSecret {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.AnonKey == DefaultAnonKey {
			return errors.New("ANON_KEY must be changed from the default value in production")
		}
		if c.DBDriver == "postgres" && (c.DBPassword == "password" || c.DBPassword == "") {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBDriver == "postgres" && (c.DBSSLMode == "disable" || c.DBSSLMode == "") {
			log.Println("WARNING: DB_SSLMODE is 'disable' in production. It is highly recommended to use SSL for database connections.")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}
