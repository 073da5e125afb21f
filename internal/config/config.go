package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Lockout   LockoutConfig
	Retention RetentionConfig
	LogLevel  string
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// LockoutConfig holds the brute-force protection policy. Values are read at
// startup and fixed for the process lifetime.
type LockoutConfig struct {
	// MaxFailedAttempts is the windowed failure count that triggers a
	// permanent lockout.
	MaxFailedAttempts int `validate:"gt=0"`
	// BackoffStartAttempt is the windowed failure count at which
	// per-attempt throttling begins. Must sit below the lockout threshold.
	BackoffStartAttempt int `validate:"gt=0,ltfield=MaxFailedAttempts"`
	// BackoffWindow is the minimum spacing enforced between attempts once
	// throttling is active.
	BackoffWindow time.Duration `validate:"gt=0"`
	// AttemptWindow is the trailing window over which failures are counted.
	AttemptWindow time.Duration `validate:"gt=0"`
}

// RetentionConfig controls the optional background sweep. The sweep is an
// optimization only; lazy read-time expiry stays authoritative.
type RetentionConfig struct {
	// AttemptRetention is how long attempt rows are kept before the sweep
	// purges them. Must cover at least the counting window.
	AttemptRetention time.Duration `validate:"gt=0"`
	SweepInterval    time.Duration `validate:"gt=0"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "lockgate"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Lockout: LockoutConfig{
			MaxFailedAttempts:   getEnvAsInt("LOCKOUT_MAX_FAILED_ATTEMPTS", 10),
			BackoffStartAttempt: getEnvAsInt("LOCKOUT_BACKOFF_START_ATTEMPT", 5),
			BackoffWindow:       getEnvAsDuration("LOCKOUT_BACKOFF_WINDOW", 60*time.Second),
			AttemptWindow:       getEnvAsDuration("LOCKOUT_ATTEMPT_WINDOW", 15*time.Minute),
		},
		Retention: RetentionConfig{
			AttemptRetention: getEnvAsDuration("ATTEMPT_RETENTION", 24*time.Hour),
			SweepInterval:    getEnvAsDuration("RETENTION_SWEEP_INTERVAL", 1*time.Hour),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the policy invariants that the loader defaults satisfy but
// operator overrides can break.
func (c *Config) Validate() error {
	v := validator.New()

	if err := v.Struct(c.Lockout); err != nil {
		return fmt.Errorf("invalid lockout policy: %w", err)
	}
	if err := v.Struct(c.Retention); err != nil {
		return fmt.Errorf("invalid retention policy: %w", err)
	}
	if c.Retention.AttemptRetention < c.Lockout.AttemptWindow {
		return fmt.Errorf("ATTEMPT_RETENTION (%s) must cover the counting window (%s)",
			c.Retention.AttemptRetention, c.Lockout.AttemptWindow)
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}
