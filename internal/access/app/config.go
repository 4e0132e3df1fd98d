package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Env                  string        `yaml:"env"`                   // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        `yaml:"log_level"`             // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        `yaml:"log_format"`            // Log format (json, text) (default: json)
	Port                 int           `yaml:"port"`                  // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration `yaml:"shutdown_grace_period"` // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration `yaml:"housekeeping_interval"` // Premium expiry and chain check interval (default: 1h)

	DatabaseDriver string `yaml:"database_driver"` // sqlite or postgres (default: sqlite)
	DatabaseFile   string `yaml:"database_file"`   // SQLite database file (default: gatekeep.db)
	DatabaseURL    string `yaml:"database_url"`    // Postgres connection URL (required for postgres)

	Issuer       string   `yaml:"issuer"`        // Expected token issuer
	Audience     []string `yaml:"audience"`      // Accepted token audiences (default: gatekeep)
	IdentityMode string   `yaml:"identity_mode"` // jwks or dev (default: jwks, dev when ENV=dev and no JWKS file)
	JWKSFile     string   `yaml:"jwks_file"`     // Identity provider public keys (required for jwks)
	DevKeyFile   string   `yaml:"dev_key_file"`  // Local signing key for dev mode (default: dev-identity.pem)

	FreeDailyArrangements int           `yaml:"free_daily_arrangements"` // Free tier quota (default: 10)
	QuotaResetTime        string        `yaml:"quota_reset_time"`        // HH:MM UTC (default: 00:00)
	StoreTimeout          time.Duration `yaml:"store_timeout"`           // Per store call (default: 2s)

	PaymentsMode        string  `yaml:"payments_mode"`         // mock or disabled (default: mock)
	PaymentsFailureRate float64 `yaml:"payments_failure_rate"` // Mock gateway decline probability (default: 0)

	AdminActionsPerMinute int    `yaml:"admin_actions_per_minute"` // Per admin, per action (default: 10)
	SuperAdmin            string `yaml:"super_admin"`              // Identity that can not be demoted, disabled or deleted

	// ResetOffset is QuotaResetTime as an offset from midnight UTC. Set by Validate.
	ResetOffset time.Duration `yaml:"-"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Env:                   "dev",
		LogLevel:              "info",
		LogFormat:             "json",
		Port:                  8080,
		ShutdownGracePeriod:   10 * time.Second,
		HousekeepingInterval:  time.Hour,
		DatabaseDriver:        "sqlite",
		DatabaseFile:          "gatekeep.db",
		Issuer:                "gatekeep-identity",
		Audience:              []string{"gatekeep"},
		DevKeyFile:            "dev-identity.pem",
		FreeDailyArrangements: 10,
		QuotaResetTime:        "00:00",
		StoreTimeout:          2 * time.Second,
		PaymentsMode:          "mock",
		AdminActionsPerMinute: 10,
	}
}

// LoadConfig layers defaults, the optional YAML file at path and the
// environment, in that order. Variables from a .env file in the working
// directory are loaded first and never override the real environment.
// An empty path falls back to GATEKEEP_CONFIG.
func LoadConfig(path string) (Config, error) {
	_ = godotenv.Load(".env")

	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("GATEKEEP_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if cfg.IdentityMode == "" {
		cfg.IdentityMode = "jwks"
		if cfg.Env == "dev" && cfg.JWKSFile == "" {
			cfg.IdentityMode = "dev"
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Env = getEnvOrDefault("ENV", c.Env)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnvOrDefault("LOG_FORMAT", c.LogFormat)
	c.Port = getEnvIntOrDefault("PORT", c.Port)
	c.ShutdownGracePeriod = getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", c.ShutdownGracePeriod)
	c.HousekeepingInterval = getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", c.HousekeepingInterval)

	c.DatabaseDriver = getEnvOrDefault("GATEKEEP_DATABASE_DRIVER", c.DatabaseDriver)
	c.DatabaseFile = getEnvOrDefault("GATEKEEP_DATABASE_FILE", c.DatabaseFile)
	c.DatabaseURL = getEnvOrDefault("GATEKEEP_DATABASE_URL", c.DatabaseURL)

	c.Issuer = getEnvOrDefault("GATEKEEP_ISSUER", c.Issuer)
	if aud := os.Getenv("GATEKEEP_AUDIENCE"); aud != "" {
		c.Audience = splitList(aud)
	}
	c.IdentityMode = getEnvOrDefault("GATEKEEP_IDENTITY_MODE", c.IdentityMode)
	c.JWKSFile = getEnvOrDefault("GATEKEEP_JWKS_FILE", c.JWKSFile)
	c.DevKeyFile = getEnvOrDefault("GATEKEEP_DEV_KEY_FILE", c.DevKeyFile)

	c.FreeDailyArrangements = getEnvIntOrDefault("GATEKEEP_FREE_DAILY_ARRANGEMENTS", c.FreeDailyArrangements)
	c.QuotaResetTime = getEnvOrDefault("GATEKEEP_QUOTA_RESET_TIME", c.QuotaResetTime)
	c.StoreTimeout = getEnvDurationOrDefault("GATEKEEP_STORE_TIMEOUT", c.StoreTimeout)

	c.PaymentsMode = getEnvOrDefault("GATEKEEP_PAYMENTS_MODE", c.PaymentsMode)
	if v := os.Getenv("GATEKEEP_PAYMENTS_FAILURE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.PaymentsFailureRate = f
		}
	}

	c.AdminActionsPerMinute = getEnvIntOrDefault("GATEKEEP_ADMIN_ACTIONS_PER_MINUTE", c.AdminActionsPerMinute)
	c.SuperAdmin = getEnvOrDefault("GATEKEEP_SUPER_ADMIN", c.SuperAdmin)
}

// Validate checks the configuration and derives ResetOffset.
func (c *Config) Validate() error {
	var errs []error

	switch c.DatabaseDriver {
	case "sqlite":
		if c.DatabaseFile == "" {
			errs = append(errs, errors.New("database_file is required for sqlite"))
		}
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("database_url is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q (supported: sqlite, postgres)", c.DatabaseDriver))
	}

	switch c.IdentityMode {
	case "jwks":
		if c.JWKSFile == "" {
			errs = append(errs, errors.New("jwks_file is required for jwks identity mode"))
		}
	case "dev":
		if c.Env == "prod" {
			errs = append(errs, errors.New("dev identity mode is not allowed in prod"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown identity mode %q (supported: jwks, dev)", c.IdentityMode))
	}

	switch c.PaymentsMode {
	case "mock", "disabled":
	default:
		errs = append(errs, fmt.Errorf("unknown payments mode %q (supported: mock, disabled)", c.PaymentsMode))
	}
	if c.PaymentsFailureRate < 0 || c.PaymentsFailureRate > 1 {
		errs = append(errs, fmt.Errorf("payments_failure_rate must be between 0 and 1, got %v", c.PaymentsFailureRate))
	}

	offset, err := ParseResetTime(c.QuotaResetTime)
	if err != nil {
		errs = append(errs, err)
	}
	c.ResetOffset = offset

	if c.FreeDailyArrangements <= 0 {
		errs = append(errs, fmt.Errorf("free_daily_arrangements must be positive, got %d", c.FreeDailyArrangements))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}

	return errors.Join(errs...)
}

// ParseResetTime parses "HH:MM" into an offset from midnight.
func ParseResetTime(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid quota reset time %q (want HH:MM)", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer minutes (for backwards compatibility)
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
