// Package config loads service configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the settings shared by the MAR binaries
type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// DatabaseURL selects the Postgres store; empty runs in memory
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	KafkaBrokers       []string `mapstructure:"KAFKA_BROKERS"`
	KafkaConsumerGroup string   `mapstructure:"KAFKA_CONSUMER_GROUP"`

	OTLPEndpoint    string  `mapstructure:"OTLP_ENDPOINT"`
	TraceSampleRate float64 `mapstructure:"TRACE_SAMPLE_RATE"`

	JWTSecret  string        `mapstructure:"JWT_SECRET"`
	SessionTTL time.Duration `mapstructure:"SESSION_TTL"`

	SendGridAPIKey     string   `mapstructure:"SENDGRID_API_KEY"`
	AlertFromEmail     string   `mapstructure:"ALERT_FROM_EMAIL"`
	AlertToEmails      []string `mapstructure:"ALERT_TO_EMAILS"`
	LowSupplyThreshold int      `mapstructure:"LOW_SUPPLY_THRESHOLD"`

	OutboxCleanupSchedule string        `mapstructure:"OUTBOX_CLEANUP_SCHEDULE"`
	OutboxRetention       time.Duration `mapstructure:"OUTBOX_RETENTION"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"KAFKA_BROKERS", "KAFKA_CONSUMER_GROUP",
	"OTLP_ENDPOINT", "TRACE_SAMPLE_RATE",
	"JWT_SECRET", "SESSION_TTL",
	"SENDGRID_API_KEY", "ALERT_FROM_EMAIL", "ALERT_TO_EMAILS", "LOW_SUPPLY_THRESHOLD",
	"OUTBOX_CLEANUP_SCHEDULE", "OUTBOX_RETENTION",
}

// devJWTSecret signs sessions outside production when JWT_SECRET is unset
const devJWTSecret = "mar-development-secret"

// Load reads configuration. A missing .env file is not an error.
func Load() (*Config, error) {
	return load(".env")
}

func load(file string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(file)
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("KAFKA_CONSUMER_GROUP", "mar-supply-alerts")
	v.SetDefault("TRACE_SAMPLE_RATE", 1.0)
	v.SetDefault("SESSION_TTL", "12h")
	v.SetDefault("ALERT_FROM_EMAIL", "mar-alerts@localhost")
	v.SetDefault("LOW_SUPPLY_THRESHOLD", 3)
	v.SetDefault("OUTBOX_CLEANUP_SCHEDULE", "@hourly")
	v.SetDefault("OUTBOX_RETENTION", "168h")

	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Comma separated lists arrive as a single string from the environment
	cfg.KafkaBrokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.AlertToEmails = splitList(v.GetString("ALERT_TO_EMAILS"))

	if cfg.JWTSecret == "" && !cfg.IsProduction() {
		cfg.JWTSecret = devJWTSecret
	}

	return cfg, nil
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

// IsDev reports whether the service runs in development mode
func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UseMemoryStore reports whether no database is configured
func (c *Config) UseMemoryStore() bool {
	return c.DatabaseURL == ""
}

// AlertsEnabled reports whether low supply emails can be sent
func (c *Config) AlertsEnabled() bool {
	return c.SendGridAPIKey != "" && len(c.AlertToEmails) > 0
}

// Validate checks that the configuration is safe to run
func (c *Config) Validate() error {
	var errs []error
	if c.IsProduction() && (c.JWTSecret == "" || c.JWTSecret == devJWTSecret) {
		errs = append(errs, errors.New("JWT_SECRET is required in production"))
	}
	if c.IsProduction() && c.UseMemoryStore() {
		errs = append(errs, errors.New("DATABASE_URL is required in production"))
	}
	if c.DBMinConns > c.DBMaxConns {
		errs = append(errs, fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns))
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		errs = append(errs, fmt.Errorf("TRACE_SAMPLE_RATE must be between 0 and 1, got %v", c.TraceSampleRate))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.LowSupplyThreshold < 0 {
		errs = append(errs, errors.New("LOW_SUPPLY_THRESHOLD must not be negative"))
	}
	return errors.Join(errs...)
}
