package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const VERSION = "1.4"

type Config struct {
	Database    DatabaseConfig
	Engine      EngineConfig
	SMTP        SMTPConfig
	Webhook     WebhookConfig
	Environment string
	LogLevel    string
	Version     string
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// EngineConfig holds the scheduler and runner tuning knobs
type EngineConfig struct {
	PollInterval    time.Duration
	RefreshInterval time.Duration
	BatchSize       int
	Workers         int
	StepTimeout     time.Duration
	MaxRetries      int
	MaxAttempts     int
	StaleClaimAfter time.Duration
}

type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

// WebhookConfig configures the outbound notification webhook
type WebhookConfig struct {
	Endpoint string
	Secret   string
}

// LoadOptions contains options for loading configuration
type LoadOptions struct {
	EnvFile string // Optional environment file to load (e.g., ".env", ".env.test")
}

// Load loads the configuration from the environment
func Load() (*Config, error) {
	// Try to load .env file but don't require it
	return LoadWithOptions(LoadOptions{EnvFile: ".env"})
}

// LoadWithOptions loads the configuration with the specified options
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "donorflow")
	v.SetDefault("DB_SSLMODE", "require")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 25)
	v.SetDefault("ENVIRONMENT", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("VERSION", VERSION)

	// Engine defaults
	v.SetDefault("ENGINE_POLL_INTERVAL", "1m")
	v.SetDefault("ENGINE_REFRESH_INTERVAL", "30s")
	v.SetDefault("ENGINE_BATCH_SIZE", 100)
	v.SetDefault("ENGINE_WORKERS", 10)
	v.SetDefault("ENGINE_STEP_TIMEOUT", "30s")
	v.SetDefault("ENGINE_MAX_RETRIES", 3)
	v.SetDefault("ENGINE_MAX_ATTEMPTS", 5)
	// Must stay above the worst-case step sequence duration so a live run
	// is never reclaimed mid-flight
	v.SetDefault("ENGINE_STALE_CLAIM_AFTER", "30m")

	// SMTP defaults
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_FROM_NAME", "Donorflow")

	// Load environment file if specified
	if opts.EnvFile != "" {
		v.SetConfigName(opts.EnvFile)
		v.SetConfigType("env")

		currentPath, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("error getting current directory: %w", err)
		}

		v.AddConfigPath(currentPath)

		if err := v.ReadInConfig(); err != nil {
			// It's okay if config file doesn't exist
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	// Read environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	config := &Config{
		Database: DatabaseConfig{
			Host:         v.GetString("DB_HOST"),
			Port:         v.GetInt("DB_PORT"),
			User:         v.GetString("DB_USER"),
			Password:     v.GetString("DB_PASSWORD"),
			DBName:       v.GetString("DB_NAME"),
			SSLMode:      v.GetString("DB_SSLMODE"),
			MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		},
		Engine: EngineConfig{
			PollInterval:    v.GetDuration("ENGINE_POLL_INTERVAL"),
			RefreshInterval: v.GetDuration("ENGINE_REFRESH_INTERVAL"),
			BatchSize:       v.GetInt("ENGINE_BATCH_SIZE"),
			Workers:         v.GetInt("ENGINE_WORKERS"),
			StepTimeout:     v.GetDuration("ENGINE_STEP_TIMEOUT"),
			MaxRetries:      v.GetInt("ENGINE_MAX_RETRIES"),
			MaxAttempts:     v.GetInt("ENGINE_MAX_ATTEMPTS"),
			StaleClaimAfter: v.GetDuration("ENGINE_STALE_CLAIM_AFTER"),
		},
		SMTP: SMTPConfig{
			Host:      v.GetString("SMTP_HOST"),
			Port:      v.GetInt("SMTP_PORT"),
			Username:  v.GetString("SMTP_USERNAME"),
			Password:  v.GetString("SMTP_PASSWORD"),
			FromEmail: v.GetString("SMTP_FROM_EMAIL"),
			FromName:  v.GetString("SMTP_FROM_NAME"),
		},
		Webhook: WebhookConfig{
			Endpoint: v.GetString("WEBHOOK_ENDPOINT"),
			Secret:   v.GetString("WEBHOOK_SECRET"),
		},
		Environment: v.GetString("ENVIRONMENT"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		Version:     v.GetString("VERSION"),
	}

	if config.Database.DBName == "" {
		return nil, fmt.Errorf("DB_NAME is required")
	}

	return config, nil
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
