// Package config loads the match engine's configuration via Viper, with
// defaults-then-file-then-env precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseConfig configures the Postgres-backed store facade.
type DatabaseConfig struct {
	Host            string
	Port            int
	Database        string
	Username        string
	Password        string
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int32         `mapstructure:"max_open_conns"`
	MaxIdleConns    int32         `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// CacheConfig configures the Redis-backed vocabulary cache.
type CacheConfig struct {
	RedisURL   string        `mapstructure:"redis_url"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	MaxRetries int           `mapstructure:"max_retries"`
	PoolSize   int           `mapstructure:"pool_size"`
}

// OncotreeConfig points at the pre-built oncotree input.
type OncotreeConfig struct {
	SourcePath string `mapstructure:"source_path"`
}

// MatchingConfig tunes batch evaluation.
type MatchingConfig struct {
	MaxConcurrentTrials int           `mapstructure:"max_concurrent_trials"`
	TrialTimeout        time.Duration `mapstructure:"trial_timeout"`
}

// LoggingConfig configures logrus output.
type LoggingConfig struct {
	Level  string
	Format string
}

// Config is the complete engine configuration.
type Config struct {
	Environment string
	Database    DatabaseConfig
	Cache       CacheConfig
	Oncotree    OncotreeConfig
	Matching    MatchingConfig
	Logging     LoggingConfig
}

// Manager loads and validates Config using Viper.
type Manager struct {
	config *Config
}

// NewManager creates a new configuration manager, loading from
// ./config.yaml (or /etc/matchengine/config.yaml), environment variables
// prefixed MATCHENGINE_, and finally built-in defaults.
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

func (m *Manager) loadConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/matchengine/")

	viper.SetEnvPrefix("MATCHENGINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	m.setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = cfg
	return nil
}

func (m *Manager) setDefaults() {
	viper.SetDefault("environment", "development")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "matchengine")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")

	viper.SetDefault("cache.redis_url", "redis://localhost:6379")
	viper.SetDefault("cache.default_ttl", "24h")
	viper.SetDefault("cache.max_retries", 3)
	viper.SetDefault("cache.pool_size", 10)

	viper.SetDefault("oncotree.source_path", "./oncotree.json")

	viper.SetDefault("matching.max_concurrent_trials", 8)
	viper.SetDefault("matching.trial_timeout", "2m")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// GetConfig returns the complete configuration.
func (m *Manager) GetConfig() *Config { return m.config }

// Reload reloads the configuration from its sources.
func (m *Manager) Reload() error { return m.loadConfig() }

// Validate checks that the configuration is usable.
func (m *Manager) Validate() error {
	c := m.config

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Cache.RedisURL == "" {
		return fmt.Errorf("redis URL is required")
	}
	if c.Oncotree.SourcePath == "" {
		return fmt.Errorf("oncotree source path is required")
	}
	if c.Matching.MaxConcurrentTrials <= 0 {
		return fmt.Errorf("matching.max_concurrent_trials must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}

// DatabaseConnectionString returns a libpq-style DSN for pgxpool.
func (m *Manager) DatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// IsProduction reports whether the configured environment is production.
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}
