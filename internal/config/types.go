package config

import (
	"time"

	"github.com/trial-match-server/internal/domain"
)

// Config holds complete application configuration
type Config struct {
	Environment string         `mapstructure:"environment"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	History     HistoryConfig  `mapstructure:"history"`
	Cache       CacheConfig    `mapstructure:"cache"`
	Registry    RegistryConfig `mapstructure:"registry"`
	Matching    MatchingConfig `mapstructure:"matching"`
	Logging     LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	TLSEnabled     bool          `mapstructure:"tls_enabled"`
	TLSCertFile    string        `mapstructure:"tls_cert_file"`
	TLSKeyFile     string        `mapstructure:"tls_key_file"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// DatabaseConfig holds the primary Postgres configuration (trial and
// profile stores).
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// HistoryConfig selects and configures the match-history store. Driver is
// "sqlite" for standalone deployments or "postgres" for shared ones.
type HistoryConfig struct {
	Driver string `mapstructure:"driver"`
	// SQLitePath is the database file path when Driver is sqlite.
	SQLitePath string `mapstructure:"sqlite_path"`
	// DSN is the connection string when Driver is postgres.
	DSN string `mapstructure:"dsn"`
}

// CacheConfig holds match-result cache configuration. The in-process LRU
// tier is always on; the Redis tier activates when RedisEnabled is set.
type CacheConfig struct {
	LRUSize      int           `mapstructure:"lru_size"`
	DefaultTTL   time.Duration `mapstructure:"default_ttl"`
	RedisEnabled bool          `mapstructure:"redis_enabled"`
	RedisURL     string        `mapstructure:"redis_url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	PoolSize     int           `mapstructure:"pool_size"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
}

// RegistryConfig holds the trial registry import client configuration.
type RegistryConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RateLimit   int           `mapstructure:"rate_limit"`
	RetryCount  int           `mapstructure:"retry_count"`
	PageSize    int           `mapstructure:"page_size"`
	CacheURL    string        `mapstructure:"cache_url"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	CacheEnable bool          `mapstructure:"cache_enable"`
}

// MatchingConfig holds the scoring policy plus batch execution settings.
type MatchingConfig struct {
	Policy  domain.ScoringPolicy `mapstructure:",squash"`
	Workers int                  `mapstructure:"workers"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}
