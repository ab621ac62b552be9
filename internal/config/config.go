package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/trial-match-server/internal/domain"
)

// Manager loads and validates application configuration using Viper
type Manager struct {
	config *Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	// Set configuration file name and paths
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/trial-match-server/")

	// Set environment variable prefix and enable automatic env binding
	viper.SetEnvPrefix("TRIALMATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set default values
	m.setDefaults()

	// Read configuration file (optional - will use defaults and env vars if not found)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	// Unmarshal configuration into struct
	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Recommended actions are fixed texts, not configuration.
	if config.Matching.Policy.RecommendedActions == nil {
		config.Matching.Policy.RecommendedActions = domain.DefaultScoringPolicy().RecommendedActions
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func (m *Manager) setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.tls_enabled", false)
	viper.SetDefault("server.request_timeout", "30s")
	viper.SetDefault("server.rate_limit_rps", 10)
	viper.SetDefault("server.rate_limit_burst", 20)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "trial_match")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")

	// History store defaults
	viper.SetDefault("history.driver", "sqlite")
	viper.SetDefault("history.sqlite_path", "./data/match_history.db")
	viper.SetDefault("history.dsn", "")

	// Cache defaults
	viper.SetDefault("cache.lru_size", 1024)
	viper.SetDefault("cache.default_ttl", "1h")
	viper.SetDefault("cache.redis_enabled", false)
	viper.SetDefault("cache.redis_url", "redis://localhost:6379")
	viper.SetDefault("cache.max_retries", 3)
	viper.SetDefault("cache.pool_size", 10)
	viper.SetDefault("cache.pool_timeout", "4s")

	// Trial registry defaults
	viper.SetDefault("registry.base_url", "https://clinicaltrials.gov/api/v2/")
	viper.SetDefault("registry.timeout", "30s")
	viper.SetDefault("registry.rate_limit", 10)
	viper.SetDefault("registry.retry_count", 3)
	viper.SetDefault("registry.page_size", 100)
	viper.SetDefault("registry.cache_enable", false)
	viper.SetDefault("registry.cache_url", "redis://localhost:6379")
	viper.SetDefault("registry.cache_ttl", "24h")

	// Matching defaults mirror the documented default scoring policy.
	defaults := domain.DefaultScoringPolicy()
	viper.SetDefault("matching.condition_weight", defaults.ConditionWeight)
	viper.SetDefault("matching.age_weight", defaults.AgeWeight)
	viper.SetDefault("matching.location_weight", defaults.LocationWeight)
	viper.SetDefault("matching.complexity_weight", defaults.ComplexityWeight)
	viper.SetDefault("matching.eligible_threshold", defaults.EligibleThreshold)
	viper.SetDefault("matching.potentially_eligible_threshold", defaults.PotentiallyEligibleThreshold)
	viper.SetDefault("matching.needs_review_threshold", defaults.NeedsReviewThreshold)
	viper.SetDefault("matching.age_tolerance_years", defaults.AgeToleranceYears)
	viper.SetDefault("matching.risk_factor_threshold", defaults.RiskFactorThreshold)
	viper.SetDefault("matching.risk_factor_penalty", defaults.RiskFactorPenalty)
	viper.SetDefault("matching.strength_threshold", defaults.StrengthThreshold)
	viper.SetDefault("matching.concern_threshold", defaults.ConcernThreshold)
	viper.SetDefault("matching.max_match_reasons", defaults.MaxMatchReasons)
	viper.SetDefault("matching.workers", 8)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
	viper.SetDefault("logging.max_size", 100)
	viper.SetDefault("logging.max_backups", 3)
	viper.SetDefault("logging.max_age", 28)
	viper.SetDefault("logging.compress", true)
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *DatabaseConfig {
	return &m.config.Database
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *ServerConfig {
	return &m.config.Server
}

// GetRegistryConfig returns trial registry configuration
func (m *Manager) GetRegistryConfig() *RegistryConfig {
	return &m.config.Registry
}

// ScoringPolicy returns the configured scoring policy.
func (m *Manager) ScoringPolicy() *domain.ScoringPolicy {
	return &m.config.Matching.Policy
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	// Validate server configuration
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	// Validate database configuration
	if config.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if config.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if config.Database.Username == "" {
		return fmt.Errorf("database username is required")
	}

	// Validate history store configuration
	switch config.History.Driver {
	case "sqlite":
		if config.History.SQLitePath == "" {
			return fmt.Errorf("history sqlite path is required")
		}
	case "postgres":
		if config.History.DSN == "" {
			return fmt.Errorf("history postgres DSN is required")
		}
	default:
		return fmt.Errorf("invalid history driver: %s", config.History.Driver)
	}

	// Validate cache configuration
	if config.Cache.LRUSize <= 0 {
		return fmt.Errorf("cache LRU size must be positive: %d", config.Cache.LRUSize)
	}
	if config.Cache.RedisEnabled && config.Cache.RedisURL == "" {
		return fmt.Errorf("Redis URL is required when the Redis cache tier is enabled")
	}

	// Validate registry configuration
	if config.Registry.BaseURL == "" {
		return fmt.Errorf("trial registry base URL is required")
	}

	// Validate matching configuration
	if err := config.Matching.Policy.Validate(); err != nil {
		return err
	}
	if config.Matching.Workers <= 0 {
		return fmt.Errorf("matching workers must be positive: %d", config.Matching.Workers)
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetRedisConnectionString returns the Redis connection string
func (m *Manager) GetRedisConnectionString() string {
	return m.config.Cache.RedisURL
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(viper.GetString("environment")) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(viper.GetString("environment"))
	return env == "development" || env == "dev" || env == ""
}
