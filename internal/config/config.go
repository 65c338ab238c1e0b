// Package config provides configuration management for oat-db, grounded
// on the teacher's viper-backed Config struct and defaults-then-env
// loading style (SPEC_FULL §6, ambient stack).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Solve      SolveConfig      `mapstructure:"solve"`
	Realtime   RealtimeConfig   `mapstructure:"realtime"`
	Security   SecurityConfig   `mapstructure:"security"`
	Performance PerformanceConfig `mapstructure:"performance"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BasePath     string        `mapstructure:"base_path"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig contains Postgres connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Driver          string        `mapstructure:"driver"` // "postgres" | "memory"
}

// RedisConfig contains the optional view-cache Redis connection settings.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	Database     int           `mapstructure:"database"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ViewCacheTTL time.Duration `mapstructure:"view_cache_ttl"`
}

// JWTConfig contains the optional bearer-token identity layer's settings.
type JWTConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Secret     string        `mapstructure:"secret"`
	Issuer     string        `mapstructure:"issuer"`
	AccessTTL  time.Duration `mapstructure:"access_ttl"`
}

// LoggingConfig contains zap logger settings.
type LoggingConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"`
	OutputPaths []string `mapstructure:"output_paths"`
	Development bool     `mapstructure:"development"`
}

// SolveConfig contains default solve-pipeline policy values.
type SolveConfig struct {
	CrossBranchPolicy      string `mapstructure:"cross_branch_policy"`
	MissingInstancePolicy  string `mapstructure:"missing_instance_policy"`
	EmptySelectionPolicy   string `mapstructure:"empty_selection_policy"`
	MaxSelectionSize       int    `mapstructure:"max_selection_size"`
}

// RealtimeConfig contains websocket hub settings.
type RealtimeConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// SecurityConfig contains CORS settings.
type SecurityConfig struct {
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
	CORSAllowedMethods []string `mapstructure:"cors_allowed_methods"`
	CORSAllowedHeaders []string `mapstructure:"cors_allowed_headers"`
}

// PerformanceConfig contains the request rate limit, applied per
// (database, caller) bucket.
type PerformanceConfig struct {
	RateLimitEnabled        bool `mapstructure:"rate_limit_enabled"`
	RateLimitRequestsPerSec int  `mapstructure:"rate_limit_requests_per_sec"`
	RateLimitBurst          int  `mapstructure:"rate_limit_burst"`
}

// Load loads configuration from ./config.yaml (if present) and
// OAT_-prefixed environment variables, falling back to defaults.
func Load() (*Config, error) {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.base_path", "/api/v1")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.username", "oatdb")
	viper.SetDefault("database.database", "oatdb")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "300s")
	viper.SetDefault("database.driver", "memory")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.view_cache_ttl", "10m")

	viper.SetDefault("jwt.enabled", false)
	viper.SetDefault("jwt.issuer", "oat-db")
	viper.SetDefault("jwt.access_ttl", "1h")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output_paths", []string{"stdout"})
	viper.SetDefault("logging.development", false)

	viper.SetDefault("solve.cross_branch_policy", "reject")
	viper.SetDefault("solve.missing_instance_policy", "fail")
	viper.SetDefault("solve.empty_selection_policy", "allow")
	viper.SetDefault("solve.max_selection_size", 10000)

	viper.SetDefault("realtime.enabled", true)

	viper.SetDefault("security.cors_allowed_origins", []string{"*"})
	viper.SetDefault("security.cors_allowed_methods", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})
	viper.SetDefault("security.cors_allowed_headers", []string{"*"})

	viper.SetDefault("performance.rate_limit_enabled", true)
	viper.SetDefault("performance.rate_limit_requests_per_sec", 50)
	viper.SetDefault("performance.rate_limit_burst", 100)

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/oat-db")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("OAT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	overrideWithEnv(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// overrideWithEnv applies secret-bearing environment variables viper's
// automatic env binding handles less predictably for nested keys.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("OAT_DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("OAT_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("OAT_JWT_SECRET"); v != "" {
		cfg.JWT.Secret = v
		cfg.JWT.Enabled = true
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Database.Driver != "memory" && cfg.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver %q", cfg.Database.Driver)
	}
	if cfg.Database.Driver == "postgres" && cfg.Database.Database == "" {
		return fmt.Errorf("database name is required for the postgres driver")
	}
	if cfg.JWT.Enabled && len(cfg.JWT.Secret) < 32 {
		return fmt.Errorf("jwt secret must be at least 32 characters when jwt is enabled")
	}
	if cfg.Solve.MaxSelectionSize < 1 {
		return fmt.Errorf("solve max_selection_size must be at least 1")
	}
	if cfg.Performance.RateLimitRequestsPerSec < 1 {
		return fmt.Errorf("performance rate_limit_requests_per_sec must be at least 1")
	}
	return nil
}

// DatabaseDSN returns the Postgres connection string.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.Username,
		c.Database.Password, c.Database.Database, c.Database.SSLMode,
	)
}

// RedisAddr returns the Redis connection address.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// ServerAddr returns the HTTP server listen address.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// BuildLogger creates a zap logger from the configured logging settings.
func (c *Config) BuildLogger() (*zap.Logger, error) {
	var zcfg zap.Config
	if c.Logging.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(c.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Logging.Level, err)
	}
	zcfg.Level = level
	zcfg.OutputPaths = c.Logging.OutputPaths
	if c.Logging.Format == "console" {
		zcfg.Encoding = "console"
	} else {
		zcfg.Encoding = "json"
	}
	return zcfg.Build()
}
