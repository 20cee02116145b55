// Package config provides configuration management and environment variable handling for the application
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/sms-dispatcher/utils"
	"github.com/joho/godotenv"
)

// ProductionConfig holds all configuration for production environment
type ProductionConfig struct {
	Database   DatabaseConfig   `json:"database"`
	Server     ServerConfig     `json:"server"`
	Security   SecurityConfig   `json:"security"`
	JWT        JWTConfig        `json:"jwt"`
	Gateway    SMSGatewayConfig `json:"gateway"`
	Dispatch   DispatchConfig   `json:"dispatch"`
	Logging    LoggingConfig    `json:"logging"`
	Metrics    MetricsConfig    `json:"metrics"`
	Cache      CacheConfig      `json:"cache"`
	Admin      AdminConfig      `json:"admin"`
	Deployment DeploymentConfig `json:"deployment"`
}

type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	AutoMigrate     bool          `json:"auto_migrate"`
}

type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	BodyLimit       int           `json:"body_limit"`
}

type SecurityConfig struct {
	AllowedOrigins   []string      `json:"allowed_origins"`
	AuthRateLimit    int           `json:"auth_rate_limit"`   // requests per minute
	GlobalRateLimit  int           `json:"global_rate_limit"` // requests per minute
	RateLimitWindow  time.Duration `json:"rate_limit_window"`
	BcryptCost       int           `json:"bcrypt_cost"`
	PasswordMinLen   int           `json:"password_min_length"`
	AllowCredentials bool          `json:"allow_credentials"`
}

type JWTConfig struct {
	SecretKey      string        `json:"secret_key"`
	AccessTokenTTL time.Duration `json:"access_token_ttl"`
	Issuer         string        `json:"issuer"`
	Audience       string        `json:"audience"`
}

// SMSGatewayConfig configures the XML-over-HTTP SMS gateway
type SMSGatewayConfig struct {
	URL               string        `json:"url"`
	Login             string        `json:"login"`
	Password          string        `json:"password"`
	SenderName        string        `json:"sender_name"`
	MessagesCountTick int           `json:"messages_count_tick"` // max recipients per SEND_SMS
	Timeout           time.Duration `json:"timeout"`
}

// DispatchConfig configures the dispatch engine's periodic tasks
type DispatchConfig struct {
	Enabled                bool          `json:"enabled"`
	AdmissionInterval      time.Duration `json:"admission_interval"`
	DispatchInterval       time.Duration `json:"dispatch_interval"`
	ReconciliationInterval time.Duration `json:"reconciliation_interval"`
	AdmissionCap           int           `json:"admission_cap"`
	MaxPollAttempts        int           `json:"max_poll_attempts"` // 0 disables the attempts bound
	MaxSentAge             time.Duration `json:"max_sent_age"`      // 0 disables the age bound
	IdleWakeInterval       time.Duration `json:"idle_wake_interval"`
	LeaderLockTTL          time.Duration `json:"leader_lock_ttl"`
	DefaultCountryCode     string        `json:"default_country_code"`
}

type LoggingConfig struct {
	Level      string `json:"level"`  // debug, info, warn, error
	Output     string `json:"output"` // stdout, file, both
	FilePath   string `json:"file_path"`
	MaxSize    int    `json:"max_size"` // MB
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // days
	Compress   bool   `json:"compress"`

	EnableAccessLog bool `json:"enable_access_log"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type CacheConfig struct {
	Enabled             bool          `json:"enabled"`
	Provider            string        `json:"provider"` // redis, memory
	RedisURL            string        `json:"redis_url"`
	RedisDB             int           `json:"redis_db"`
	RedisPrefix         string        `json:"redis_prefix"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
}

// AdminConfig holds the optional bootstrap admin created at startup
type AdminConfig struct {
	BootstrapUsername string `json:"bootstrap_username"`
	BootstrapPassword string `json:"-"`
}

type DeploymentConfig struct {
	Environment string `json:"environment"`
	Version     string `json:"version"`
	CommitHash  string `json:"commit_hash"`
}

// IsDevelopment reports whether non-production endpoints may be exposed
func (d DeploymentConfig) IsDevelopment() bool {
	return d.Environment == "development" || d.Environment == "local"
}

// LoadProductionConfig loads and validates configuration from environment variables
func LoadProductionConfig() (*ProductionConfig, error) {
	if err := loadEnvFile(".env"); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &ProductionConfig{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "postgres"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "require"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", false),
		},
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			BodyLimit:       getEnvInt("SERVER_BODY_LIMIT", 4*1024*1024), // 4MB
		},
		Security: SecurityConfig{
			AllowedOrigins:   getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			AuthRateLimit:    getEnvInt("AUTH_RATE_LIMIT", 20),
			GlobalRateLimit:  getEnvInt("GLOBAL_RATE_LIMIT", 600),
			RateLimitWindow:  getEnvDuration("RATE_LIMIT_WINDOW", 1*time.Minute),
			BcryptCost:       getEnvInt("BCRYPT_COST", 12),
			PasswordMinLen:   getEnvInt("PASSWORD_MIN_LENGTH", 8),
			AllowCredentials: getEnvBool("CORS_ALLOW_CREDENTIALS", false),
		},
		JWT: JWTConfig{
			SecretKey:      getEnvString("JWT_SECRET_KEY", ""),
			AccessTokenTTL: getEnvDuration("JWT_ACCESS_TOKEN_TTL", 12*time.Hour),
			Issuer:         getEnvString("JWT_ISSUER", "sms-dispatcher"),
			Audience:       getEnvString("JWT_AUDIENCE", "sms-dispatcher-admin"),
		},
		Gateway: SMSGatewayConfig{
			URL:               strings.TrimRight(getEnvString("SMS_GATEWAY_URL", ""), "/"),
			Login:             getEnvString("SMS_GATEWAY_LOGIN", ""),
			Password:          getEnvString("SMS_GATEWAY_PASSWORD", ""),
			SenderName:        getEnvString("SMS_GATEWAY_SENDER_NAME", ""),
			MessagesCountTick: getEnvInt("SMS_GATEWAY_MESSAGES_COUNT_TICK", utils.DefaultMessagesCountTick),
			Timeout:           getEnvDuration("SMS_GATEWAY_TIMEOUT", 60*time.Second),
		},
		Dispatch: DispatchConfig{
			Enabled:                getEnvBool("DISPATCH_ENABLED", true),
			AdmissionInterval:      getEnvDuration("DISPATCH_ADMISSION_INTERVAL", utils.DefaultAdmissionInterval),
			DispatchInterval:       getEnvDuration("DISPATCH_SEND_INTERVAL", utils.DefaultDispatchInterval),
			ReconciliationInterval: getEnvDuration("DISPATCH_RECONCILIATION_INTERVAL", utils.DefaultReconciliationInterval),
			AdmissionCap:           getEnvInt("DISPATCH_ADMISSION_CAP", utils.DefaultAdmissionCap),
			MaxPollAttempts:        getEnvInt("DISPATCH_MAX_POLL_ATTEMPTS", utils.DefaultMaxPollAttempts),
			MaxSentAge:             getEnvDuration("DISPATCH_MAX_SENT_AGE", utils.DefaultMaxSentAge),
			IdleWakeInterval:       getEnvDuration("DISPATCH_IDLE_WAKE_INTERVAL", utils.DefaultIdleWakeInterval),
			LeaderLockTTL:          getEnvDuration("DISPATCH_LEADER_LOCK_TTL", utils.DefaultLeaderLockTTL),
			DefaultCountryCode:     getEnvString("DISPATCH_DEFAULT_COUNTRY_CODE", utils.DefaultCountryCode),
		},
		Logging: LoggingConfig{
			Level:           getEnvString("LOG_LEVEL", "info"),
			Output:          getEnvString("LOG_OUTPUT", "both"),
			FilePath:        getEnvString("LOG_FILE_PATH", "data/scheduler.log"),
			MaxSize:         getEnvInt("LOG_MAX_SIZE", 100),
			MaxBackups:      getEnvInt("LOG_MAX_BACKUPS", 10),
			MaxAge:          getEnvInt("LOG_MAX_AGE", 30),
			Compress:        getEnvBool("LOG_COMPRESS", true),
			EnableAccessLog: getEnvBool("LOG_ENABLE_ACCESS", true),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnvString("METRICS_PATH", "/metrics"),
		},
		Cache: CacheConfig{
			Enabled:             getEnvBool("CACHE_ENABLED", true),
			Provider:            getEnvString("CACHE_PROVIDER", "redis"),
			RedisURL:            getEnvString("CACHE_REDIS_URL", "redis://localhost:6379"),
			RedisDB:             getEnvInt("CACHE_REDIS_DB", 0),
			RedisPrefix:         getEnvString("CACHE_REDIS_PREFIX", "sms-dispatcher:"),
			HealthCheckInterval: getEnvDuration("CACHE_HEALTH_CHECK_INTERVAL", 30*time.Second),
		},
		Admin: AdminConfig{
			BootstrapUsername: getEnvString("ADMIN_BOOTSTRAP_USERNAME", ""),
			BootstrapPassword: getEnvString("ADMIN_BOOTSTRAP_PASSWORD", ""),
		},
		Deployment: DeploymentConfig{
			Environment: getEnvString("APP_ENV", "production"),
			Version:     getEnvString("VERSION", "1.0.0"),
			CommitHash:  getEnvString("COMMIT_HASH", "unknown"),
		},
	}

	if err := ValidateProductionConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadEnvFile loads variables from path if it exists; variables already set in the
// process environment take precedence
func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// ValidateProductionConfig validates the production configuration
func ValidateProductionConfig(cfg *ProductionConfig) error {
	var errs []string

	// Database
	if cfg.Database.Host == "" {
		errs = append(errs, "DB_HOST is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		errs = append(errs, "DB_PORT must be between 1 and 65535")
	}
	if cfg.Database.Name == "" {
		errs = append(errs, "DB_NAME is required")
	}
	if cfg.Database.User == "" {
		errs = append(errs, "DB_USER is required")
	}

	// JWT
	if len(cfg.JWT.SecretKey) < 32 {
		errs = append(errs, "JWT_SECRET_KEY must be at least 32 characters long")
	}
	if cfg.JWT.AccessTokenTTL <= 0 {
		errs = append(errs, "JWT_ACCESS_TOKEN_TTL must be positive")
	}

	// Server
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "SERVER_PORT must be between 1 and 65535")
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Security
	if cfg.Security.BcryptCost < 10 || cfg.Security.BcryptCost > 14 {
		errs = append(errs, "BCRYPT_COST must be between 10 and 14")
	}

	// Gateway and dispatch, only when the engine runs
	if cfg.Dispatch.Enabled {
		if cfg.Gateway.URL == "" {
			errs = append(errs, "SMS_GATEWAY_URL is required when dispatch is enabled")
		} else if u, err := url.Parse(cfg.Gateway.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, "SMS_GATEWAY_URL must be an absolute URL")
		}
		if cfg.Gateway.Login == "" {
			errs = append(errs, "SMS_GATEWAY_LOGIN is required when dispatch is enabled")
		}
		if cfg.Gateway.SenderName == "" {
			errs = append(errs, "SMS_GATEWAY_SENDER_NAME is required when dispatch is enabled")
		}
		if cfg.Gateway.MessagesCountTick <= 0 {
			errs = append(errs, "SMS_GATEWAY_MESSAGES_COUNT_TICK must be positive")
		}
		if cfg.Dispatch.AdmissionInterval <= 0 || cfg.Dispatch.DispatchInterval <= 0 || cfg.Dispatch.ReconciliationInterval <= 0 {
			errs = append(errs, "DISPATCH_*_INTERVAL values must be positive")
		}
		if cfg.Dispatch.AdmissionCap <= 0 {
			errs = append(errs, "DISPATCH_ADMISSION_CAP must be positive")
		}
		if cfg.Dispatch.MaxPollAttempts < 0 {
			errs = append(errs, "DISPATCH_MAX_POLL_ATTEMPTS must not be negative")
		}
		if cfg.Dispatch.MaxSentAge < 0 {
			errs = append(errs, "DISPATCH_MAX_SENT_AGE must not be negative")
		}
	}

	// Logging
	validLevels := []string{"debug", "info", "warn", "error"}
	if cfg.Logging.Level != "" && !slices.Contains(validLevels, cfg.Logging.Level) {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL must be one of: %v", validLevels))
	}
	validOutputs := []string{"stdout", "file", "both"}
	if !slices.Contains(validOutputs, cfg.Logging.Output) {
		errs = append(errs, fmt.Sprintf("LOG_OUTPUT must be one of: %v", validOutputs))
	}
	if cfg.Logging.Output != "stdout" && cfg.Logging.FilePath == "" {
		errs = append(errs, "LOG_FILE_PATH is required when logging to a file")
	}

	// Cache
	if cfg.Cache.Enabled && cfg.Cache.Provider == "redis" && cfg.Cache.RedisURL == "" {
		errs = append(errs, "CACHE_REDIS_URL is required when cache is enabled with redis provider")
	}

	// Admin bootstrap
	if (cfg.Admin.BootstrapUsername == "") != (cfg.Admin.BootstrapPassword == "") {
		errs = append(errs, "ADMIN_BOOTSTRAP_USERNAME and ADMIN_BOOTSTRAP_PASSWORD must be set together")
	}
	if cfg.Admin.BootstrapPassword != "" && len(cfg.Admin.BootstrapPassword) < cfg.Security.PasswordMinLen {
		errs = append(errs, fmt.Sprintf("ADMIN_BOOTSTRAP_PASSWORD must be at least %d characters", cfg.Security.PasswordMinLen))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}
