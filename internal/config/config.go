// Package config handles application configuration loading and validation.
// Configuration is resolved from three sources with priority order:
// environment variables, then a JSON configuration file, then defaults.
// A .env file in the working directory is loaded into the environment first.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// AppConfig is the root application configuration.
type AppConfig struct {
	AppName  string         `json:"app_name" env:"APP_NAME"`
	Version  string         `json:"version" env:"VERSION"`
	Bridge   BridgeConfig   `json:"bridge"`
	Cache    CacheConfig    `json:"cache"`
	Quality  QualityConfig  `json:"quality"`
	Universe UniverseConfig `json:"universe"`
	Logging  LoggingConfig  `json:"logging"`
}

// BridgeConfig configures the vendor interpreter bridge.
type BridgeConfig struct {
	Interpreter     string  `json:"interpreter" env:"BRIDGE_INTERPRETER"`       // Vendor interpreter executable
	VendorModule    string  `json:"vendor_module" env:"BRIDGE_VENDOR_MODULE"`   // Vendor API module name
	TimeoutSeconds  int     `json:"timeout_seconds" env:"BRIDGE_TIMEOUT"`       // Per-call subprocess timeout
	RateLimitPerSec float64 `json:"rate_limit_per_sec" env:"BRIDGE_RATE_LIMIT"` // Max vendor calls per second
	RetryAttempts   int     `json:"retry_attempts" env:"BRIDGE_RETRY_ATTEMPTS"` // Tries for transient failures
}

// CacheConfig configures the local price cache.
type CacheConfig struct {
	DatabasePath string `json:"database_path" env:"CACHE_DATABASE_PATH"` // DuckDB file path or :memory:
	ExportDir    string `json:"export_dir" env:"CACHE_EXPORT_DIR"`       // Directory for parquet exports
}

// QualityConfig configures the validation scanner thresholds.
type QualityConfig struct {
	GapThresholdDays       int     `json:"gap_threshold_days" env:"QUALITY_GAP_THRESHOLD"`             // Business-day gap threshold
	JumpThresholdPct       float64 `json:"jump_threshold_pct" env:"QUALITY_JUMP_THRESHOLD"`            // Fractional jump threshold
	DelistingThresholdDays int     `json:"delisting_threshold_days" env:"QUALITY_DELISTING_THRESHOLD"` // Calendar-day staleness threshold
}

// UniverseConfig configures point-in-time constituent resolution.
type UniverseConfig struct {
	WindowDays     int `json:"window_days" env:"UNIVERSE_WINDOW_DAYS"` // Membership window half-width
	TimeoutSeconds int `json:"timeout_seconds" env:"UNIVERSE_TIMEOUT"` // Per-symbol lookup timeout
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`             // Log level: debug, info, warn, error
	Format     string `json:"format" env:"LOG_FORMAT"`           // Log format: json, text
	Output     string `json:"output" env:"LOG_OUTPUT"`           // Output: stdout, stderr, file
	FilePath   string `json:"file_path" env:"LOG_FILE_PATH"`     // Log file path
	MaxSize    int    `json:"max_size" env:"LOG_MAX_SIZE"`       // Maximum log file size in MB
	MaxBackups int    `json:"max_backups" env:"LOG_MAX_BACKUPS"` // Maximum log file backups
	MaxAge     int    `json:"max_age" env:"LOG_MAX_AGE"`         // Maximum log file age in days
	Compress   bool   `json:"compress" env:"LOG_COMPRESS"`       // Compress old log files
}

// DefaultConfig returns the default configuration values.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		AppName: "priceq",
		Version: "1.0.0",
		Bridge: BridgeConfig{
			Interpreter:     "python.exe",
			VendorModule:    "norgatedata",
			TimeoutSeconds:  30,
			RateLimitPerSec: 10,
			RetryAttempts:   3,
		},
		Cache: CacheConfig{
			DatabasePath: "data/price_cache.db",
			ExportDir:    "data/exports",
		},
		Quality: QualityConfig{
			GapThresholdDays:       10,
			JumpThresholdPct:       0.40,
			DelistingThresholdDays: 30,
		},
		Universe: UniverseConfig{
			WindowDays:     5,
			TimeoutSeconds: 300,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// Manager handles configuration loading and validation.
type Manager struct {
	configPath string
	logger     *slog.Logger
}

// NewManager creates a configuration manager. If logger is nil,
// slog.Default() is used.
func NewManager(configPath string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{configPath: configPath, logger: logger}
}

// Load resolves configuration from defaults, the JSON file (if present) and
// environment variables, then validates the result. A missing .env file is
// not an error.
func (m *Manager) Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		m.logger.Debug("no .env file loaded", "error", err)
	}

	cfg := DefaultConfig()

	if m.configPath != "" {
		if err := m.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	m.loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	m.logger.Info("configuration loaded",
		"config_path", m.configPath,
		"cache_path", cfg.Cache.DatabasePath,
		"log_level", cfg.Logging.Level)

	return cfg, nil
}

func (m *Manager) loadFromFile(cfg *AppConfig) error {
	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		m.logger.Debug("config file does not exist, using defaults", "path", m.configPath)
		return nil
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", m.configPath, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", m.configPath, err)
	}
	return nil
}

func (m *Manager) loadFromEnv(cfg *AppConfig) {
	setString(&cfg.AppName, "APP_NAME")
	setString(&cfg.Version, "VERSION")

	setString(&cfg.Bridge.Interpreter, "BRIDGE_INTERPRETER")
	setString(&cfg.Bridge.VendorModule, "BRIDGE_VENDOR_MODULE")
	setInt(&cfg.Bridge.TimeoutSeconds, "BRIDGE_TIMEOUT")
	setFloat(&cfg.Bridge.RateLimitPerSec, "BRIDGE_RATE_LIMIT")
	setInt(&cfg.Bridge.RetryAttempts, "BRIDGE_RETRY_ATTEMPTS")

	setString(&cfg.Cache.DatabasePath, "CACHE_DATABASE_PATH")
	setString(&cfg.Cache.ExportDir, "CACHE_EXPORT_DIR")

	setInt(&cfg.Quality.GapThresholdDays, "QUALITY_GAP_THRESHOLD")
	setFloat(&cfg.Quality.JumpThresholdPct, "QUALITY_JUMP_THRESHOLD")
	setInt(&cfg.Quality.DelistingThresholdDays, "QUALITY_DELISTING_THRESHOLD")

	setInt(&cfg.Universe.WindowDays, "UNIVERSE_WINDOW_DAYS")
	setInt(&cfg.Universe.TimeoutSeconds, "UNIVERSE_TIMEOUT")

	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")
	setString(&cfg.Logging.Output, "LOG_OUTPUT")
	setString(&cfg.Logging.FilePath, "LOG_FILE_PATH")
	setInt(&cfg.Logging.MaxSize, "LOG_MAX_SIZE")
	setInt(&cfg.Logging.MaxBackups, "LOG_MAX_BACKUPS")
	setInt(&cfg.Logging.MaxAge, "LOG_MAX_AGE")
	if val := os.Getenv("LOG_COMPRESS"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Logging.Compress = b
		}
	}
}

func setString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func setInt(dst *int, key string) {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

// Validate checks the configuration for invalid or inconsistent values.
func (c *AppConfig) Validate() error {
	if c.Bridge.Interpreter == "" {
		return fmt.Errorf("bridge interpreter cannot be empty")
	}
	if c.Bridge.VendorModule == "" {
		return fmt.Errorf("bridge vendor module cannot be empty")
	}
	if c.Bridge.TimeoutSeconds <= 0 {
		return fmt.Errorf("bridge timeout must be positive, got %d", c.Bridge.TimeoutSeconds)
	}
	if c.Bridge.RateLimitPerSec <= 0 {
		return fmt.Errorf("bridge rate limit must be positive, got %f", c.Bridge.RateLimitPerSec)
	}
	if c.Bridge.RetryAttempts <= 0 {
		return fmt.Errorf("bridge retry attempts must be positive, got %d", c.Bridge.RetryAttempts)
	}

	if c.Cache.DatabasePath == "" {
		return fmt.Errorf("cache database path cannot be empty")
	}

	if c.Quality.GapThresholdDays <= 0 {
		return fmt.Errorf("gap threshold must be positive, got %d", c.Quality.GapThresholdDays)
	}
	if c.Quality.JumpThresholdPct <= 0 {
		return fmt.Errorf("jump threshold must be positive, got %f", c.Quality.JumpThresholdPct)
	}
	if c.Quality.DelistingThresholdDays <= 0 {
		return fmt.Errorf("delisting threshold must be positive, got %d", c.Quality.DelistingThresholdDays)
	}

	if c.Universe.WindowDays <= 0 {
		return fmt.Errorf("universe window must be positive, got %d", c.Universe.WindowDays)
	}
	if c.Universe.TimeoutSeconds <= 0 {
		return fmt.Errorf("universe timeout must be positive, got %d", c.Universe.TimeoutSeconds)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}
	switch c.Logging.Output {
	case "stdout", "stderr":
	case "file":
		if c.Logging.FilePath == "" {
			return fmt.Errorf("log file path is required when output is 'file'")
		}
	default:
		return fmt.Errorf("invalid log output: %s", c.Logging.Output)
	}

	return nil
}
