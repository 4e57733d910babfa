// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/dvoram/cadence/internal/utils"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	LogLevel string
	DevMode  bool

	// Scheduling
	HorizonHours       int           // Default planning horizon for schedule generation
	WorkerCount        int           // Bounded worker pool size for per-item scoring
	PatternCacheTTL    time.Duration // TTL for pattern store cache entries
	ExternalTimeout    time.Duration // Timeout budget for pattern/signal/trigger/feedback calls
	ReoptimizeEvery    time.Duration // Reoptimization sweep interval
	PatternRefreshCron string        // Cron spec for the pattern refresh sweep
	RefreshPlatforms   []string      // Platforms to re-warm (empty = all known platforms)

	// Signal feed
	SignalFeedURL string // WebSocket URL of the live trending-signal feed (empty = neutral signals only)

	// Backup (S3-compatible object storage)
	Backup *BackupConfig
}

// BackupConfig holds off-site backup configuration
type BackupConfig struct {
	Enabled       bool
	Endpoint      string // S3-compatible endpoint URL
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	RetentionDays int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Determine data directory, resolve to absolute path, ensure it exists
	dataDir := getEnv("CADENCE_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		HorizonHours:       getEnvAsInt("SCHEDULE_HORIZON_HOURS", 72),
		WorkerCount:        getEnvAsInt("SCHEDULE_WORKERS", 4),
		PatternCacheTTL:    getEnvAsDuration("PATTERN_CACHE_TTL", 15*time.Minute),
		ExternalTimeout:    getEnvAsDuration("EXTERNAL_CALL_TIMEOUT", 10*time.Second),
		ReoptimizeEvery:    getEnvAsDuration("REOPTIMIZE_INTERVAL", 5*time.Minute),
		PatternRefreshCron: getEnv("PATTERN_REFRESH_CRON", "*/15 * * * *"),
		RefreshPlatforms:   utils.ParseCSV(getEnv("PATTERN_REFRESH_PLATFORMS", "")),

		SignalFeedURL: getEnv("SIGNAL_FEED_URL", ""),

		Backup: loadBackupConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.HorizonHours < 1 {
		return fmt.Errorf("SCHEDULE_HORIZON_HOURS must be at least 1, got %d", c.HorizonHours)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("SCHEDULE_WORKERS must be at least 1, got %d", c.WorkerCount)
	}
	if c.Backup != nil && c.Backup.Enabled {
		if c.Backup.Bucket == "" {
			return fmt.Errorf("BACKUP_BUCKET required when backups are enabled")
		}
	}
	return nil
}

// loadBackupConfig loads backup configuration from environment variables
func loadBackupConfig() *BackupConfig {
	return &BackupConfig{
		Enabled:       getEnvAsBool("BACKUP_ENABLED", false),
		Endpoint:      getEnv("BACKUP_S3_ENDPOINT", ""),
		Region:        getEnv("BACKUP_S3_REGION", "us-east-1"),
		Bucket:        getEnv("BACKUP_BUCKET", ""),
		AccessKey:     getEnv("BACKUP_ACCESS_KEY", ""),
		SecretKey:     getEnv("BACKUP_SECRET_KEY", ""),
		RetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
