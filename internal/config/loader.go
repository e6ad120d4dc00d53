package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Load loads configuration from an optional YAML file and environment
// variables. An empty configPath skips the file; a named file must exist.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		v := viper.New()
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	// Environment variables take precedence over the file
	if err := applyEnvironmentOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnvironmentOverrides applies environment variable overrides to config
func applyEnvironmentOverrides(cfg *Config) error {
	if nodeID := os.Getenv("BLOBNODE_NODE_ID"); nodeID != "" {
		cfg.Node.NodeID = nodeID
	}
	if dir := os.Getenv("BLOBNODE_STORAGE_DIR"); dir != "" {
		cfg.Storage.Dir = dir
	}

	if raw := os.Getenv("BLOBNODE_VERIFY_BEFORE_STREAM"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid BLOBNODE_VERIFY_BEFORE_STREAM: %w", err)
		}
		cfg.Chunks.VerifyBeforeStream = b
	}

	if raw := os.Getenv("BLOBNODE_TENANT_CACHE_SIZE"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid BLOBNODE_TENANT_CACHE_SIZE: %w", err)
		}
		cfg.Tenants.CacheSize = n
	}

	if raw := os.Getenv("BLOBNODE_DISK_GUARD_ENABLED"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid BLOBNODE_DISK_GUARD_ENABLED: %w", err)
		}
		cfg.Disk.Enabled = b
	}

	if raw := os.Getenv("BLOBNODE_SWEEP_GRACE_PERIOD"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid BLOBNODE_SWEEP_GRACE_PERIOD: %w", err)
		}
		cfg.Maintenance.GracePeriod = d
	}
	if raw := os.Getenv("BLOBNODE_SCRUB_CONCURRENCY"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid BLOBNODE_SCRUB_CONCURRENCY: %w", err)
		}
		cfg.Maintenance.ScrubConcurrency = n
	}

	if file := os.Getenv("BLOBNODE_METRICS_FILE"); file != "" {
		cfg.Metrics.File = file
	}

	// Logging configuration
	if logLevel := os.Getenv("BLOBNODE_LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat := os.Getenv("BLOBNODE_LOG_FORMAT"); logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	return nil
}
