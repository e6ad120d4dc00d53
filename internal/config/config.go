package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

const (
	chunkDirName    = "chunks"
	metadataDirName = "metadata"
)

// Config represents the blob node configuration
type Config struct {
	Node        NodeConfig        `mapstructure:"node" yaml:"node"`
	Storage     StorageConfig     `mapstructure:"storage" yaml:"storage"`
	Chunks      ChunkConfig       `mapstructure:"chunks" yaml:"chunks"`
	Tenants     TenantConfig      `mapstructure:"tenants" yaml:"tenants"`
	Disk        DiskConfig        `mapstructure:"disk" yaml:"disk"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance" yaml:"maintenance"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// NodeConfig identifies this node in logs and metrics
type NodeConfig struct {
	NodeID string `mapstructure:"node_id" yaml:"node_id"`
}

// StorageConfig locates the storage root. Chunks and metadata live in
// fixed subdirectories of it.
type StorageConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// ChunkConfig controls chunk reads
type ChunkConfig struct {
	// VerifyBeforeStream withholds content until its digest has been checked
	VerifyBeforeStream bool `mapstructure:"verify_before_stream" yaml:"verify_before_stream"`
}

// TenantConfig controls the tenant registry
type TenantConfig struct {
	CacheSize   int `mapstructure:"cache_size" yaml:"cache_size"`
	MaxNameSize int `mapstructure:"max_name_size" yaml:"max_name_size"`
}

// DiskConfig controls the disk space guard on writes
type DiskConfig struct {
	Enabled                 bool          `mapstructure:"enabled" yaml:"enabled"`
	CheckInterval           time.Duration `mapstructure:"check_interval" yaml:"check_interval"`
	WarningThreshold        float64       `mapstructure:"warning_threshold" yaml:"warning_threshold"`
	ThrottleThreshold       float64       `mapstructure:"throttle_threshold" yaml:"throttle_threshold"`
	CircuitBreakerThreshold float64       `mapstructure:"circuit_breaker_threshold" yaml:"circuit_breaker_threshold"`
}

// MaintenanceConfig controls orphan sweeps and scrubs
type MaintenanceConfig struct {
	GracePeriod      time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
	ScrubConcurrency int           `mapstructure:"scrub_concurrency" yaml:"scrub_concurrency"`
	ScrubRate        float64       `mapstructure:"scrub_rate" yaml:"scrub_rate"`
}

// MetricsConfig controls the metrics snapshot. There is no listener; the
// registry is written to File in Prometheus text format when set.
type MetricsConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ChunkDir returns the chunk directory under the storage root
func (c *Config) ChunkDir() string {
	return filepath.Join(c.Storage.Dir, chunkDirName)
}

// MetadataDir returns the KV database directory under the storage root
func (c *Config) MetadataDir() string {
	return filepath.Join(c.Storage.Dir, metadataDirName)
}

// Validate validates the configuration and fills in derived defaults
func (c *Config) Validate() error {
	if c.Storage.Dir == "" {
		return errors.New("storage.dir is required")
	}
	if c.Node.NodeID == "" {
		return errors.New("node.node_id is required")
	}
	if c.Tenants.CacheSize < 0 {
		return errors.New("tenants.cache_size cannot be negative")
	}
	if c.Tenants.MaxNameSize <= 0 {
		return errors.New("tenants.max_name_size must be positive")
	}
	if c.Disk.Enabled {
		if c.Disk.CheckInterval <= 0 {
			return errors.New("disk.check_interval must be positive")
		}
		if !(c.Disk.WarningThreshold <= c.Disk.ThrottleThreshold && c.Disk.ThrottleThreshold <= c.Disk.CircuitBreakerThreshold) {
			return errors.New("disk thresholds must satisfy warning <= throttle <= circuit_breaker")
		}
		if c.Disk.CircuitBreakerThreshold > 100 {
			return errors.New("disk.circuit_breaker_threshold cannot exceed 100")
		}
	}
	if c.Maintenance.GracePeriod < 0 {
		return errors.New("maintenance.grace_period cannot be negative")
	}
	if c.Maintenance.ScrubConcurrency <= 0 {
		return errors.New("maintenance.scrub_concurrency must be positive")
	}
	if c.Maintenance.ScrubRate < 0 {
		return errors.New("maintenance.scrub_rate cannot be negative")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if !isValidLogLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error (got %q)", c.Logging.Level)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return errors.New("logging.format must be one of: json, console")
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			NodeID: "blob-node-1",
		},
		Storage: StorageConfig{
			Dir: "./data",
		},
		Chunks: ChunkConfig{
			VerifyBeforeStream: false,
		},
		Tenants: TenantConfig{
			CacheSize:   1024,
			MaxNameSize: 256,
		},
		Disk: DiskConfig{
			Enabled:                 true,
			CheckInterval:           10 * time.Second,
			WarningThreshold:        80.0,
			ThrottleThreshold:       90.0,
			CircuitBreakerThreshold: 95.0,
		},
		Maintenance: MaintenanceConfig{
			GracePeriod:      time.Hour,
			ScrubConcurrency: 4,
			ScrubRate:        0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
