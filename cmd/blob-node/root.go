package main

import (
	"context"
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/devrev/pairdb/blob-node/internal/config"
	"github.com/devrev/pairdb/blob-node/internal/node"
)

// app carries state shared by every command of one invocation. The node is
// opened lazily so that commands like "config show" never touch the root.
type app struct {
	configPath  string
	storageDir  string
	logLevel    string
	metricsFile string

	stderr   io.Writer
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	node     *node.Node
}

func newApp(stderr io.Writer) *app {
	return &app{stderr: stderr, logger: zap.NewNop()}
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "blob-node",
		Short:         "Multitenant blob storage on a single node",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&a.storageDir, "storage-dir", "", "storage root directory (overrides config)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&a.metricsFile, "metrics-file", "", "write a Prometheus text snapshot here on exit")

	cmd.AddCommand(newRegisterTenantCmd(a))
	cmd.AddCommand(newListTenantsCmd(a))
	cmd.AddCommand(newPutCmd(a))
	cmd.AddCommand(newGetCmd(a))
	cmd.AddCommand(newStatCmd(a))
	cmd.AddCommand(newListBlobsCmd(a))
	cmd.AddCommand(newDeleteCmd(a))
	cmd.AddCommand(newScrubCmd(a))
	cmd.AddCommand(newSweepCmd(a))
	cmd.AddCommand(newHealthCmd(a))
	cmd.AddCommand(newConfigCmd(a))
	return cmd
}

// loadConfig resolves configuration in order: defaults, file, environment,
// then flags.
func (a *app) loadConfig() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.storageDir != "" {
		cfg.Storage.Dir = a.storageDir
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.metricsFile != "" {
		cfg.Metrics.File = a.metricsFile
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging, a.stderr)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// open returns the node for the configured storage root, opening it on
// first use.
func (a *app) open() (*node.Node, error) {
	if a.node != nil {
		return a.node, nil
	}
	a.registry = prometheus.NewRegistry()
	n, err := node.Open(a.cfg, a.logger, a.registry)
	if err != nil {
		return nil, err
	}
	a.node = n
	return n, nil
}

// close writes the metrics snapshot, if one was requested, and closes the
// node.
func (a *app) close(ctx context.Context) error {
	defer func() { _ = a.logger.Sync() }()
	if a.node == nil {
		return nil
	}

	var result *multierror.Error
	if a.cfg.Metrics.File != "" {
		if err := a.node.RefreshGauges(ctx); err != nil {
			a.logger.Warn("Failed to refresh gauges", zap.Error(err))
		}
		if err := prometheus.WriteToTextfile(a.cfg.Metrics.File, a.registry); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to write metrics: %w", err))
		}
	}
	if err := a.node.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	a.node = nil
	return result.ErrorOrNil()
}

// newLogger builds a zap logger writing to w
func newLogger(cfg config.LoggingConfig, w io.Writer) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(w), level)
	return zap.New(core, zap.AddCaller()), nil
}
