// Package main implements the memsync CLI, which brings a memory metadata
// store and the vector index serving it back into agreement.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memsync/internal/config"
	"github.com/fyrsmithlabs/memsync/internal/logging"
	"github.com/fyrsmithlabs/memsync/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

// globalFlags holds the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if errors.Is(err, errOutOfSync) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "memsync",
		Short: "Reconcile a memory metadata store with its vector index",
		Long: `memsync keeps a long-term memory metadata store and its ANN vector index
in agreement. It drops records that are invalid, low-confidence, duplicated
or over a per-subject cap, and removes index vectors no record points at.

Configuration is read from ~/.config/memsync/config.yaml (or --config),
then MEMSYNC_* environment variables, then command line flags.`,
		Version:      fmt.Sprintf("%s (commit %s)", version, gitCommit),
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&g.configPath, "config", "", "config file (default: ~/.config/memsync/config.yaml)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "log format: console or json")

	cmd.AddCommand(newReconcileCmd(g))
	cmd.AddCommand(newCheckCmd(g))
	return cmd
}

// loadConfig loads file and environment configuration, then applies the
// global flags on top.
func (g *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Logging.Format = g.logFormat
	}
	return cfg, nil
}

// initLogger builds the structured logger. Logs go to stderr so reports on
// stdout stay machine-readable.
func initLogger(cfg *config.Config) (*logging.Logger, error) {
	lc, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(lc)
}

// initTelemetry starts trace export when enabled. A degraded exporter is
// logged and the run continues.
func initTelemetry(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*telemetry.Telemetry, error) {
	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return nil, err
	}
	if err := tel.Err(); err != nil {
		logger.Warn(ctx, "trace export disabled", zap.Error(err))
	}
	return tel, nil
}
