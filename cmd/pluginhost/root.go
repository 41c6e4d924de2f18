package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/pluginhost/internal/adapters/logging"
	"github.com/felixgeelhaar/pluginhost/internal/app"
	"github.com/felixgeelhaar/pluginhost/internal/domain/config"
	"github.com/felixgeelhaar/pluginhost/internal/ports"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "pluginhost",
	Short: "A sandboxed plugin runtime",
	Long: `Pluginhost discovers, installs, and runs plugins inside a resource
sandbox. Plugins declare dependencies, capability levels, and resource
limits in yaml manifests; the runtime resolves the dependency graph,
drives lifecycle transitions, and enforces limits during execution.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: pluginhost.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// newRuntime builds and starts the orchestrator for one command
// invocation. The returned shutdown function stops it.
func newRuntime(ctx context.Context) (*app.Orchestrator, func(), error) {
	path := cfgFile
	if path == "" {
		path = "pluginhost.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	level := ports.LevelInfo
	if verbose {
		level = ports.LevelDebug
	} else if parsed, ok := ports.ParseLevel(cfg.Logging.Level); ok {
		level = parsed
	}
	logger := logging.NewConsoleLogger(
		logging.WithLevel(level),
		logging.WithJSONFormat(cfg.Logging.JSON),
	)

	orchestrator, err := app.New(cfg, app.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	if err := orchestrator.Start(ctx); err != nil {
		return nil, nil, err
	}
	return orchestrator, func() { _ = orchestrator.Stop(ctx) }, nil
}
