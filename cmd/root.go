package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/pop-os/launcher/internal/config"
	"github.com/pop-os/launcher/internal/registry"
	"github.com/pop-os/launcher/internal/service"
)

// NewRootCommand creates the launcher command tree. Invoking the binary
// with no subcommand runs the service over stdin/stdout.
func NewRootCommand(version, commit, date string) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "pop-launcher",
		Short: "Modular, process-isolated desktop launcher service",
		Long: `pop-launcher mediates between a search frontend and a set of plugin
worker processes. The frontend writes line-delimited JSON requests to the
service's stdin and reads responses from its stdout; plugins speak the same
codec over their own standard streams.

Diagnostics go to stderr only; stdout is reserved for the protocol.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(configPath)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the service configuration file")

	rootCmd.AddCommand(newPluginsCommand(&configPath))
	rootCmd.AddCommand(newProbeCommand())

	return rootCmd
}

func runService(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := newLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	reg := loadRegistry(cfg, log)
	svc := service.New(log.Named("service"), reg, os.Stdout)

	if err := svc.Run(ctx, os.Stdin); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func newLogger(cfg *config.Config) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "pop-launcher",
		Level:  hclog.LevelFromString(cfg.LogLevel),
		Output: os.Stderr,
	})
}

func loadRegistry(cfg *config.Config, log hclog.Logger) *registry.Registry {
	dirs := cfg.PluginDirs
	if len(dirs) == 0 {
		dirs = registry.DefaultPaths()
	}
	return registry.Load(log.Named("registry"), dirs...)
}
