// Package main is the entry point for the plugin host.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/forumkit/pluginhost/internal/config"
	"github.com/forumkit/pluginhost/internal/hooks"
	"github.com/forumkit/pluginhost/internal/host"
	"github.com/forumkit/pluginhost/internal/monitoring"
	"github.com/forumkit/pluginhost/internal/plugins"
	"github.com/forumkit/pluginhost/internal/store"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "pluginhost",
		Short: "Extensible application host with a plugin hook system",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.AddCommand(newServeCmd(), newVersionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pluginhost %s\n", Version)
		},
	}
}

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the plugin host server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			return serve(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	return cmd
}

// loadEnvFiles loads .env from standard locations before the config file
// is read, so ${VAR:-default} expansion sees them.
func loadEnvFiles() {
	if homeDir, err := os.UserHomeDir(); err == nil {
		configEnv := filepath.Join(homeDir, ".config", "pluginhost", ".env")
		if _, err := os.Stat(configEnv); err == nil {
			_ = godotenv.Load(configEnv)
		}
	}

	// Local .env can override.
	_ = godotenv.Load()
}

func serve(configPath string) error {
	loadEnvFiles()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	monitoring.Global(cfg.Logging)

	log.Info().
		Str("version", Version).
		Str("config", configPath).
		Str("addr", cfg.Server.Addr).
		Msg("plugin host starting")

	registry := hooks.NewRegistry()
	dispatcher := hooks.NewDispatcher(registry,
		hooks.WithActionWorkers(cfg.Hooks.ActionWorkers),
		hooks.WithActionQueueSize(cfg.Hooks.ActionQueueSize),
		hooks.WithStaticTimeout(cfg.Hooks.StaticTimeout),
	)
	defer dispatcher.Close()

	var state *plugins.StateStore
	if cfg.Plugins.StateDB != "" {
		state, err = plugins.OpenState(cfg.Plugins.StateDB)
		if err != nil {
			return fmt.Errorf("failed to open plugin state db: %w", err)
		}
		defer state.Close()
	}

	manager := plugins.NewManager(registry, state, cfg.Plugins.Dir)
	registerBuiltins(manager)

	sessions := store.NewMemoryStore(cfg.Sessions.TTL)
	defer sessions.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.Restore(ctx); err != nil {
		return fmt.Errorf("failed to restore plugins: %w", err)
	}

	srv := host.New(cfg, dispatcher, manager, sessions)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx)
	})
	if cfg.Plugins.Watch {
		watcher, err := plugins.NewWatcher(manager, cfg.Plugins.Dir)
		if err != nil {
			return fmt.Errorf("failed to start plugin watcher: %w", err)
		}
		g.Go(func() error {
			return watcher.Run(ctx)
		})
	}

	err = g.Wait()
	if err != nil && err != ctx.Err() {
		return err
	}
	log.Info().Msg("plugin host stopped")
	return nil
}
