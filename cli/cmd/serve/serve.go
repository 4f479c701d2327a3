// Package serve implements the `openhands serve` command.
package serve

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/all-hands-ai/openhands/engine/infra/server"
	"github.com/all-hands-ai/openhands/pkg/config"
	"github.com/all-hands-ai/openhands/pkg/logger"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the configuration and memory API server",
		RunE:  runServe,
	}
	cmd.Flags().String("host", "127.0.0.1", "Host interface to bind")
	cmd.Flags().Int("port", 3000, "Port to listen on")
	cmd.Flags().Bool("watch", true, "Hot-reload configuration when the user config file changes")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	host, err := cmd.Flags().GetString("host")
	if err != nil {
		return fmt.Errorf("failed to get host flag: %w", err)
	}
	port, err := cmd.Flags().GetInt("port")
	if err != nil {
		return fmt.Errorf("failed to get port flag: %w", err)
	}
	watch, err := cmd.Flags().GetBool("watch")
	if err != nil {
		return fmt.Errorf("failed to get watch flag: %w", err)
	}

	manager := config.ManagerFromContext(ctx)
	log := logger.FromContext(ctx)
	if watch {
		if err := manager.Watch(context.WithoutCancel(ctx)); err != nil {
			log.Warn("config file watching unavailable", "error", err)
		}
	}
	manager.OnChange(func(cfg *config.Config) {
		log.Info("configuration reloaded", "runtime", cfg.EffectiveRuntime())
	})
	return server.NewServer(manager, host, port).Run(ctx)
}
