// Package cli wires the OpenHands command tree: configuration management,
// project memory inspection, and the API server.
package cli

import (
	"fmt"

	configcmd "github.com/all-hands-ai/openhands/cli/cmd/config"
	memorycmd "github.com/all-hands-ai/openhands/cli/cmd/memory"
	servecmd "github.com/all-hands-ai/openhands/cli/cmd/serve"
	"github.com/all-hands-ai/openhands/pkg/config"
	"github.com/all-hands-ai/openhands/pkg/logger"
	"github.com/spf13/cobra"
)

// RootCmd builds the openhands root command.
func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "openhands",
		Short:         "OpenHands configuration and project memory tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupCommandContext(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if manager := config.ManagerFromContext(cmd.Context()); manager != nil {
				return manager.Close()
			}
			return nil
		},
	}

	root.PersistentFlags().String("config", "", "Path to the user config file (default ~/.openhands/config.toml)")
	root.PersistentFlags().String("env-file", "", "Load environment variables from a file before resolving config")
	root.PersistentFlags().Bool("log-json", false, "Emit logs as JSON")
	registerConfigFlags(root.PersistentFlags())

	root.AddCommand(
		configcmd.NewConfigCommand(),
		memorycmd.NewMemoryCommand(),
		servecmd.NewServeCommand(),
	)
	return root
}

// setupCommandContext resolves logging and configuration for every command:
// env file first, then the layered load with CLI overrides, and finally the
// logger and manager attached to the command context.
func setupCommandContext(cmd *cobra.Command) error {
	if err := loadEnvFile(cmd); err != nil {
		return err
	}
	logLevel, logJSON, debug, err := logger.GetLoggerConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.SetupLogger(logLevel, logJSON, debug)
	ctx := logger.ContextWithLogger(cmd.Context(), log)

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}

	manager := config.NewManager(config.NewService())
	manager.SetUserConfigPath(configPath)
	manager.SetCLIOverrides(extractCLIFlags(cmd.Flags()))
	if _, err := manager.Load(ctx); err != nil {
		return err
	}
	cmd.SetContext(config.ContextWithManager(ctx, manager))
	return nil
}
