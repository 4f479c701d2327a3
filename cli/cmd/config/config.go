// Package config implements the `openhands config` command group.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/all-hands-ai/openhands/pkg/config"
	"github.com/all-hands-ai/openhands/pkg/logger"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management and diagnostics",
	}
	cmd.AddCommand(
		newShowCommand(),
		newGetCommand(),
		newSetCommand(),
		newValidateCommand(),
		newDiagnosticsCommand(),
		newResetCommand(),
	)
	return cmd
}

func newShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration",
		RunE:  runShow,
	}
	cmd.Flags().StringP("format", "f", "toml", "Output format (json, yaml, toml)")
	cmd.Flags().Bool("sources", false, "Include per-source load information")
	return cmd
}

func runShow(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	manager := config.ManagerFromContext(ctx)
	data, err := redactedConfigMap(manager.Get())
	if err != nil {
		return err
	}
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}
	withSources, err := cmd.Flags().GetBool("sources")
	if err != nil {
		return fmt.Errorf("failed to get sources flag: %w", err)
	}
	var output any = data
	if withSources {
		output = map[string]any{
			"configuration":    data,
			"sources":          manager.SourceInfos(),
			"requires_restart": manager.RestartRequired(),
		}
	}
	return writeFormatted(cmd.OutOrStdout(), output, format)
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get one configuration value by dotted key",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	}
}

func runGet(cmd *cobra.Command, args []string) error {
	manager := config.ManagerFromContext(cmd.Context())
	data, err := redactedConfigMap(manager.Get())
	if err != nil {
		return err
	}
	var value any = data
	for _, part := range strings.Split(args[0], ".") {
		section, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("configuration key %q not found", args[0])
		}
		value, ok = section[part]
		if !ok {
			return fmt.Errorf("configuration key %q not found", args[0])
		}
	}
	if nested, ok := value.(map[string]any); ok {
		return writeFormatted(cmd.OutOrStdout(), nested, "yaml")
	}
	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

func newSetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Set a configuration value by dotted key. Values parse as JSON when
possible (booleans, numbers, arrays), otherwise as plain strings.
Hot keys apply immediately; cold keys are persisted and flagged for
restart.`,
		Args: cobra.ExactArgs(2),
		RunE: runSet,
	}
	cmd.Flags().String("source", "user", "Tier to persist the change at (user, env, cli)")
	return cmd
}

func runSet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	manager := config.ManagerFromContext(ctx)
	sourceName, err := cmd.Flags().GetString("source")
	if err != nil {
		return fmt.Errorf("failed to get source flag: %w", err)
	}
	changes := map[string]any{args[0]: parseConfigValue(args[1])}
	needsRestart, err := manager.UpdateConfig(ctx, changes, config.SourceType(sourceName))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration updated: %s = %s\n", args[0], args[1])
	if needsRestart {
		fmt.Fprintln(out, "Restart required for changes to take effect.")
	} else {
		fmt.Fprintln(out, "Changes applied immediately.")
	}
	return nil
}

// parseConfigValue parses a value as JSON first so booleans and numbers keep
// their types; anything unparsable stays a string.
func parseConfigValue(raw string) any {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err == nil {
		return value
	}
	return raw
}

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the current configuration or a config file",
		RunE:  runValidate,
	}
	cmd.Flags().String("file", "", "Validate a specific config file (.toml, .yaml, .yml, .json)")
	return cmd
}

func runValidate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	manager := config.ManagerFromContext(ctx)
	file, err := cmd.Flags().GetString("file")
	if err != nil {
		return fmt.Errorf("failed to get file flag: %w", err)
	}

	var data map[string]any
	subject := "current configuration"
	if file != "" {
		data, err = loadConfigFile(file)
		if err != nil {
			return err
		}
		data = config.NormalizeSections(data)
		subject = fmt.Sprintf("configuration file %s", file)
	} else {
		data, err = config.AsMap(manager.Get())
		if err != nil {
			return err
		}
	}

	result := config.NewValidator().Validate(data)
	out := cmd.OutOrStdout()
	if result.Valid {
		fmt.Fprintf(out, "%s is valid\n", subject)
	} else {
		fmt.Fprintf(out, "%s is invalid\n", subject)
		fmt.Fprintln(out, "\nErrors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - %s\n", e)
		}
	}
	if len(result.Warnings) > 0 {
		fmt.Fprintln(out, "\nWarnings:")
		for _, w := range result.Warnings {
			fmt.Fprintf(out, "  - %s\n", w)
		}
	}
	if file == "" && manager.RestartRequired() {
		fmt.Fprintln(out, "\nConfiguration changes require restart")
	}
	if !result.Valid {
		return fmt.Errorf("validation failed with %d error(s)", len(result.Errors))
	}
	return nil
}

func loadConfigFile(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	data := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(raw, &data)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &data)
	case ".json":
		err = json.Unmarshal(raw, &data)
	default:
		return nil, fmt.Errorf("unsupported file format %q: use .toml, .yaml, .yml, or .json", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return data, nil
}

func newDiagnosticsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Run configuration diagnostics",
		RunE:  runDiagnostics,
	}
	cmd.Flags().Bool("json", false, "Emit the full report as JSON")
	return cmd
}

func runDiagnostics(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log := logger.FromContext(ctx)
	manager := config.ManagerFromContext(ctx)
	report := config.NewDiagnostics(manager).Run(ctx)

	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("failed to get json flag: %w", err)
	}
	out := cmd.OutOrStdout()
	if asJSON {
		return writeFormatted(out, report, "json")
	}

	fmt.Fprintln(out, "Configuration Diagnostics")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintf(out, "Overall status: %s\n", report.ConfigHealth.Status)
	fmt.Fprintf(out, "Requires restart: %v\n\n", report.ConfigHealth.RequiresRestart)

	if len(report.ConfigHealth.Errors) > 0 {
		fmt.Fprintln(out, "Errors:")
		for _, e := range report.ConfigHealth.Errors {
			fmt.Fprintf(out, "  - %s\n", e)
		}
		fmt.Fprintln(out)
	}
	if len(report.ConfigHealth.Warnings) > 0 {
		fmt.Fprintln(out, "Warnings:")
		for _, w := range report.ConfigHealth.Warnings {
			fmt.Fprintf(out, "  - %s\n", w)
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, "Configuration sources:")
	names := make([]string, 0, len(report.SourceAnalysis))
	for name := range report.SourceAnalysis {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		info := report.SourceAnalysis[name]
		fmt.Fprintf(out, "  [%s] %s: %d keys\n", info.Status, name, info.KeysCount)
		if info.Path != "" {
			fmt.Fprintf(out, "      path: %s\n", info.Path)
		}
	}
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Cold keys (%d total, require restart):\n", report.KeyAnalysis.ColdKeys.Count)
	for _, key := range report.KeyAnalysis.ColdKeys.Keys {
		fmt.Fprintf(out, "  - %s\n", key)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Hot keys (%d total, applied immediately):\n", report.KeyAnalysis.HotKeys.Count)
	for i, key := range report.KeyAnalysis.HotKeys.Keys {
		if i == 10 {
			fmt.Fprintf(out, "  ... and %d more\n", report.KeyAnalysis.HotKeys.Count-10)
			break
		}
		fmt.Fprintf(out, "  - %s\n", key)
	}
	fmt.Fprintln(out)

	if len(report.Recommendations) > 0 {
		fmt.Fprintln(out, "Recommendations:")
		for _, rec := range report.Recommendations {
			fmt.Fprintf(out, "  - %s\n", rec)
		}
	}
	log.Debug("diagnostics completed")
	return nil
}

func newResetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset configuration to defaults",
		RunE:  runReset,
	}
	cmd.Flags().Bool("confirm", false, "Confirm the reset")
	return cmd
}

func runReset(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log := logger.FromContext(ctx)
	manager := config.ManagerFromContext(ctx)
	confirm, err := cmd.Flags().GetBool("confirm")
	if err != nil {
		return fmt.Errorf("failed to get confirm flag: %w", err)
	}
	out := cmd.OutOrStdout()
	if !confirm {
		fmt.Fprintln(out, "This will reset your configuration to defaults.")
		fmt.Fprintln(out, "Use --confirm to proceed with the reset.")
		return fmt.Errorf("reset not confirmed")
	}

	path := manager.UserConfigPath()
	if _, err := os.Stat(path); err == nil {
		backup := path + ".backup"
		if raw, err := os.ReadFile(path); err == nil {
			if err := os.WriteFile(backup, raw, 0o644); err != nil {
				log.Warn("could not create config backup", "path", backup, "error", err)
			} else {
				fmt.Fprintf(out, "Backed up existing config to: %s\n", backup)
			}
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove config file: %w", err)
		}
		fmt.Fprintf(out, "Removed user config file: %s\n", path)
	}

	manager.ResetRestartRequired()
	fmt.Fprintln(out, "Configuration reset to defaults.")
	fmt.Fprintln(out, "A new config file will be created on next run.")
	return nil
}

// redactedConfigMap serializes a config with sensitive values masked, for
// display in any output format.
func redactedConfigMap(cfg *config.Config) (map[string]any, error) {
	data, err := config.AsMap(cfg)
	if err != nil {
		return nil, err
	}
	redactSensitive(data)
	return data, nil
}

func redactSensitive(data map[string]any) {
	for key, value := range data {
		switch v := value.(type) {
		case config.SensitiveString:
			data[key] = v.String()
		case map[string]any:
			redactSensitive(v)
		}
	}
}

func writeFormatted(w io.Writer, value any, format string) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(value)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		defer encoder.Close()
		return encoder.Encode(value)
	case "toml":
		return toml.NewEncoder(w).Encode(value)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}
