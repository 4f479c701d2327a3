package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/all-hands-ai/openhands/pkg/config/definition"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// registerConfigFlags declares one flag per registry field that carries a
// CLI flag name, typed from the field definition.
func registerConfigFlags(flags *pflag.FlagSet) {
	registry := definition.CreateRegistry()
	for _, field := range registry.GetAllFields() {
		if field.CLIFlag == "" || flags.Lookup(field.CLIFlag) != nil {
			continue
		}
		switch field.Type.Kind() {
		case reflect.Bool:
			def, _ := field.Default.(bool)
			flags.BoolP(field.CLIFlag, field.Shorthand, def, field.Help)
		case reflect.Int:
			def, _ := field.Default.(int)
			flags.IntP(field.CLIFlag, field.Shorthand, def, field.Help)
		case reflect.Float64:
			def, _ := field.Default.(float64)
			flags.Float64P(field.CLIFlag, field.Shorthand, def, field.Help)
		case reflect.Int64:
			if field.Type == reflect.TypeOf(time.Duration(0)) {
				def, _ := field.Default.(time.Duration)
				flags.DurationP(field.CLIFlag, field.Shorthand, def, field.Help)
				continue
			}
			def, _ := field.Default.(int64)
			flags.Int64P(field.CLIFlag, field.Shorthand, def, field.Help)
		default:
			def, _ := field.Default.(string)
			flags.StringP(field.CLIFlag, field.Shorthand, def, field.Help)
		}
	}
}

// extractCLIFlags collects explicitly changed config flags into a flat map
// keyed by flag name. Only flags the user set are treated as overrides.
func extractCLIFlags(flags *pflag.FlagSet) map[string]any {
	registry := definition.CreateRegistry()
	overrides := make(map[string]any)
	for _, field := range registry.GetAllFields() {
		if field.CLIFlag == "" || !flags.Changed(field.CLIFlag) {
			continue
		}
		switch field.Type.Kind() {
		case reflect.Bool:
			if v, err := flags.GetBool(field.CLIFlag); err == nil {
				overrides[field.CLIFlag] = v
			}
		case reflect.Int:
			if v, err := flags.GetInt(field.CLIFlag); err == nil {
				overrides[field.CLIFlag] = v
			}
		case reflect.Float64:
			if v, err := flags.GetFloat64(field.CLIFlag); err == nil {
				overrides[field.CLIFlag] = v
			}
		case reflect.Int64:
			if field.Type == reflect.TypeOf(time.Duration(0)) {
				if v, err := flags.GetDuration(field.CLIFlag); err == nil {
					overrides[field.CLIFlag] = v
				}
				continue
			}
			if v, err := flags.GetInt64(field.CLIFlag); err == nil {
				overrides[field.CLIFlag] = v
			}
		default:
			if v, err := flags.GetString(field.CLIFlag); err == nil {
				overrides[field.CLIFlag] = v
			}
		}
	}
	return overrides
}

// loadEnvFile loads environment variables from the --env-file flag, if set.
func loadEnvFile(cmd *cobra.Command) error {
	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return fmt.Errorf("failed to get env-file flag: %w", err)
	}
	if envFile == "" {
		return nil
	}
	if !filepath.IsAbs(envFile) {
		pwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current working directory: %w", err)
		}
		envFile = filepath.Join(pwd, envFile)
	}
	if err := godotenv.Load(filepath.Clean(envFile)); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}
