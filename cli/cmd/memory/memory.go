// Package memory implements the `openhands memory` command group.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/all-hands-ai/openhands/engine/memory"
	"github.com/all-hands-ai/openhands/pkg/config"
	"github.com/spf13/cobra"
)

// NewMemoryCommand creates the memory command group.
func NewMemoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect the project memory database",
	}
	cmd.AddCommand(newStatusCommand(), newEventsCommand())
	return cmd
}

// open resolves project memory from the active configuration. The caller
// must Close the returned store.
func open(ctx context.Context) (*memory.ProjectMemory, error) {
	cfg := config.FromContext(ctx)
	runtime := cfg.EffectiveRuntime()
	if runtime != "local" {
		return nil, fmt.Errorf("project memory is only available for the local runtime (current: %s)", runtime)
	}
	root := cfg.RuntimeConfig.Local.GetProjectRoot(cfg.WorkspaceBase)
	if root == "" {
		return nil, errors.New("no project root configured for local runtime")
	}
	return memory.CreateProjectMemory(ctx, root, runtime)
}

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show project memory status",
		RunE:  runStatus,
	}
	cmd.Flags().Bool("json", false, "Emit status as JSON")
	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	mem, err := open(ctx)
	if err != nil {
		return err
	}
	defer mem.Close()
	status, err := mem.Status(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("failed to get json flag: %w", err)
	}
	if asJSON {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(status)
	}
	fmt.Fprintf(out, "Database:       %s\n", status.DBPath)
	fmt.Fprintf(out, "Exists:         %v\n", status.Exists)
	fmt.Fprintf(out, "Connected:      %v\n", status.Connected)
	fmt.Fprintf(out, "Schema version: %s\n", status.SchemaVersion)
	fmt.Fprintf(out, "Events:         %d\n", status.EventCount)
	fmt.Fprintf(out, "Files:          %d\n", status.FileCount)
	fmt.Fprintf(out, "Embeddings:     %d\n", status.EmbeddingCount)
	if status.LastEventTS != nil {
		ts := time.Unix(0, int64(*status.LastEventTS*float64(time.Second)))
		fmt.Fprintf(out, "Last event:     %s\n", ts.Format(time.RFC3339))
	}
	return nil
}

func newEventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recent agent events",
		RunE:  runEvents,
	}
	cmd.Flags().String("kind", "", "Filter by event kind")
	cmd.Flags().Int("limit", 20, "Maximum number of events")
	cmd.Flags().Bool("json", false, "Emit events as JSON")
	return cmd
}

func runEvents(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	mem, err := open(ctx)
	if err != nil {
		return err
	}
	defer mem.Close()
	kind, err := cmd.Flags().GetString("kind")
	if err != nil {
		return fmt.Errorf("failed to get kind flag: %w", err)
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return fmt.Errorf("failed to get limit flag: %w", err)
	}
	events, err := mem.GetEvents(ctx, kind, limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("failed to get json flag: %w", err)
	}
	if asJSON {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(events)
	}
	if len(events) == 0 {
		fmt.Fprintln(out, "No events recorded.")
		return nil
	}
	for _, event := range events {
		ts := time.Unix(0, int64(event.Timestamp*float64(time.Second)))
		fmt.Fprintf(out, "%s  [%s]  %s\n", ts.Format(time.RFC3339), event.Kind, event.Summary)
	}
	return nil
}
