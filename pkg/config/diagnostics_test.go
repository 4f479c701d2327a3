package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiagnostics(t *testing.T) {
	ctx := context.Background()

	t.Run("Should report a healthy configuration", func(t *testing.T) {
		manager, _ := newTestManager(t)
		report := NewDiagnostics(manager).Run(ctx)
		assert.Equal(t, "healthy", report.ConfigHealth.Status)
		assert.Empty(t, report.ConfigHealth.Errors)
		assert.False(t, report.ConfigHealth.RequiresRestart)
	})

	t.Run("Should report error when nothing is loaded", func(t *testing.T) {
		manager := NewManager(NewService())
		report := NewDiagnostics(manager).Run(ctx)
		assert.Equal(t, "error", report.ConfigHealth.Status)
		assert.Contains(t, report.ConfigHealth.Errors, "no configuration loaded")
	})

	t.Run("Should surface the restart flag in health and recommendations", func(t *testing.T) {
		manager, _ := newTestManager(t)
		_, err := manager.UpdateConfig(ctx, map[string]any{"sandbox.platform": "linux/arm64"}, SourceUser)
		require.NoError(t, err)
		report := NewDiagnostics(manager).Run(ctx)
		assert.True(t, report.ConfigHealth.RequiresRestart)
		assert.Contains(t, report.Recommendations,
			"configuration changes require a restart to take effect")
	})

	t.Run("Should describe every source tier", func(t *testing.T) {
		manager, path := newTestManager(t)
		report := NewDiagnostics(manager).Run(ctx)
		require.Len(t, report.SourceAnalysis, 4)
		user := report.SourceAnalysis[string(SourceUser)]
		assert.Equal(t, "active", user.Status)
		assert.Equal(t, path, user.Path)
		assert.Equal(t, "active", report.SourceAnalysis[string(SourceDefault)].Status)
	})

	t.Run("Should partition keys into cold and hot sets", func(t *testing.T) {
		manager, _ := newTestManager(t)
		report := NewDiagnostics(manager).Run(ctx)
		keys := report.KeyAnalysis
		assert.Equal(t, keys.TotalKeys, keys.ColdKeys.Count+keys.HotKeys.Count)
		assert.Contains(t, keys.ColdKeys.Keys, "runtime")
		assert.Contains(t, keys.HotKeys.Keys, "default_agent")
		assert.NotContains(t, keys.HotKeys.Keys, "runtime")
	})

	t.Run("Should analyze the docker runtime without local details", func(t *testing.T) {
		manager, _ := newTestManager(t)
		report := NewDiagnostics(manager).Run(ctx)
		assert.Equal(t, "docker", report.RuntimeAnalysis.CurrentRuntime)
		assert.Nil(t, report.RuntimeAnalysis.Local)
	})

	t.Run("Should probe the project root for the local runtime", func(t *testing.T) {
		manager, _ := newTestManager(t)
		root := t.TempDir()
		_, err := manager.UpdateConfig(ctx, map[string]any{
			"runtime_config": map[string]any{
				"environment": "local",
				"local":       map[string]any{"project_root": root},
			},
		}, SourceEnv)
		require.NoError(t, err)
		require.NoError(t, manager.Reload(ctx))

		report := NewDiagnostics(manager).Run(ctx)
		assert.Equal(t, "local", report.RuntimeAnalysis.CurrentRuntime)
		require.NotNil(t, report.RuntimeAnalysis.Local)
		assert.Equal(t, root, report.RuntimeAnalysis.Local.ProjectRoot)
		assert.True(t, report.RuntimeAnalysis.Local.ProjectRootExists)
		assert.True(t, report.RuntimeAnalysis.Local.ProjectRootReadable)
		assert.True(t, report.RuntimeAnalysis.Local.ProjectRootWritable)
	})

	t.Run("Should list recorded override maps", func(t *testing.T) {
		manager, _ := newTestManager(t)
		_, err := manager.UpdateConfig(ctx, map[string]any{"default_agent": "EnvAgent"}, SourceEnv)
		require.NoError(t, err)
		report := NewDiagnostics(manager).Run(ctx)
		assert.Equal(t, "EnvAgent", report.EnvironmentAnalysis.EnvOverrides["default_agent"])
		assert.Contains(t, report.Recommendations,
			"environment variables are overriding configuration, ensure this is intentional")
	})

	t.Run("Should recommend an API key for known provider models", func(t *testing.T) {
		manager, _ := newTestManager(t)
		report := NewDiagnostics(manager).Run(ctx)
		assert.Contains(t, report.Recommendations, "consider setting an API key for your LLM model")
	})
}
