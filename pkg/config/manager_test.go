package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	manager := NewManager(NewService())
	manager.SetUserConfigPath(path)
	_, err := manager.Load(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return manager, path
}

func readUserConfig(t *testing.T, path string) map[string]any {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	data := map[string]any{}
	require.NoError(t, toml.Unmarshal(raw, &data))
	return data
}

func TestManagerLoad(t *testing.T) {
	t.Run("Should resolve defaults under the template file", func(t *testing.T) {
		manager, path := newTestManager(t)
		cfg := manager.Get()
		require.NotNil(t, cfg)
		assert.Equal(t, "docker", cfg.Runtime)
		assert.Equal(t, "CodeActAgent", cfg.DefaultAgent)
		llm, ok := cfg.DefaultLLM()
		require.True(t, ok)
		assert.Equal(t, "gpt-4o", llm.Model)
		assert.FileExists(t, path)
		assert.False(t, manager.RestartRequired())
	})

	t.Run("Should resolve identically on repeated loads", func(t *testing.T) {
		manager, _ := newTestManager(t)
		first := manager.Get()
		second, err := manager.Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("Should report source metadata in precedence order", func(t *testing.T) {
		manager, _ := newTestManager(t)
		infos := manager.SourceInfos()
		require.Len(t, infos, 4)
		assert.Equal(t, string(SourceDefault), infos[0].Name)
		assert.Equal(t, string(SourceUser), infos[1].Name)
		assert.True(t, infos[0].Loaded)
		assert.True(t, infos[1].Loaded)
	})
}

func TestManagerUpdateConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("Should apply a hot user-tier change immediately", func(t *testing.T) {
		manager, path := newTestManager(t)
		deferred, err := manager.UpdateConfig(ctx, map[string]any{"llm.model": "gpt-4o-mini"}, SourceUser)
		require.NoError(t, err)
		assert.False(t, deferred)
		assert.False(t, manager.RestartRequired())
		assert.Equal(t, "gpt-4o-mini", manager.Get().LLMs[DefaultLLMKey].Model)

		data := readUserConfig(t, path)
		llm := data["llm"].(map[string]any)
		assert.Equal(t, "gpt-4o-mini", llm["model"])
	})

	t.Run("Should merge a canonical llms update with the aliased llm section", func(t *testing.T) {
		manager, path := newTestManager(t)
		changes := map[string]any{"llms": map[string]any{DefaultLLMKey: map[string]any{"temperature": 0.8}}}
		deferred, err := manager.UpdateConfig(ctx, changes, SourceUser)
		require.NoError(t, err)
		assert.False(t, deferred)
		llm := manager.Get().LLMs[DefaultLLMKey]
		assert.Equal(t, 0.8, llm.Temperature)
		assert.Equal(t, "gpt-4o", llm.Model, "values from the file's llm section survive")

		data := readUserConfig(t, path)
		persisted := data["llms"].(map[string]any)[DefaultLLMKey].(map[string]any)
		assert.Equal(t, 0.8, persisted["temperature"])
	})

	t.Run("Should persist but defer a cold change", func(t *testing.T) {
		manager, path := newTestManager(t)
		deferred, err := manager.UpdateConfig(ctx, map[string]any{"runtime": "local"}, SourceUser)
		require.NoError(t, err)
		assert.True(t, deferred)
		assert.True(t, manager.RestartRequired())
		assert.Equal(t, "docker", manager.Get().Runtime, "running config stays untouched until restart")

		data := readUserConfig(t, path)
		assert.Equal(t, "local", data["runtime"])
	})

	t.Run("Should defer the whole batch when it mixes hot and cold keys", func(t *testing.T) {
		manager, path := newTestManager(t)
		changes := map[string]any{
			"default_agent":    "PlannerAgent",
			"sandbox.platform": "linux/arm64",
		}
		deferred, err := manager.UpdateConfig(ctx, changes, SourceUser)
		require.NoError(t, err)
		assert.True(t, deferred)
		assert.True(t, manager.RestartRequired())
		assert.Equal(t, "CodeActAgent", manager.Get().DefaultAgent, "hot keys in a mixed batch are deferred too")

		data := readUserConfig(t, path)
		assert.Equal(t, "PlannerAgent", data["default_agent"])
	})

	t.Run("Should apply deferred changes on reload after restart", func(t *testing.T) {
		manager, _ := newTestManager(t)
		_, err := manager.UpdateConfig(ctx, map[string]any{"runtime": "local"}, SourceUser)
		require.NoError(t, err)
		require.True(t, manager.RestartRequired())

		require.NoError(t, manager.Reload(ctx))
		manager.ResetRestartRequired()
		assert.Equal(t, "local", manager.Get().Runtime)
		assert.False(t, manager.RestartRequired())
	})

	t.Run("Should keep the restart flag set across later hot updates", func(t *testing.T) {
		manager, _ := newTestManager(t)
		_, err := manager.UpdateConfig(ctx, map[string]any{"sandbox.platform": "linux/arm64"}, SourceUser)
		require.NoError(t, err)
		require.True(t, manager.RestartRequired())

		_, err = manager.UpdateConfig(ctx, map[string]any{"llm.model": "gpt-4o-mini"}, SourceUser)
		require.NoError(t, err)
		assert.True(t, manager.RestartRequired(), "flag is monotonic until an explicit reset")
		assert.Equal(t, "gpt-4o-mini", manager.Get().LLMs[DefaultLLMKey].Model, "hot-only batches still apply")
	})

	t.Run("Should preserve unrelated keys in the config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		content := "[core]\ndefault_agent = \"PlannerAgent\"\n\n[llm]\napi_key = \"sk-keep\"\nmodel = \"gpt-4o\"\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		manager := NewManager(NewService())
		manager.SetUserConfigPath(path)
		_, err := manager.Load(ctx)
		require.NoError(t, err)

		_, err = manager.UpdateConfig(ctx, map[string]any{"llm.model": "gpt-4o-mini"}, SourceUser)
		require.NoError(t, err)

		data := readUserConfig(t, path)
		core := data["core"].(map[string]any)
		assert.Equal(t, "PlannerAgent", core["default_agent"])
		llm := data["llm"].(map[string]any)
		assert.Equal(t, "sk-keep", llm["api_key"])
		assert.Equal(t, "gpt-4o-mini", llm["model"])
	})

	t.Run("Should record env-tier changes in memory and apply them", func(t *testing.T) {
		manager, path := newTestManager(t)
		deferred, err := manager.UpdateConfig(ctx, map[string]any{"default_agent": "EnvAgent"}, SourceEnv)
		require.NoError(t, err)
		assert.False(t, deferred)
		assert.Equal(t, "EnvAgent", manager.Get().DefaultAgent)

		data := readUserConfig(t, path)
		assert.NotContains(t, data, "default_agent", "env-tier changes never touch the file")
		assert.Equal(t, "EnvAgent", manager.EnvOverrides()["default_agent"])
	})

	t.Run("Should let cli-tier changes win over env-tier ones", func(t *testing.T) {
		manager, _ := newTestManager(t)
		_, err := manager.UpdateConfig(ctx, map[string]any{"default_agent": "EnvAgent"}, SourceEnv)
		require.NoError(t, err)
		_, err = manager.UpdateConfig(ctx, map[string]any{"default_agent": "CLIAgent"}, SourceCLI)
		require.NoError(t, err)
		assert.Equal(t, "CLIAgent", manager.Get().DefaultAgent)
	})

	t.Run("Should reject updates at the default tier", func(t *testing.T) {
		manager, _ := newTestManager(t)
		_, err := manager.UpdateConfig(ctx, map[string]any{"default_agent": "x"}, SourceDefault)
		assert.Error(t, err)
	})

	t.Run("Should treat an empty batch as a no-op", func(t *testing.T) {
		manager, _ := newTestManager(t)
		deferred, err := manager.UpdateConfig(ctx, map[string]any{}, SourceUser)
		require.NoError(t, err)
		assert.False(t, deferred)
	})

	t.Run("Should accept nested change maps", func(t *testing.T) {
		manager, _ := newTestManager(t)
		changes := map[string]any{"llm": map[string]any{"model": "claude-sonnet"}}
		deferred, err := manager.UpdateConfig(ctx, changes, SourceUser)
		require.NoError(t, err)
		assert.False(t, deferred)
		assert.Equal(t, "claude-sonnet", manager.Get().LLMs[DefaultLLMKey].Model)
	})
}

func TestManagerOnChange(t *testing.T) {
	t.Run("Should notify callbacks when a hot update lands", func(t *testing.T) {
		manager, _ := newTestManager(t)
		var got *Config
		manager.OnChange(func(cfg *Config) { got = cfg })
		_, err := manager.UpdateConfig(context.Background(), map[string]any{"default_agent": "PlannerAgent"}, SourceUser)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "PlannerAgent", got.DefaultAgent)
	})
}
