package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/all-hands-ai/openhands/pkg/config"
)

func newTestRouter(t *testing.T) (*gin.Engine, *config.Manager) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	manager := config.NewManager(config.NewService())
	manager.SetUserConfigPath(path)
	_, err := manager.Load(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	server := NewServer(manager, "127.0.0.1", 0)
	return server.Router(context.Background()), manager
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	var parsed map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &parsed))
	return recorder, parsed
}

func TestHealthRoute(t *testing.T) {
	t.Run("Should report ok", func(t *testing.T) {
		router, _ := newTestRouter(t)
		recorder, body := doJSON(t, router, http.MethodGet, "/healthz", nil)
		assert.Equal(t, http.StatusOK, recorder.Code)
		data := body["data"].(map[string]any)
		assert.Equal(t, "ok", data["status"])
		assert.Equal(t, "Success", body["message"])
	})
}

func TestGetConfigRoute(t *testing.T) {
	t.Run("Should return the resolved configuration with sources", func(t *testing.T) {
		router, _ := newTestRouter(t)
		recorder, body := doJSON(t, router, http.MethodGet, "/api/config", nil)
		require.Equal(t, http.StatusOK, recorder.Code)
		data := body["data"].(map[string]any)
		cfg := data["config"].(map[string]any)
		assert.Equal(t, "docker", cfg["runtime"])
		assert.Equal(t, false, data["requires_restart"])
		sources := data["sources"].([]any)
		assert.Len(t, sources, 4)
	})

	t.Run("Should redact sensitive values", func(t *testing.T) {
		router, manager := newTestRouter(t)
		_, err := manager.UpdateConfig(context.Background(),
			map[string]any{"llm.api_key": "sk-super-secret"}, config.SourceUser)
		require.NoError(t, err)

		recorder, body := doJSON(t, router, http.MethodGet, "/api/config", nil)
		require.Equal(t, http.StatusOK, recorder.Code)
		assert.NotContains(t, recorder.Body.String(), "sk-super-secret")
		cfg := body["data"].(map[string]any)["config"].(map[string]any)
		llm := cfg["llms"].(map[string]any)["llm"].(map[string]any)
		assert.Equal(t, "[REDACTED]", llm["api_key"])
	})
}

func TestUpdateConfigRoute(t *testing.T) {
	t.Run("Should apply hot changes immediately", func(t *testing.T) {
		router, manager := newTestRouter(t)
		recorder, body := doJSON(t, router, http.MethodPost, "/api/config/update", gin.H{
			"changes": gin.H{"llm.model": "gpt-4o-mini"},
		})
		require.Equal(t, http.StatusOK, recorder.Code)
		data := body["data"].(map[string]any)
		assert.Equal(t, true, data["success"])
		assert.Equal(t, false, data["requires_restart"])
		assert.Equal(t, "gpt-4o-mini", manager.Get().LLMs[config.DefaultLLMKey].Model)
	})

	t.Run("Should defer cold changes and flag the restart", func(t *testing.T) {
		router, manager := newTestRouter(t)
		recorder, body := doJSON(t, router, http.MethodPost, "/api/config/update", gin.H{
			"changes": gin.H{"runtime": "local"},
		})
		require.Equal(t, http.StatusOK, recorder.Code)
		data := body["data"].(map[string]any)
		assert.Equal(t, true, data["requires_restart"])
		assert.Contains(t, data["message"], "Restart required")
		assert.Equal(t, "docker", manager.Get().Runtime)
		assert.True(t, manager.RestartRequired())
	})

	t.Run("Should reject a body without changes", func(t *testing.T) {
		router, _ := newTestRouter(t)
		recorder, body := doJSON(t, router, http.MethodPost, "/api/config/update", gin.H{"source": "user"})
		assert.Equal(t, http.StatusBadRequest, recorder.Code)
		assert.Contains(t, body, "error")
	})

	t.Run("Should reject updates at the default tier", func(t *testing.T) {
		router, _ := newTestRouter(t)
		recorder, _ := doJSON(t, router, http.MethodPost, "/api/config/update", gin.H{
			"changes": gin.H{"llm.model": "x"},
			"source":  "default",
		})
		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})
}

func TestValidateConfigRoute(t *testing.T) {
	t.Run("Should validate the live configuration", func(t *testing.T) {
		router, _ := newTestRouter(t)
		recorder, body := doJSON(t, router, http.MethodPost, "/api/config/validate", nil)
		require.Equal(t, http.StatusOK, recorder.Code)
		data := body["data"].(map[string]any)
		assert.Equal(t, true, data["valid"])
	})
}

func TestDiagnosticsRoute(t *testing.T) {
	t.Run("Should return the full report", func(t *testing.T) {
		router, _ := newTestRouter(t)
		recorder, body := doJSON(t, router, http.MethodGet, "/api/diagnostics", nil)
		require.Equal(t, http.StatusOK, recorder.Code)
		data := body["data"].(map[string]any)
		health := data["config_health"].(map[string]any)
		assert.Equal(t, "healthy", health["status"])
		assert.Contains(t, data, "key_analysis")
		assert.Contains(t, data, "runtime_analysis")
		memory := data["memory"].(map[string]any)
		assert.Equal(t, false, memory["enabled"])
	})

	t.Run("Should include project memory status for the local runtime", func(t *testing.T) {
		router, manager := newTestRouter(t)
		root := t.TempDir()
		_, err := manager.UpdateConfig(context.Background(), map[string]any{
			"runtime_config": map[string]any{
				"environment": "local",
				"local":       map[string]any{"project_root": root},
			},
		}, config.SourceEnv)
		require.NoError(t, err)
		require.NoError(t, manager.Reload(context.Background()))

		recorder, body := doJSON(t, router, http.MethodGet, "/api/diagnostics", nil)
		require.Equal(t, http.StatusOK, recorder.Code)
		data := body["data"].(map[string]any)
		memory := data["memory"].(map[string]any)
		assert.Equal(t, true, memory["enabled"])
		status := memory["status"].(map[string]any)
		assert.Equal(t, true, status["exists"])
	})
}

func TestMemoryRoutes(t *testing.T) {
	t.Run("Should report memory disabled for the docker runtime", func(t *testing.T) {
		router, _ := newTestRouter(t)
		recorder, body := doJSON(t, router, http.MethodGet, "/api/memory/status", nil)
		require.Equal(t, http.StatusOK, recorder.Code)
		data := body["data"].(map[string]any)
		assert.Equal(t, false, data["enabled"])
	})

	t.Run("Should serve status and events for the local runtime", func(t *testing.T) {
		router, manager := newTestRouter(t)
		root := t.TempDir()
		_, err := manager.UpdateConfig(context.Background(), map[string]any{
			"runtime_config": map[string]any{
				"environment": "local",
				"local":       map[string]any{"project_root": root},
			},
		}, config.SourceEnv)
		require.NoError(t, err)
		require.NoError(t, manager.Reload(context.Background()))

		recorder, body := doJSON(t, router, http.MethodGet, "/api/memory/status", nil)
		require.Equal(t, http.StatusOK, recorder.Code)
		data := body["data"].(map[string]any)
		assert.Equal(t, true, data["enabled"])
		status := data["status"].(map[string]any)
		assert.Equal(t, true, status["exists"])

		recorder, body = doJSON(t, router, http.MethodGet, "/api/memory/events?limit=5", nil)
		require.Equal(t, http.StatusOK, recorder.Code)
		data = body["data"].(map[string]any)
		assert.Equal(t, true, data["enabled"])
		assert.Empty(t, data["events"])
	})

	t.Run("Should reject a non-positive limit", func(t *testing.T) {
		router, manager := newTestRouter(t)
		root := t.TempDir()
		_, err := manager.UpdateConfig(context.Background(), map[string]any{
			"runtime_config": map[string]any{
				"environment": "local",
				"local":       map[string]any{"project_root": root},
			},
		}, config.SourceEnv)
		require.NoError(t, err)
		require.NoError(t, manager.Reload(context.Background()))

		recorder, _ := doJSON(t, router, http.MethodGet, "/api/memory/events?limit=0", nil)
		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})
}
