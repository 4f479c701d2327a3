package server

import (
	"errors"
	"net/http"

	"github.com/all-hands-ai/openhands/pkg/config"
	"github.com/gin-gonic/gin"
)

// configUpdateRequest carries a batch of nested or dotted-key changes and
// the tier to persist them at. Source defaults to the user config file.
type configUpdateRequest struct {
	Changes map[string]any `json:"changes" binding:"required"`
	Source  string         `json:"source"`
}

func registerConfigRoutes(router *gin.Engine) {
	group := router.Group("/api/config")
	group.GET("", handleGetConfig)
	group.POST("/update", handleUpdateConfig)
	group.POST("/validate", handleValidateConfig)
	router.GET("/api/diagnostics", handleDiagnostics)
}

// handleGetConfig returns the resolved configuration. Sensitive values are
// redacted by their JSON representation.
func handleGetConfig(c *gin.Context) {
	ctx := c.Request.Context()
	manager := config.ManagerFromContext(ctx)
	if manager == nil {
		respondError(c, http.StatusServiceUnavailable, errors.New("configuration manager not available"))
		return
	}
	respondOK(c, gin.H{
		"config":           manager.Get(),
		"requires_restart": manager.RestartRequired(),
		"sources":          manager.SourceInfos(),
	})
}

func handleUpdateConfig(c *gin.Context) {
	ctx := c.Request.Context()
	manager := config.ManagerFromContext(ctx)
	if manager == nil {
		respondError(c, http.StatusServiceUnavailable, errors.New("configuration manager not available"))
		return
	}
	var req configUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	source := config.SourceType(req.Source)
	if req.Source == "" {
		source = config.SourceUser
	}
	requiresRestart, err := manager.UpdateConfig(ctx, req.Changes, source)
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	message := "Configuration updated successfully"
	if requiresRestart {
		message += ". Restart required for changes to take effect."
	}
	respondOK(c, gin.H{
		"success":          true,
		"requires_restart": requiresRestart,
		"message":          message,
	})
}

func handleValidateConfig(c *gin.Context) {
	ctx := c.Request.Context()
	manager := config.ManagerFromContext(ctx)
	if manager == nil {
		respondError(c, http.StatusServiceUnavailable, errors.New("configuration manager not available"))
		return
	}
	cfg := manager.Get()
	if cfg == nil {
		respondError(c, http.StatusServiceUnavailable, errors.New("no configuration loaded"))
		return
	}
	data, err := config.AsMap(cfg)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	result := config.NewValidator().Validate(data)
	respondOK(c, result)
}

// diagnosticsResponse extends the configuration report with the project
// memory status so one endpoint covers config, runtime, and memory health.
type diagnosticsResponse struct {
	config.Report
	Memory gin.H `json:"memory"`
}

func handleDiagnostics(c *gin.Context) {
	ctx := c.Request.Context()
	manager := config.ManagerFromContext(ctx)
	if manager == nil {
		respondError(c, http.StatusServiceUnavailable, errors.New("configuration manager not available"))
		return
	}
	report := config.NewDiagnostics(manager).Run(ctx)
	respondOK(c, diagnosticsResponse{Report: report, Memory: memoryStatusBlock(c)})
}

// memoryStatusBlock reports project memory state without failing the
// diagnostics request when memory itself is unavailable.
func memoryStatusBlock(c *gin.Context) gin.H {
	mem, err := openProjectMemory(c)
	if err != nil {
		return gin.H{"enabled": false, "error": err.Error()}
	}
	if mem == nil {
		return gin.H{"enabled": false, "reason": "project memory is only available for the local runtime"}
	}
	defer mem.Close()
	status, err := mem.Status(c.Request.Context())
	if err != nil {
		return gin.H{"enabled": true, "error": err.Error()}
	}
	return gin.H{"enabled": true, "status": status}
}
