package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/all-hands-ai/openhands/engine/memory"
	"github.com/all-hands-ai/openhands/pkg/config"
	"github.com/gin-gonic/gin"
)

func registerMemoryRoutes(router *gin.Engine) {
	group := router.Group("/api/memory")
	group.GET("/status", handleMemoryStatus)
	group.GET("/events", handleMemoryEvents)
}

// openProjectMemory resolves project memory from the current configuration.
// Returns nil with no error for non-local runtimes.
func openProjectMemory(c *gin.Context) (*memory.ProjectMemory, error) {
	ctx := c.Request.Context()
	cfg := config.FromContext(ctx)
	runtime := cfg.EffectiveRuntime()
	if runtime != "local" {
		return nil, nil
	}
	root := cfg.RuntimeConfig.Local.GetProjectRoot(cfg.WorkspaceBase)
	if root == "" {
		return nil, errors.New("no project root configured for local runtime")
	}
	return memory.CreateProjectMemory(ctx, root, runtime)
}

func handleMemoryStatus(c *gin.Context) {
	mem, err := openProjectMemory(c)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if mem == nil {
		respondOK(c, gin.H{"enabled": false, "reason": "project memory is only available for the local runtime"})
		return
	}
	defer mem.Close()
	status, err := mem.Status(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	respondOK(c, gin.H{"enabled": true, "status": status})
}

func handleMemoryEvents(c *gin.Context) {
	mem, err := openProjectMemory(c)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if mem == nil {
		respondOK(c, gin.H{"enabled": false, "events": []memory.Event{}})
		return
	}
	defer mem.Close()
	kind := c.Query("kind")
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(c, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	events, err := mem.GetEvents(c.Request.Context(), kind, limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []memory.Event{}
	}
	respondOK(c, gin.H{"enabled": true, "events": events})
}
