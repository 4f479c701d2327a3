// Package server exposes the configuration and project-memory APIs over
// HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/all-hands-ai/openhands/pkg/config"
	"github.com/all-hands-ai/openhands/pkg/logger"
	"github.com/gin-gonic/gin"
)

// Server hosts the REST API on top of a configuration manager.
type Server struct {
	manager *config.Manager
	host    string
	port    int
}

// NewServer creates an API server bound to a configuration manager.
func NewServer(manager *config.Manager, host string, port int) *Server {
	return &Server{manager: manager, host: host, port: port}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router(ctx context.Context) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.contextMiddleware(ctx))
	registerHealthRoutes(router)
	registerConfigRoutes(router)
	registerMemoryRoutes(router)
	return router
}

// contextMiddleware threads the manager and logger into each request
// context so handlers resolve them the same way the rest of the codebase
// does.
func (s *Server) contextMiddleware(base context.Context) gin.HandlerFunc {
	log := logger.FromContext(base)
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		ctx = logger.ContextWithLogger(ctx, log)
		ctx = config.ContextWithManager(ctx, s.manager)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("API server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	}
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"data": data, "message": "Success"})
}

func respondError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}
