package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContext(t *testing.T) {
	t.Run("Should round-trip the manager through the context", func(t *testing.T) {
		manager := NewManager(NewService())
		ctx := ContextWithManager(context.Background(), manager)
		assert.Same(t, manager, ManagerFromContext(ctx))
	})

	t.Run("Should return nil when no manager is attached", func(t *testing.T) {
		assert.Nil(t, ManagerFromContext(context.Background()))
	})

	t.Run("Should fall back to defaults when no manager is attached", func(t *testing.T) {
		cfg := FromContext(context.Background())
		require.NotNil(t, cfg)
		assert.Equal(t, "docker", cfg.Runtime)
	})

	t.Run("Should prefer the loaded configuration over defaults", func(t *testing.T) {
		manager, _ := newTestManager(t)
		_, err := manager.UpdateConfig(context.Background(), map[string]any{"default_agent": "PlannerAgent"}, SourceUser)
		require.NoError(t, err)
		ctx := ContextWithManager(context.Background(), manager)
		assert.Equal(t, "PlannerAgent", FromContext(ctx).DefaultAgent)
	})
}
