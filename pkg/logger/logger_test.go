package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Run("Should write structured output to the configured writer", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewLogger(&Config{Level: InfoLevel, Output: &buf})

		log.Info("config loaded", "sources", 4)

		out := buf.String()
		assert.Contains(t, out, "config loaded")
		assert.Contains(t, out, "sources")
	})

	t.Run("Should suppress messages below the configured level", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewLogger(&Config{Level: WarnLevel, Output: &buf})

		log.Debug("hidden")
		log.Info("also hidden")
		log.Warn("visible")

		out := buf.String()
		assert.NotContains(t, out, "hidden")
		assert.Contains(t, out, "visible")
	})

	t.Run("Should emit JSON when configured", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewLogger(&Config{Level: InfoLevel, Output: &buf, JSON: true})

		log.Info("hello", "key", "value")

		assert.True(t, strings.HasPrefix(strings.TrimSpace(buf.String()), "{"))
	})

	t.Run("Should fall back to defaults for nil config", func(t *testing.T) {
		log := NewLogger(nil)
		require.NotNil(t, log)
	})
}

func TestFromContext(t *testing.T) {
	t.Run("Should return logger attached to context", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewLogger(&Config{Level: DebugLevel, Output: &buf})
		ctx := ContextWithLogger(context.Background(), log)

		FromContext(ctx).Debug("from context")

		assert.Contains(t, buf.String(), "from context")
	})

	t.Run("Should return usable fallback when context has no logger", func(t *testing.T) {
		log := FromContext(context.Background())
		require.NotNil(t, log)
	})

	t.Run("Should return usable fallback for nil context", func(t *testing.T) {
		log := FromContext(nil) //nolint:staticcheck // explicit nil-context contract
		require.NotNil(t, log)
	})
}

func TestLogLevel_ToCharmlogLevel(t *testing.T) {
	t.Run("Should default unknown levels to info", func(t *testing.T) {
		assert.Equal(t, InfoLevel.ToCharmlogLevel(), LogLevel("bogus").ToCharmlogLevel())
	})
}
