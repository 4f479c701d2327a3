package config

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSensitiveString(t *testing.T) {
	t.Run("Should redact itself when formatted", func(t *testing.T) {
		secret := SensitiveString("sk-super-secret")
		assert.Equal(t, "[REDACTED]", secret.String())
		assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", secret))
		assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", secret))
	})

	t.Run("Should render empty values as empty", func(t *testing.T) {
		assert.Equal(t, "", SensitiveString("").String())
		assert.False(t, SensitiveString("").IsSet())
	})

	t.Run("Should expose the secret only through Value", func(t *testing.T) {
		secret := SensitiveString("sk-super-secret")
		assert.Equal(t, "sk-super-secret", secret.Value())
		assert.True(t, secret.IsSet())
	})

	t.Run("Should redact in JSON output", func(t *testing.T) {
		out, err := json.Marshal(struct {
			APIKey SensitiveString `json:"api_key"`
		}{APIKey: "sk-super-secret"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"api_key":"[REDACTED]"}`, string(out))
	})

	t.Run("Should accept the raw secret from JSON input", func(t *testing.T) {
		var secret SensitiveString
		require.NoError(t, json.Unmarshal([]byte(`"sk-from-json"`), &secret))
		assert.Equal(t, "sk-from-json", secret.Value())
	})
}
