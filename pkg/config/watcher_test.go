package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher(t *testing.T) {
	t.Run("Should fire on writes to the watched file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		require.NoError(t, os.WriteFile(path, []byte("runtime = \"docker\"\n"), 0o644))

		watcher, err := NewWatcher(context.Background())
		require.NoError(t, err)
		t.Cleanup(func() { _ = watcher.Close() })

		fired := make(chan struct{}, 1)
		watcher.OnChange(func() {
			select {
			case fired <- struct{}{}:
			default:
			}
		})
		require.NoError(t, watcher.Watch(path))

		require.NoError(t, os.WriteFile(path, []byte("runtime = \"local\"\n"), 0o644))
		select {
		case <-fired:
		case <-time.After(3 * time.Second):
			t.Fatal("expected a change notification")
		}
	})

	t.Run("Should ignore sibling files in the watched directory", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.toml")
		require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

		watcher, err := NewWatcher(context.Background())
		require.NoError(t, err)
		t.Cleanup(func() { _ = watcher.Close() })

		fired := make(chan struct{}, 1)
		watcher.OnChange(func() {
			select {
			case fired <- struct{}{}:
			default:
			}
		})
		require.NoError(t, watcher.Watch(path))

		require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644))
		select {
		case <-fired:
			t.Fatal("unexpected notification for an unwatched file")
		case <-time.After(300 * time.Millisecond):
		}
	})

	t.Run("Should be safe to close twice", func(t *testing.T) {
		watcher, err := NewWatcher(context.Background())
		require.NoError(t, err)
		assert.NoError(t, watcher.Close())
		assert.NoError(t, watcher.Close())
	})
}
