package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"dario.cat/mergo"
	"github.com/all-hands-ai/openhands/pkg/logger"
	"github.com/pelletier/go-toml/v2"
)

// Manager owns the resolved configuration: it loads the source tiers,
// serves atomic read snapshots, applies runtime updates, and tracks the
// restart-required state for cold settings.
type Manager struct {
	Service         Service
	current         atomic.Value // stores *Config
	restartRequired atomic.Bool  // monotonic until explicit reset
	userConfigPath  string
	cliOverrides    map[string]any
	envOverrides    map[string]any
	lastSources     []Source
	callbacks       []func(*Config)
	callbackMu      sync.RWMutex
	reloadMu        sync.Mutex
	watcher         *Watcher
	closeOnce       sync.Once
	debounce        time.Duration
}

// NewManager creates a configuration manager.
func NewManager(service Service) *Manager {
	if service == nil {
		service = NewService()
	}
	return &Manager{
		Service:   service,
		callbacks: make([]func(*Config), 0),
		debounce:  100 * time.Millisecond,
	}
}

// SetUserConfigPath overrides the user config file location. Must be called
// before Load. An empty path keeps the default resolution.
func (m *Manager) SetUserConfigPath(path string) {
	m.userConfigPath = path
}

// SetCLIOverrides installs the CLI override map used on every load cycle.
// Must be called before Load.
func (m *Manager) SetCLIOverrides(overrides map[string]any) {
	m.cliOverrides = overrides
}

// SetDebounce sets the debounce duration for file watching.
// Must be called before Watch to take effect.
func (m *Manager) SetDebounce(duration time.Duration) {
	m.debounce = duration
}

// buildSources constructs a fresh set of tier sources, lowest precedence
// first. Sources are rebuilt on every cycle so each load re-reads the file
// and the environment.
func (m *Manager) buildSources(ctx context.Context) []Source {
	return []Source{
		NewDefaultSource(),
		NewUserSource(ctx, m.userConfigPath),
		NewEnvSource(m.envOverrides),
		NewCLISource(m.cliOverrides),
	}
}

// Load performs the initial load and stores the resolved configuration.
func (m *Manager) Load(ctx context.Context) (*Config, error) {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()
	sources := m.buildSources(ctx)
	config, err := m.Service.Load(ctx, sources...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	m.lastSources = sources
	m.applyConfig(config)
	return config, nil
}

// Get returns the current configuration snapshot.
func (m *Manager) Get() *Config {
	val := m.current.Load()
	if val == nil {
		return nil
	}
	config, ok := val.(*Config)
	if !ok {
		return nil
	}
	return config
}

// RestartRequired reports whether a cold setting was changed since startup.
// Once set the flag stays set until ResetRestartRequired is called.
func (m *Manager) RestartRequired() bool {
	return m.restartRequired.Load()
}

// ResetRestartRequired clears the restart-required flag. Intended to be
// called after the process has actually restarted; the manager trusts the
// caller on that.
func (m *Manager) ResetRestartRequired() {
	m.restartRequired.Store(false)
}

// EnvOverrides returns the recorded in-memory environment override map.
func (m *Manager) EnvOverrides() map[string]any {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()
	return m.envOverrides
}

// CLIOverrides returns the recorded CLI override map.
func (m *Manager) CLIOverrides() map[string]any {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()
	return m.cliOverrides
}

// UserConfigPath returns the resolved user config file location.
func (m *Manager) UserConfigPath() string {
	if m.userConfigPath != "" {
		return m.userConfigPath
	}
	return ResolveUserConfigPath()
}

// SourceInfos returns the introspection records from the most recent load,
// ordered lowest precedence first.
func (m *Manager) SourceInfos() []SourceInfo {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()
	infos := make([]SourceInfo, 0, len(m.lastSources))
	for _, source := range m.lastSources {
		if source != nil {
			infos = append(infos, source.Info())
		}
	}
	return infos
}

// UpdateConfig persists a batch of changes at the given tier and applies
// them at runtime. Changes may use nested maps or dotted keys.
//
// The user tier persists to the config file on disk; env and cli tiers
// persist to the in-memory override maps consulted on every load cycle.
//
// A batch containing any cold key is persisted but deferred in full: the
// running configuration is left untouched and the restart-required flag is
// set, even for the hot keys in the batch. A hot-only batch is applied
// immediately by re-running the load pipeline; a failed re-resolve after a
// successful persist is logged and the previous configuration stays in
// effect.
func (m *Manager) UpdateConfig(ctx context.Context, changes map[string]any, source SourceType) (bool, error) {
	if len(changes) == 0 {
		return false, nil
	}
	log := logger.FromContext(ctx)
	flat := flattenMap("", changes)
	needsRestart := NeedsRestart(changes)

	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	switch source {
	case SourceUser:
		if err := m.persistChanges(ctx, flat); err != nil {
			return false, err
		}
	case SourceEnv:
		if m.envOverrides == nil {
			m.envOverrides = map[string]any{}
		}
		nested := map[string]any{}
		for key, value := range flat {
			if err := setNested(nested, key, value); err != nil {
				return false, err
			}
		}
		if err := mergo.Merge(&m.envOverrides, nested, mergo.WithOverride); err != nil {
			return false, fmt.Errorf("failed to merge environment overrides: %w", err)
		}
	case SourceCLI:
		if m.cliOverrides == nil {
			m.cliOverrides = map[string]any{}
		}
		for key, value := range flat {
			m.cliOverrides[key] = value
		}
	default:
		return false, fmt.Errorf("cannot update configuration at %s tier", source)
	}

	if needsRestart {
		m.restartRequired.Store(true)
		log.Info("configuration changes persisted; restart required to apply",
			"keys", len(flat))
		return true, nil
	}

	sources := m.buildSources(ctx)
	config, err := m.Service.Load(ctx, sources...)
	if err != nil {
		log.Warn("failed to re-resolve configuration after update; keeping previous", "error", err)
		return false, nil
	}
	m.lastSources = sources
	m.applyConfig(config)
	return false, nil
}

// persistChanges merges flat dotted-key changes into the user config file,
// preserving unrelated keys and comments-free structure. Persistence errors
// propagate to the caller.
func (m *Manager) persistChanges(ctx context.Context, flat map[string]any) error {
	path := m.UserConfigPath()
	if err := EnsureUserConfigExists(ctx, path); err != nil {
		return err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read user config: %w", err)
	}
	existing := map[string]any{}
	if len(raw) > 0 {
		if err := toml.Unmarshal(raw, &existing); err != nil {
			return fmt.Errorf("failed to parse user config %s: %w", path, err)
		}
	}
	updates := map[string]any{}
	for key, value := range flat {
		if err := setNested(updates, key, value); err != nil {
			return err
		}
	}
	if err := mergo.Merge(&existing, updates, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge configuration changes: %w", err)
	}
	out, err := toml.Marshal(existing)
	if err != nil {
		return fmt.Errorf("failed to serialize user config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("failed to write user config: %w", err)
	}
	return nil
}

// Reload re-runs the full load pipeline and applies the result
// unconditionally. Used after a restart or on explicit operator request.
func (m *Manager) Reload(ctx context.Context) error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()
	sources := m.buildSources(ctx)
	config, err := m.Service.Load(ctx, sources...)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}
	if err := m.Service.Validate(config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	m.lastSources = sources
	m.applyConfig(config)
	return nil
}

// reloadHot re-resolves configuration after an external file change. When
// the new resolution differs from the running one on any cold setting, the
// whole resolution is deferred and the restart-required flag is set.
func (m *Manager) reloadHot(ctx context.Context) {
	log := logger.FromContext(ctx)
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()
	sources := m.buildSources(ctx)
	config, err := m.Service.Load(ctx, sources...)
	if err != nil {
		log.Warn("failed to reload configuration; keeping previous", "error", err)
		return
	}
	m.lastSources = sources
	if old := m.Get(); old != nil && coldValuesChanged(old, config) {
		m.restartRequired.Store(true)
		log.Info("config file changed a restart-only setting; restart required to apply")
		return
	}
	m.applyConfig(config)
}

// Watch starts watching the user config file and hot-reloads on change.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := NewWatcher(ctx)
	if err != nil {
		return err
	}
	if err := watcher.Watch(m.UserConfigPath()); err != nil {
		_ = watcher.Close()
		return err
	}
	watcher.OnChange(func() {
		if m.debounce > 0 {
			time.Sleep(m.debounce)
		}
		m.reloadHot(ctx)
	})
	m.watcher = watcher
	return nil
}

// OnChange registers a callback invoked when a new configuration is applied.
func (m *Manager) OnChange(callback func(*Config)) {
	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// Close releases the file watcher, if any. Safe to call multiple times.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		if m.watcher != nil {
			err = m.watcher.Close()
		}
	})
	return err
}

// applyConfig stores a new configuration and notifies callbacks when it
// differs from the previous one.
func (m *Manager) applyConfig(config *Config) {
	oldConfig := m.Get()
	m.current.Store(config)
	if oldConfig != nil && reflect.DeepEqual(oldConfig, config) {
		return
	}
	m.callbackMu.RLock()
	callbacks := make([]func(*Config), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.callbackMu.RUnlock()
	for _, callback := range callbacks {
		if callback != nil {
			callback(config)
		}
	}
}

// coldValuesChanged reports whether two resolved configurations differ on
// any restart-only setting.
func coldValuesChanged(a, b *Config) bool {
	if a.Runtime != b.Runtime ||
		a.RuntimeConfig.Environment != b.RuntimeConfig.Environment ||
		a.RuntimeConfig.Local.ProjectRoot != b.RuntimeConfig.Local.ProjectRoot {
		return true
	}
	if a.Sandbox.BaseContainerImage != b.Sandbox.BaseContainerImage ||
		a.Sandbox.RuntimeContainerImage != b.Sandbox.RuntimeContainerImage ||
		a.Sandbox.Platform != b.Sandbox.Platform {
		return true
	}
	if a.Security.SandboxMode != b.Security.SandboxMode {
		return true
	}
	llmA := a.LLMs[DefaultLLMKey]
	llmB := b.LLMs[DefaultLLMKey]
	return llmA.APIBase != llmB.APIBase || llmA.BaseURL != llmB.BaseURL
}
