package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/all-hands-ai/openhands/pkg/config/definition"
	"github.com/all-hands-ai/openhands/pkg/logger"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/pelletier/go-toml/v2"
)

//go:embed config.template.toml
var configTemplate []byte

// defaultSource materializes the built-in defaults as a nested map.
type defaultSource struct {
	info SourceInfo
}

// NewDefaultSource creates the default (lowest precedence) source.
func NewDefaultSource() Source {
	return &defaultSource{info: SourceInfo{Name: string(SourceDefault)}}
}

func (d *defaultSource) Load() (map[string]any, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to serialize default configuration: %w", err)
	}
	data := k.Raw()
	d.info.Loaded = true
	d.info.KeysCount = len(data)
	return data, nil
}

func (d *defaultSource) Type() SourceType { return SourceDefault }
func (d *defaultSource) Info() SourceInfo { return d.info }

// userSource reads the user TOML config file, creating it from the bundled
// template on first use.
type userSource struct {
	ctx  context.Context
	path string
	info SourceInfo
}

// NewUserSource creates the user-file source. An empty path resolves through
// ResolveUserConfigPath.
func NewUserSource(ctx context.Context, path string) Source {
	if path == "" {
		path = ResolveUserConfigPath()
	}
	return &userSource{ctx: ctx, path: path}
}

// ResolveUserConfigPath returns the user config file location: the
// OPENHANDS_CONFIG env var when set, else ~/.openhands/config.toml.
func ResolveUserConfigPath() string {
	if p := os.Getenv(UserConfigEnvVar); p != "" {
		if expanded, err := expandHome(p); err == nil {
			return expanded
		}
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".openhands", "config.toml")
	}
	return filepath.Join(home, ".openhands", "config.toml")
}

// EnsureUserConfigExists materializes the config file from the bundled
// template when it is absent, creating parent directories as needed.
func EnsureUserConfigExists(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, configTemplate, 0o644); err != nil {
		return fmt.Errorf("failed to write config template: %w", err)
	}
	logger.FromContext(ctx).Info("created user config file from template", "path", path)
	return nil
}

func (u *userSource) Load() (map[string]any, error) {
	log := logger.FromContext(u.ctx)
	u.info = SourceInfo{Name: string(SourceUser), Path: u.path}

	if err := EnsureUserConfigExists(u.ctx, u.path); err != nil {
		log.Warn("failed to materialize user config", "path", u.path, "error", err)
		return map[string]any{}, nil
	}

	raw, err := os.ReadFile(u.path)
	if err != nil {
		log.Warn("failed to read user config", "path", u.path, "error", err)
		return map[string]any{}, nil
	}

	var data map[string]any
	if err := toml.Unmarshal(raw, &data); err != nil {
		log.Warn("failed to parse user config", "path", u.path, "error", err)
		return map[string]any{}, nil
	}
	if data == nil {
		data = map[string]any{}
	}

	u.info.Loaded = true
	u.info.KeysCount = len(data)
	log.Debug("loaded user config", "path", u.path, "sections", len(data))
	return data, nil
}

func (u *userSource) Type() SourceType { return SourceUser }
func (u *userSource) Info() SourceInfo { return u.info }

// envSource snapshots OPENHANDS_* environment variables as nested overrides.
//
// OPENHANDS_<SECTION>_<FIELD> nests as {section: {field: value}}, splitting
// on the first underscore only; names without an underscore become top-level
// keys. OPENHANDS_CONFIG selects the user config path and is not an
// override.
type envSource struct {
	overrides map[string]any
	info      SourceInfo
}

// NewEnvSource creates the environment source over the process environment.
// The optional overrides map holds env-tier updates recorded at runtime and
// is deep-merged over the scanned variables.
func NewEnvSource(overrides map[string]any) Source {
	return &envSource{overrides: overrides}
}

// TransformEnvKey converts an OPENHANDS_* variable name to a config path.
// The prefix has already been stripped by the env provider.
func TransformEnvKey(name string) string {
	if name == strings.TrimPrefix(UserConfigEnvVar, EnvPrefix) {
		return ""
	}
	key := strings.ToLower(name)
	if key == "" {
		return ""
	}
	if section, field, found := strings.Cut(key, "_"); found && section != "" && field != "" {
		return section + "." + field
	}
	return key
}

func (e *envSource) Load() (map[string]any, error) {
	k := koanf.New(".")
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return TransformEnvKey(strings.TrimPrefix(key, EnvPrefix)), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	data := k.Raw()
	if len(e.overrides) > 0 {
		if err := mergo.Merge(&data, e.overrides, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge environment overrides: %w", err)
		}
	}
	e.info = SourceInfo{Name: string(SourceEnv), Loaded: true, KeysCount: len(data)}
	return data, nil
}

func (e *envSource) Type() SourceType { return SourceEnv }
func (e *envSource) Info() SourceInfo { return e.info }

// cliSource maps already-parsed CLI flag values onto config paths using the
// field registry. Unknown flags are collected and skipped, never fatal.
type cliSource struct {
	flags   map[string]any
	unknown []string
	info    SourceInfo
}

// NewCLISource creates the CLI (highest precedence) source from a flat
// flag-name -> value map.
func NewCLISource(flags map[string]any) Source {
	return &cliSource{flags: flags}
}

func (c *cliSource) Load() (map[string]any, error) {
	data := map[string]any{}
	c.unknown = c.unknown[:0]
	if len(c.flags) > 0 {
		registry := definition.CreateRegistry()
		flagToPath := registry.GetCLIFlagMapping()
		for key, value := range c.flags {
			path, ok := flagToPath[key]
			if !ok {
				// Allow dotted config paths directly alongside flag names.
				if registry.HasPath(key) {
					path = key
				} else {
					c.unknown = append(c.unknown, key)
					continue
				}
			}
			if err := setNested(data, path, value); err != nil {
				return nil, fmt.Errorf("failed to set CLI override %s: %w", key, err)
			}
		}
	}
	c.info = SourceInfo{Name: string(SourceCLI), Loaded: true, KeysCount: len(data)}
	return data, nil
}

func (c *cliSource) Type() SourceType { return SourceCLI }
func (c *cliSource) Info() SourceInfo { return c.info }

// UnknownKeys returns the flags the last Load reported but skipped.
func (c *cliSource) UnknownKeys() []string {
	out := make([]string, len(c.unknown))
	copy(out, c.unknown)
	return out
}

// setNested sets a value in a nested map structure using dot notation.
func setNested(m map[string]any, path string, value any) error {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, ".")
	current := m
	for i := 0; i < len(parts)-1; i++ {
		part := parts[i]
		if _, exists := current[part]; !exists {
			current[part] = make(map[string]any)
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			return fmt.Errorf("configuration conflict: key %q is not a map", strings.Join(parts[:i+1], "."))
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
	return nil
}
