package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/all-hands-ai/openhands/pkg/config/definition"
)

// Config is the resolved OpenHands configuration. It is produced by merging
// the four source tiers (default < user < env < cli) and is exposed to
// callers as a read snapshot via Manager.Get.
//
// Top-level scalar fields correspond to the [core] section of the user config
// file; the file provider lifts [core] children to the root before merging.
type Config struct {
	Runtime          string                 `koanf:"runtime" json:"runtime" validate:"omitempty,oneof=docker local remote e2b modal kubernetes cli"`
	WorkspaceBase    string                 `koanf:"workspace_base" json:"workspace_base"`
	DefaultAgent     string                 `koanf:"default_agent" json:"default_agent"`
	Debug            bool                   `koanf:"debug" json:"debug"`
	LogLevel         string                 `koanf:"log_level" json:"log_level" validate:"omitempty,oneof=debug info warn error"`
	FileStore        string                 `koanf:"file_store" json:"file_store"`
	FileStorePath    string                 `koanf:"file_store_path" json:"file_store_path"`
	MaxBudgetPerTask float64                `koanf:"max_budget_per_task" json:"max_budget_per_task" validate:"min=0"`
	RuntimeConfig    RuntimeConfig          `koanf:"runtime_config" json:"runtime_config"`
	LLMs             map[string]LLMConfig   `koanf:"llms" json:"llms"`
	Agents           map[string]AgentConfig `koanf:"agents" json:"agents"`
	Sandbox          SandboxConfig          `koanf:"sandbox" json:"sandbox"`
	Security         SecurityConfig         `koanf:"security" json:"security"`
}

// RuntimeConfig is the new-style runtime configuration. The legacy scalar
// Runtime field remains authoritative when Environment is empty.
type RuntimeConfig struct {
	Environment string             `koanf:"environment" json:"environment" validate:"omitempty,oneof=docker local remote e2b modal kubernetes cli"`
	Local       LocalRuntimeConfig `koanf:"local" json:"local"`
}

// LocalRuntimeConfig configures the local (unsandboxed) runtime.
type LocalRuntimeConfig struct {
	ProjectRoot          string `koanf:"project_root" json:"project_root"`
	MountHostPrefix      string `koanf:"mount_host_prefix" json:"mount_host_prefix"`
	MountContainerPrefix string `koanf:"mount_container_prefix" json:"mount_container_prefix"`
}

// LLMConfig configures one named LLM. The entry under key "llm" is the
// default model used when no explicit selection is made.
type LLMConfig struct {
	Model           string          `koanf:"model" json:"model"`
	APIKey          SensitiveString `koanf:"api_key" json:"api_key" sensitive:"true"`
	BaseURL         string          `koanf:"base_url" json:"base_url"`
	APIBase         string          `koanf:"api_base" json:"api_base"`
	Temperature     float64         `koanf:"temperature" json:"temperature" validate:"min=0,max=2"`
	TopP            float64         `koanf:"top_p" json:"top_p" validate:"min=0,max=1"`
	Timeout         time.Duration   `koanf:"timeout" json:"timeout"`
	NumRetries      int             `koanf:"num_retries" json:"num_retries" validate:"min=0"`
	MaxOutputTokens int             `koanf:"max_output_tokens" json:"max_output_tokens" validate:"min=0"`
}

// AgentConfig configures one named agent. The entry under key "default" is
// the fallback for unnamed agents.
type AgentConfig struct {
	EnableBrowsing bool              `koanf:"enable_browsing" json:"enable_browsing"`
	EnableEditor   bool              `koanf:"enable_editor" json:"enable_editor"`
	EnableJupyter  bool              `koanf:"enable_jupyter" json:"enable_jupyter"`
	EnableCmd      bool              `koanf:"enable_cmd" json:"enable_cmd"`
	MaxIterations  int               `koanf:"max_iterations" json:"max_iterations" validate:"min=0"`
	Memory         AgentMemoryConfig `koanf:"memory" json:"memory"`
}

// AgentMemoryConfig configures per-agent memory behavior.
type AgentMemoryConfig struct {
	MaxThreads int             `koanf:"max_threads" json:"max_threads" validate:"min=0"`
	Condenser  CondenserConfig `koanf:"condenser" json:"condenser"`
}

// CondenserConfig selects the history condensation strategy.
type CondenserConfig struct {
	Type string `koanf:"type" json:"type"`
}

// SandboxConfig configures the execution sandbox.
type SandboxConfig struct {
	BaseContainerImage    string `koanf:"base_container_image" json:"base_container_image"`
	RuntimeContainerImage string `koanf:"runtime_container_image" json:"runtime_container_image"`
	Platform              string `koanf:"platform" json:"platform"`
	Timeout               int    `koanf:"timeout" json:"timeout" validate:"min=0"`
	UserID                int    `koanf:"user_id" json:"user_id" validate:"min=0"`
	UseHostNetwork        bool   `koanf:"use_host_network" json:"use_host_network"`
}

// SecurityConfig configures security policy.
type SecurityConfig struct {
	SandboxMode      string `koanf:"sandbox_mode" json:"sandbox_mode" validate:"omitempty,oneof=strict permissive disabled"`
	ConfirmationMode bool   `koanf:"confirmation_mode" json:"confirmation_mode"`
	SecurityAnalyzer string `koanf:"security_analyzer" json:"security_analyzer"`
}

// EffectiveRuntime resolves the runtime environment, preferring the
// new-style runtime_config.environment over the legacy scalar.
func (c *Config) EffectiveRuntime() string {
	if c.RuntimeConfig.Environment != "" {
		return c.RuntimeConfig.Environment
	}
	return c.Runtime
}

// DefaultLLM returns the default LLM configuration.
func (c *Config) DefaultLLM() (LLMConfig, bool) {
	llm, ok := c.LLMs[DefaultLLMKey]
	return llm, ok
}

// GetProjectRoot resolves the local runtime project root, falling back to
// workspace_base when project_root is unset. Returns "" when neither is set.
func (l *LocalRuntimeConfig) GetProjectRoot(workspaceBase string) string {
	root := l.ProjectRoot
	if root == "" {
		root = workspaceBase
	}
	if root == "" {
		return ""
	}
	if expanded, err := expandHome(root); err == nil {
		root = expanded
	}
	if abs, err := filepath.Abs(root); err == nil {
		return abs
	}
	return root
}

func expandHome(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path, err
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[1:]), nil
}

// DefaultLLMKey and DefaultAgentKey name the implicit default entries in the
// llms and agents maps.
const (
	DefaultLLMKey    = "llm"
	DefaultAgentKey  = "default"
	EnvPrefix        = "OPENHANDS_"
	UserConfigEnvVar = "OPENHANDS_CONFIG"
)

// SourceType identifies the tier a configuration value came from.
type SourceType string

const (
	SourceDefault SourceType = "default"
	SourceUser    SourceType = "user"
	SourceEnv     SourceType = "env"
	SourceCLI     SourceType = "cli"
)

// Source is a configuration tier: a named bag of key/value data plus load
// metadata. Sources are created fresh on every Load cycle.
type Source interface {
	// Load reads configuration data from the source.
	Load() (map[string]any, error)
	// Type returns the source tier identifier.
	Type() SourceType
	// Info returns load metadata captured by the most recent Load call.
	Info() SourceInfo
}

// SourceInfo is the introspection record for one source tier.
type SourceInfo struct {
	Name      string `json:"name"`
	Path      string `json:"path,omitempty"`
	Loaded    bool   `json:"loaded"`
	KeysCount int    `json:"keys_count"`
}

// Service loads and validates configuration.
type Service interface {
	// Load merges the given sources in precedence order (lowest first) into
	// a resolved configuration. Recoverable per-tier failures are logged and
	// degrade gracefully; Load fails only when the defaults themselves
	// cannot be constructed.
	Load(ctx context.Context, sources ...Source) (*Config, error)
	// Validate runs struct-level validation against a resolved config.
	Validate(config *Config) error
	// GetSource reports which tier supplied a resolved key.
	GetSource(key string) SourceType
}

// Default returns a Config populated from the field registry defaults.
func Default() *Config {
	registry := definition.CreateRegistry()
	cfg := &Config{
		Runtime:          registry.StringDefault("runtime"),
		WorkspaceBase:    registry.StringDefault("workspace_base"),
		DefaultAgent:     registry.StringDefault("default_agent"),
		Debug:            registry.BoolDefault("debug"),
		LogLevel:         registry.StringDefault("log_level"),
		FileStore:        registry.StringDefault("file_store"),
		FileStorePath:    registry.StringDefault("file_store_path"),
		MaxBudgetPerTask: registry.FloatDefault("max_budget_per_task"),
		RuntimeConfig: RuntimeConfig{
			Environment: registry.StringDefault("runtime_config.environment"),
		},
		LLMs: map[string]LLMConfig{
			DefaultLLMKey: {
				Model:       registry.StringDefault("llms.llm.model"),
				Temperature: registry.FloatDefault("llms.llm.temperature"),
				TopP:        registry.FloatDefault("llms.llm.top_p"),
				Timeout:     registry.DurationDefault("llms.llm.timeout"),
				NumRetries:  registry.IntDefault("llms.llm.num_retries"),
			},
		},
		Agents: map[string]AgentConfig{
			DefaultAgentKey: {
				EnableBrowsing: registry.BoolDefault("agents.default.enable_browsing"),
				EnableEditor:   registry.BoolDefault("agents.default.enable_editor"),
				EnableJupyter:  registry.BoolDefault("agents.default.enable_jupyter"),
				EnableCmd:      registry.BoolDefault("agents.default.enable_cmd"),
				MaxIterations:  registry.IntDefault("agents.default.max_iterations"),
				Memory: AgentMemoryConfig{
					MaxThreads: registry.IntDefault("agents.default.memory.max_threads"),
					Condenser: CondenserConfig{
						Type: registry.StringDefault("agents.default.memory.condenser.type"),
					},
				},
			},
		},
		Sandbox: SandboxConfig{
			BaseContainerImage: registry.StringDefault("sandbox.base_container_image"),
			Platform:           registry.StringDefault("sandbox.platform"),
			Timeout:            registry.IntDefault("sandbox.timeout"),
		},
		Security: SecurityConfig{
			SandboxMode: registry.StringDefault("security.sandbox_mode"),
		},
	}
	return cfg
}
