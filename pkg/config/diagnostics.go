package config

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/all-hands-ai/openhands/pkg/logger"
)

// Diagnostics is a read-only reporting layer over the manager and the
// snapshot validator. It never mutates configuration state.
type Diagnostics struct {
	manager *Manager
}

// NewDiagnostics creates a diagnostics reporter bound to a manager.
func NewDiagnostics(manager *Manager) *Diagnostics {
	return &Diagnostics{manager: manager}
}

// Report is the full diagnostics output.
type Report struct {
	ConfigHealth        HealthReport              `json:"config_health"`
	SourceAnalysis      map[string]SourceAnalysis `json:"source_analysis"`
	KeyAnalysis         KeyAnalysis               `json:"key_analysis"`
	RuntimeAnalysis     RuntimeAnalysis           `json:"runtime_analysis"`
	EnvironmentAnalysis EnvironmentAnalysis       `json:"environment_analysis"`
	Recommendations     []string                  `json:"recommendations"`
}

// HealthReport summarizes validation state of the live configuration.
type HealthReport struct {
	Status          string   `json:"status"`
	Errors          []string `json:"errors"`
	Warnings        []string `json:"warnings"`
	RequiresRestart bool     `json:"requires_restart"`
}

// SourceAnalysis describes one configuration tier.
type SourceAnalysis struct {
	Loaded    bool   `json:"loaded"`
	KeysCount int    `json:"keys_count"`
	Path      string `json:"path,omitempty"`
	Status    string `json:"status"`
}

// KeyAnalysis partitions resolved key paths into cold and hot sets.
type KeyAnalysis struct {
	TotalKeys int      `json:"total_keys"`
	ColdKeys  KeyGroup `json:"cold_keys"`
	HotKeys   KeyGroup `json:"hot_keys"`
}

// KeyGroup is one side of the cold/hot partition.
type KeyGroup struct {
	Count int      `json:"count"`
	Keys  []string `json:"keys"`
}

// RuntimeAnalysis describes the active runtime selection.
type RuntimeAnalysis struct {
	CurrentRuntime string                `json:"current_runtime"`
	LegacyRuntime  string                `json:"legacy_runtime"`
	RuntimeStatus  string                `json:"runtime_status"`
	Local          *LocalRuntimeAnalysis `json:"local,omitempty"`
}

// LocalRuntimeAnalysis carries local-runtime specifics: project root state
// and path mapping.
type LocalRuntimeAnalysis struct {
	ProjectRoot          string `json:"project_root,omitempty"`
	ProjectRootExists    bool   `json:"project_root_exists"`
	ProjectRootReadable  bool   `json:"project_root_readable"`
	ProjectRootWritable  bool   `json:"project_root_writable"`
	PathMappingEnabled   bool   `json:"path_mapping_enabled"`
	MountHostPrefix      string `json:"mount_host_prefix,omitempty"`
	MountContainerPrefix string `json:"mount_container_prefix,omitempty"`
}

// EnvironmentAnalysis lists the OPENHANDS_* variables and recorded override
// maps.
type EnvironmentAnalysis struct {
	EnvVars      map[string]string `json:"openhands_env_vars"`
	EnvOverrides map[string]any    `json:"env_overrides"`
	CLIOverrides map[string]any    `json:"cli_overrides"`
}

// Run produces a full diagnostics report against the current configuration.
func (d *Diagnostics) Run(ctx context.Context) Report {
	return Report{
		ConfigHealth:        d.checkHealth(ctx),
		SourceAnalysis:      d.analyzeSources(),
		KeyAnalysis:         d.analyzeKeys(ctx),
		RuntimeAnalysis:     d.analyzeRuntime(),
		EnvironmentAnalysis: d.analyzeEnvironment(),
		Recommendations:     d.recommendations(ctx),
	}
}

func (d *Diagnostics) checkHealth(ctx context.Context) HealthReport {
	config := d.manager.Get()
	if config == nil {
		return HealthReport{Status: "error", Errors: []string{"no configuration loaded"}, Warnings: []string{}}
	}
	data, err := AsMap(config)
	if err != nil {
		return HealthReport{
			Status:          "error",
			Errors:          []string{err.Error()},
			Warnings:        []string{},
			RequiresRestart: d.manager.RestartRequired(),
		}
	}
	result := NewValidator().Validate(data)
	status := "healthy"
	if !result.Valid {
		status = "unhealthy"
	}
	return HealthReport{
		Status:          status,
		Errors:          result.Errors,
		Warnings:        result.Warnings,
		RequiresRestart: d.manager.RestartRequired(),
	}
}

func (d *Diagnostics) analyzeSources() map[string]SourceAnalysis {
	analysis := make(map[string]SourceAnalysis)
	for _, info := range d.manager.SourceInfos() {
		status := "inactive"
		if info.Loaded {
			status = "active"
		}
		analysis[info.Name] = SourceAnalysis{
			Loaded:    info.Loaded,
			KeysCount: info.KeysCount,
			Path:      info.Path,
			Status:    status,
		}
	}
	return analysis
}

func (d *Diagnostics) analyzeKeys(ctx context.Context) KeyAnalysis {
	config := d.manager.Get()
	if config == nil {
		return KeyAnalysis{ColdKeys: KeyGroup{Keys: []string{}}, HotKeys: KeyGroup{Keys: []string{}}}
	}
	data, err := AsMap(config)
	if err != nil {
		logger.FromContext(ctx).Warn("failed to serialize configuration for key analysis", "error", err)
		return KeyAnalysis{ColdKeys: KeyGroup{Keys: []string{}}, HotKeys: KeyGroup{Keys: []string{}}}
	}
	allKeys := collectKeys(data, "")
	cold := make([]string, 0)
	hot := make([]string, 0)
	for _, key := range allKeys {
		if IsColdKey(key) {
			cold = append(cold, key)
		} else {
			hot = append(hot, key)
		}
	}
	sort.Strings(cold)
	sort.Strings(hot)
	return KeyAnalysis{
		TotalKeys: len(allKeys),
		ColdKeys:  KeyGroup{Count: len(cold), Keys: cold},
		HotKeys:   KeyGroup{Count: len(hot), Keys: hot},
	}
}

// collectKeys gathers every key path in the tree, including intermediate
// section keys.
func collectKeys(data map[string]any, prefix string) []string {
	keys := make([]string, 0, len(data))
	for key, value := range data {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		keys = append(keys, fullKey)
		if nested, ok := value.(map[string]any); ok {
			keys = append(keys, collectKeys(nested, fullKey)...)
		}
	}
	return keys
}

func (d *Diagnostics) analyzeRuntime() RuntimeAnalysis {
	config := d.manager.Get()
	if config == nil {
		return RuntimeAnalysis{CurrentRuntime: "unknown", RuntimeStatus: "error"}
	}
	analysis := RuntimeAnalysis{
		CurrentRuntime: config.EffectiveRuntime(),
		LegacyRuntime:  config.Runtime,
		RuntimeStatus:  "configured",
	}
	if analysis.CurrentRuntime != "local" {
		return analysis
	}
	local := config.RuntimeConfig.Local
	projectRoot := local.GetProjectRoot(config.WorkspaceBase)
	localAnalysis := &LocalRuntimeAnalysis{
		ProjectRoot:          projectRoot,
		PathMappingEnabled:   local.MountHostPrefix != "" && local.MountContainerPrefix != "",
		MountHostPrefix:      local.MountHostPrefix,
		MountContainerPrefix: local.MountContainerPrefix,
	}
	if projectRoot != "" {
		if info, err := os.Stat(projectRoot); err == nil && info.IsDir() {
			localAnalysis.ProjectRootExists = true
			if f, err := os.Open(projectRoot); err == nil {
				localAnalysis.ProjectRootReadable = true
				_ = f.Close()
			}
			if tmp, err := os.CreateTemp(projectRoot, ".openhands-write-check-*"); err == nil {
				localAnalysis.ProjectRootWritable = true
				_ = tmp.Close()
				_ = os.Remove(tmp.Name())
			}
		}
	}
	analysis.Local = localAnalysis
	return analysis
}

func (d *Diagnostics) analyzeEnvironment() EnvironmentAnalysis {
	envVars := make(map[string]string)
	for _, entry := range os.Environ() {
		name, value, found := strings.Cut(entry, "=")
		if !found || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		envVars[strings.ToLower(strings.TrimPrefix(name, EnvPrefix))] = value
	}
	envOverrides := d.manager.EnvOverrides()
	if envOverrides == nil {
		envOverrides = map[string]any{}
	}
	cliOverrides := d.manager.CLIOverrides()
	if cliOverrides == nil {
		cliOverrides = map[string]any{}
	}
	return EnvironmentAnalysis{
		EnvVars:      envVars,
		EnvOverrides: envOverrides,
		CLIOverrides: cliOverrides,
	}
}

func (d *Diagnostics) recommendations(ctx context.Context) []string {
	recommendations := make([]string, 0)
	config := d.manager.Get()
	if config == nil {
		return recommendations
	}
	if llm, ok := config.DefaultLLM(); ok {
		if llm.Model != "" && !llm.APIKey.IsSet() && llm.BaseURL == "" && isKnownProviderModel(llm.Model) {
			recommendations = append(recommendations, "consider setting an API key for your LLM model")
		}
	}
	if config.Runtime == "local" {
		recommendations = append(recommendations, "local runtime is less secure, consider using the Docker runtime")
	}
	if config.Security.SandboxMode == "disabled" {
		recommendations = append(recommendations, "security sandbox is disabled, enable it for better security")
	}
	if d.manager.RestartRequired() {
		recommendations = append(recommendations, "configuration changes require a restart to take effect")
	}
	if len(d.manager.EnvOverrides()) > 0 {
		recommendations = append(recommendations, "environment variables are overriding configuration, ensure this is intentional")
	}
	return recommendations
}
