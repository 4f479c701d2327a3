package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// ValidationResult accumulates the outcome of a full validation pass.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Validator runs rule-based validation over a configuration snapshot in its
// nested map form. Each section's checks run independently so one section's
// problems never mask another's.
type Validator struct {
	errors   []string
	warnings []string
}

// NewValidator creates a snapshot validator.
func NewValidator() *Validator {
	return &Validator{}
}

var dockerImagePattern = regexp.MustCompile(
	`^[a-z0-9]+(?:[._-][a-z0-9]+)*(?:/[a-z0-9]+(?:[._-][a-z0-9]+)*)*(?::[a-zA-Z0-9._-]+)?$`,
)

var validRuntimes = []string{"docker", "local", "remote", "e2b", "modal", "kubernetes", "cli"}

// Validate checks a configuration snapshot and returns accumulated errors
// and warnings. A failure of the initial typed coercion short-circuits with
// a single generic error; otherwise every section check runs.
func (v *Validator) Validate(data map[string]any) ValidationResult {
	v.errors = nil
	v.warnings = nil

	if err := v.coerce(data); err != nil {
		v.errorf("configuration validation failed: %v", err)
		return v.result()
	}

	v.validateLLM(getMap(data, "llms"))
	v.validateRuntime(getString(data, "runtime", "docker"))
	v.validateRuntimeConfig(getMap(data, "runtime_config"), data)
	v.validateSandbox(getMap(data, "sandbox"))
	v.validateAgents(getMap(data, "agents"))
	v.validateSecurity(getMap(data, "security"))
	v.validateFilePaths(data)
	v.validateDeprecatedKeys(data, "")

	return v.result()
}

// coerce checks that the snapshot decodes into the typed configuration.
func (v *Validator) coerce(data map[string]any) error {
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &cfg,
		TagName:          "koanf",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			sensitiveStringDecodeHook,
		),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(data)
}

func (v *Validator) validateLLM(llms map[string]any) {
	if len(llms) == 0 {
		v.warnf("no LLM configuration found")
		return
	}
	llm := getMap(llms, DefaultLLMKey)
	if len(llm) == 0 {
		v.errorf("missing default LLM configuration")
		return
	}
	model := getString(llm, "model", "")
	if model == "" {
		v.errorf("LLM model is required")
	}
	apiKey := getString(llm, "api_key", "")
	baseURL := getString(llm, "base_url", "")
	if model != "" && apiKey == "" && baseURL == "" && isKnownProviderModel(model) {
		v.warnf("API key may be required for model: %s", model)
	}
	if temp, ok := getNumber(llm, "temperature"); ok && (temp < 0 || temp > 2) {
		v.errorf("LLM temperature must be between 0 and 2")
	}
	if topP, ok := getNumber(llm, "top_p"); ok && (topP < 0 || topP > 1) {
		v.errorf("LLM top_p must be between 0 and 1")
	}
	if timeout, ok := getNumber(llm, "timeout"); ok && timeout <= 0 {
		v.errorf("LLM timeout must be positive")
	}
	if retries, ok := getNumber(llm, "num_retries"); ok && retries < 0 {
		v.errorf("LLM num_retries must be non-negative")
	}
}

func isKnownProviderModel(model string) bool {
	lower := strings.ToLower(model)
	for _, provider := range []string{"openai", "gpt", "anthropic", "claude"} {
		if strings.Contains(lower, provider) {
			return true
		}
	}
	return false
}

func (v *Validator) validateRuntime(runtime string) {
	if !isValidRuntime(runtime) {
		v.errorf("invalid runtime: %s (must be one of: %s)", runtime, strings.Join(validRuntimes, ", "))
	}
	if runtime == "local" {
		v.warnf("local runtime may have security implications")
	}
}

func (v *Validator) validateRuntimeConfig(runtimeConfig, root map[string]any) {
	if len(runtimeConfig) == 0 {
		return
	}
	environment := getString(runtimeConfig, "environment", "docker")
	if !isValidRuntime(environment) {
		v.errorf("invalid runtime environment: %s (must be one of: %s)",
			environment, strings.Join(validRuntimes, ", "))
	}
	if environment == "local" {
		v.warnf("local runtime has security implications: no sandboxing is provided")
		v.validateLocalRuntime(getMap(runtimeConfig, "local"), root)
	}
}

func (v *Validator) validateLocalRuntime(local, root map[string]any) {
	projectRoot := getString(local, "project_root", "")
	if projectRoot == "" {
		projectRoot = getString(root, "workspace_base", "")
	}
	if projectRoot == "" {
		v.warnf("no project_root specified for local runtime, a temporary directory will be used")
	} else {
		v.checkProjectRoot(projectRoot)
	}

	hostPrefix := getString(local, "mount_host_prefix", "")
	containerPrefix := getString(local, "mount_container_prefix", "")
	switch {
	case hostPrefix != "" && containerPrefix == "":
		v.errorf("mount_host_prefix specified without mount_container_prefix")
	case containerPrefix != "" && hostPrefix == "":
		v.errorf("mount_container_prefix specified without mount_host_prefix")
	case hostPrefix != "" && containerPrefix != "":
		if !filepath.IsAbs(hostPrefix) {
			v.errorf("mount_host_prefix must be an absolute path: %s", hostPrefix)
		}
		if !filepath.IsAbs(containerPrefix) {
			v.errorf("mount_container_prefix must be an absolute path: %s", containerPrefix)
		}
	}
}

func (v *Validator) checkProjectRoot(projectRoot string) {
	resolved := projectRoot
	if expanded, err := expandHome(resolved); err == nil {
		resolved = expanded
	}
	if abs, err := filepath.Abs(resolved); err == nil {
		resolved = abs
	}
	info, err := os.Stat(resolved)
	if err != nil {
		v.errorf("local runtime project_root does not exist: %s", resolved)
		return
	}
	if !info.IsDir() {
		v.errorf("local runtime project_root is not a directory: %s", resolved)
		return
	}
	if f, err := os.Open(resolved); err != nil {
		v.errorf("local runtime project_root is not readable: %s", resolved)
	} else {
		_ = f.Close()
	}
	if tmp, err := os.CreateTemp(resolved, ".openhands-write-check-*"); err != nil {
		v.errorf("local runtime project_root is not writable: %s", resolved)
	} else {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}
}

func (v *Validator) validateSandbox(sandbox map[string]any) {
	if len(sandbox) == 0 {
		return
	}
	if image := getString(sandbox, "base_container_image", ""); image != "" && !isValidDockerImage(image) {
		v.warnf("invalid Docker image format: %s", image)
	}
	if image := getString(sandbox, "runtime_container_image", ""); image != "" && !isValidDockerImage(image) {
		v.warnf("invalid Docker image format: %s", image)
	}
	if platform := getString(sandbox, "platform", ""); platform != "" {
		switch platform {
		case "linux/amd64", "linux/arm64", "linux/arm/v7":
		default:
			v.warnf("uncommon platform: %s", platform)
		}
	}
}

func (v *Validator) validateAgents(agents map[string]any) {
	names := make([]string, 0, len(agents))
	for name := range agents {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		agent, ok := agents[name].(map[string]any)
		if !ok {
			continue
		}
		memory := getMap(agent, "memory")
		if len(memory) == 0 {
			continue
		}
		if threads, ok := getNumber(memory, "max_threads"); ok && threads <= 0 {
			v.errorf("agent %s: max_threads must be positive", name)
		}
		condenser := getMap(memory, "condenser")
		if condenserType := getString(condenser, "type", ""); condenserType != "" {
			if condenserType != "truncation" && condenserType != "summary" {
				v.warnf("agent %s: unknown condenser type: %s", name, condenserType)
			}
		}
	}
}

func (v *Validator) validateSecurity(security map[string]any) {
	if len(security) == 0 {
		return
	}
	mode := getString(security, "sandbox_mode", "")
	switch mode {
	case "strict", "permissive", "disabled":
	default:
		v.errorf("security sandbox_mode must be: strict, permissive, or disabled")
	}
	if mode == "disabled" {
		v.warnf("security sandbox is disabled, this may be unsafe")
	}
}

func (v *Validator) validateFilePaths(data map[string]any) {
	local := getMap(getMap(data, "runtime_config"), "local")
	if projectRoot := getString(local, "project_root", ""); projectRoot != "" {
		resolved := projectRoot
		if expanded, err := expandHome(resolved); err == nil {
			resolved = expanded
		}
		if _, err := os.Stat(resolved); err != nil {
			v.warnf("runtime project root path does not exist: %s", projectRoot)
		}
	}
}

// validateDeprecatedKeys flags legacy key names at any nesting depth.
func (v *Validator) validateDeprecatedKeys(data map[string]any, prefix string) {
	deprecated := map[string]string{
		"llm_config":     "use llms.llm instead",
		"agent_config":   "use agents.default instead",
		"max_iterations": "use agents.default.max_iterations instead",
	}
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if hint, ok := deprecated[key]; ok {
			v.warnf("deprecated key %q: %s", fullKey, hint)
		}
		if nested, ok := data[key].(map[string]any); ok {
			v.validateDeprecatedKeys(nested, fullKey)
		}
	}
}

func isValidRuntime(runtime string) bool {
	for _, valid := range validRuntimes {
		if runtime == valid {
			return true
		}
	}
	return false
}

func isValidDockerImage(image string) bool {
	return dockerImagePattern.MatchString(strings.ToLower(image))
}

func (v *Validator) errorf(format string, args ...any) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}

func (v *Validator) warnf(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

func (v *Validator) result() ValidationResult {
	return ValidationResult{
		Valid:    len(v.errors) == 0,
		Errors:   append([]string(nil), v.errors...),
		Warnings: append([]string(nil), v.warnings...),
	}
}

// getMap fetches a nested map value, returning nil for any other shape.
func getMap(data map[string]any, key string) map[string]any {
	if data == nil {
		return nil
	}
	if nested, ok := data[key].(map[string]any); ok {
		return nested
	}
	return nil
}

// getString fetches a string-ish value with a fallback.
func getString(data map[string]any, key, fallback string) string {
	if data == nil {
		return fallback
	}
	switch value := data[key].(type) {
	case string:
		return value
	case SensitiveString:
		return value.Value()
	default:
		return fallback
	}
}

// getNumber fetches a numeric value, accepting the scalar types TOML and
// struct serialization produce. Durations compare as seconds.
func getNumber(data map[string]any, key string) (float64, bool) {
	if data == nil {
		return 0, false
	}
	switch value := data[key].(type) {
	case int:
		return float64(value), true
	case int64:
		return float64(value), true
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case time.Duration:
		return value.Seconds(), true
	default:
		return 0, false
	}
}
