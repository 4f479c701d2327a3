package definition

import (
	"reflect"
	"time"
)

var (
	stringType   = reflect.TypeOf("")
	intType      = reflect.TypeOf(0)
	boolType     = reflect.TypeOf(false)
	float64Type  = reflect.TypeOf(float64(0))
	durationType = reflect.TypeOf(time.Duration(0))
)

// CreateRegistry creates and populates the configuration registry.
// This is the single source of truth for all configuration defaults.
func CreateRegistry() *Registry {
	registry := NewRegistry()
	registerCoreFields(registry)
	registerRuntimeFields(registry)
	registerLLMFields(registry)
	registerAgentFields(registry)
	registerSandboxFields(registry)
	registerSecurityFields(registry)
	return registry
}

func registerCoreFields(registry *Registry) {
	registry.Register(&FieldDef{
		Path:    "runtime",
		Default: "docker",
		CLIFlag: "runtime",
		EnvVar:  "OPENHANDS_RUNTIME",
		Type:    stringType,
		Help:    "Runtime environment (docker, local, remote, e2b, modal, kubernetes, cli)",
	})
	registry.Register(&FieldDef{
		Path:    "workspace_base",
		Default: "./workspace",
		CLIFlag: "workspace-base",
		Type:    stringType,
		Help:    "Base directory for agent workspaces",
	})
	registry.Register(&FieldDef{
		Path:    "default_agent",
		Default: "CodeActAgent",
		CLIFlag: "default-agent",
		Type:    stringType,
		Help:    "Agent used when none is specified",
	})
	registry.Register(&FieldDef{
		Path:    "debug",
		Default: false,
		CLIFlag: "debug",
		EnvVar:  "OPENHANDS_DEBUG",
		Type:    boolType,
		Help:    "Enable debug logging",
	})
	registry.Register(&FieldDef{
		Path:    "log_level",
		Default: "info",
		CLIFlag: "log-level",
		Type:    stringType,
		Help:    "Log level (debug, info, warn, error)",
	})
	registry.Register(&FieldDef{
		Path:    "file_store",
		Default: "local",
		Type:    stringType,
		Help:    "File store backend",
	})
	registry.Register(&FieldDef{
		Path:    "file_store_path",
		Default: "/tmp/file_store",
		Type:    stringType,
		Help:    "Path for the local file store backend",
	})
	registry.Register(&FieldDef{
		Path:    "max_budget_per_task",
		Default: 0.0,
		CLIFlag: "max-budget-per-task",
		Type:    float64Type,
		Help:    "Maximum budget per task in USD (0 disables the limit)",
	})
}

func registerRuntimeFields(registry *Registry) {
	registry.Register(&FieldDef{
		Path:    "runtime_config.environment",
		Default: "",
		Type:    stringType,
		Help:    "New-style runtime environment; overrides the legacy runtime field when set",
	})
	registry.Register(&FieldDef{
		Path:    "runtime_config.local.project_root",
		Default: "",
		CLIFlag: "project-root",
		Type:    stringType,
		Help:    "Working root directory for the local runtime",
	})
	registry.Register(&FieldDef{
		Path:    "runtime_config.local.mount_host_prefix",
		Default: "",
		Type:    stringType,
		Help:    "Host path prefix for path mapping when running inside Docker",
	})
	registry.Register(&FieldDef{
		Path:    "runtime_config.local.mount_container_prefix",
		Default: "",
		Type:    stringType,
		Help:    "Container path prefix for path mapping when running inside Docker",
	})
}

func registerLLMFields(registry *Registry) {
	registry.Register(&FieldDef{
		Path:    "llms.llm.model",
		Default: "gpt-4o",
		CLIFlag: "llm-model",
		EnvVar:  "OPENHANDS_LLM_MODEL",
		Type:    stringType,
		Help:    "Default LLM model identifier",
	})
	registry.Register(&FieldDef{
		Path:    "llms.llm.api_key",
		Default: "",
		EnvVar:  "OPENHANDS_LLM_API_KEY",
		Type:    stringType,
		Help:    "API key for the default LLM provider",
	})
	registry.Register(&FieldDef{
		Path:    "llms.llm.base_url",
		Default: "",
		EnvVar:  "OPENHANDS_LLM_BASE_URL",
		Type:    stringType,
		Help:    "Base URL for the default LLM provider",
	})
	registry.Register(&FieldDef{
		Path:    "llms.llm.api_base",
		Default: "",
		Type:    stringType,
		Help:    "Legacy API base for the default LLM provider",
	})
	registry.Register(&FieldDef{
		Path:    "llms.llm.temperature",
		Default: 0.0,
		CLIFlag: "llm-temperature",
		Type:    float64Type,
		Help:    "Sampling temperature in [0,2]",
	})
	registry.Register(&FieldDef{
		Path:    "llms.llm.top_p",
		Default: 1.0,
		Type:    float64Type,
		Help:    "Nucleus sampling parameter in [0,1]",
	})
	registry.Register(&FieldDef{
		Path:    "llms.llm.timeout",
		Default: 60 * time.Second,
		Type:    durationType,
		Help:    "Request timeout for LLM calls",
	})
	registry.Register(&FieldDef{
		Path:    "llms.llm.num_retries",
		Default: 3,
		Type:    intType,
		Help:    "Number of retries for failed LLM calls",
	})
	registry.Register(&FieldDef{
		Path:    "llms.llm.max_output_tokens",
		Default: 0,
		Type:    intType,
		Help:    "Maximum output tokens per completion (0 uses the provider default)",
	})
}

func registerAgentFields(registry *Registry) {
	registry.Register(&FieldDef{
		Path:    "agents.default.enable_browsing",
		Default: true,
		Type:    boolType,
		Help:    "Allow the agent to browse the web",
	})
	registry.Register(&FieldDef{
		Path:    "agents.default.enable_editor",
		Default: true,
		Type:    boolType,
		Help:    "Allow the agent to use the file editor",
	})
	registry.Register(&FieldDef{
		Path:    "agents.default.enable_jupyter",
		Default: true,
		Type:    boolType,
		Help:    "Allow the agent to execute IPython cells",
	})
	registry.Register(&FieldDef{
		Path:    "agents.default.enable_cmd",
		Default: true,
		Type:    boolType,
		Help:    "Allow the agent to run shell commands",
	})
	registry.Register(&FieldDef{
		Path:    "agents.default.max_iterations",
		Default: 100,
		CLIFlag: "max-iterations",
		Type:    intType,
		Help:    "Maximum agent iterations per task",
	})
	registry.Register(&FieldDef{
		Path:    "agents.default.memory.max_threads",
		Default: 2,
		Type:    intType,
		Help:    "Maximum concurrent memory threads",
	})
	registry.Register(&FieldDef{
		Path:    "agents.default.memory.condenser.type",
		Default: "truncation",
		Type:    stringType,
		Help:    "History condensation strategy (truncation, summary)",
	})
}

func registerSandboxFields(registry *Registry) {
	registry.Register(&FieldDef{
		Path:    "sandbox.base_container_image",
		Default: "nikolaik/python-nodejs:python3.12-nodejs22",
		CLIFlag: "sandbox-base-image",
		Type:    stringType,
		Help:    "Base container image for the sandbox",
	})
	registry.Register(&FieldDef{
		Path:    "sandbox.runtime_container_image",
		Default: "",
		Type:    stringType,
		Help:    "Prebuilt runtime container image; overrides the base image when set",
	})
	registry.Register(&FieldDef{
		Path:    "sandbox.platform",
		Default: "linux/amd64",
		Type:    stringType,
		Help:    "Container platform (linux/amd64, linux/arm64, linux/arm/v7)",
	})
	registry.Register(&FieldDef{
		Path:    "sandbox.timeout",
		Default: 120,
		Type:    intType,
		Help:    "Sandbox command timeout in seconds",
	})
	registry.Register(&FieldDef{
		Path:    "sandbox.user_id",
		Default: 0,
		Type:    intType,
		Help:    "UID used inside the sandbox container",
	})
	registry.Register(&FieldDef{
		Path:    "sandbox.use_host_network",
		Default: false,
		Type:    boolType,
		Help:    "Run the sandbox on the host network",
	})
}

func registerSecurityFields(registry *Registry) {
	registry.Register(&FieldDef{
		Path:    "security.sandbox_mode",
		Default: "strict",
		Type:    stringType,
		Help:    "Sandbox enforcement mode (strict, permissive, disabled)",
	})
	registry.Register(&FieldDef{
		Path:    "security.confirmation_mode",
		Default: false,
		Type:    boolType,
		Help:    "Require confirmation before executing agent actions",
	})
	registry.Register(&FieldDef{
		Path:    "security.security_analyzer",
		Default: "",
		Type:    stringType,
		Help:    "Security analyzer to evaluate agent actions",
	})
}
