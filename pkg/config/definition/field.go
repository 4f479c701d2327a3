package definition

import (
	"reflect"
	"time"
)

// FieldDef defines a configuration field with its metadata.
type FieldDef struct {
	Path      string       // Config path like "llms.llm.model"
	Default   any          // Default value
	CLIFlag   string       // CLI flag name like "llm-model"
	Shorthand string       // Single character shorthand
	EnvVar    string       // Environment variable name like "OPENHANDS_LLM_MODEL"
	Type      reflect.Type // Field type
	Help      string       // Help text for CLI
}

// Registry holds all configuration field definitions. It is the single
// source of truth for defaults, CLI flag names, and documented env vars.
type Registry struct {
	fields map[string]FieldDef
}

// NewRegistry creates an empty field registry.
func NewRegistry() *Registry {
	return &Registry{fields: make(map[string]FieldDef)}
}

// Register adds a field definition to the registry.
func (r *Registry) Register(field *FieldDef) {
	r.fields[field.Path] = *field
}

// GetField returns a field definition by path.
func (r *Registry) GetField(path string) (FieldDef, bool) {
	field, exists := r.fields[path]
	return field, exists
}

// GetDefault returns the default value for a field path, or nil.
func (r *Registry) GetDefault(path string) any {
	if field, exists := r.fields[path]; exists {
		return field.Default
	}
	return nil
}

// GetAllFields returns a copy of all registered fields.
func (r *Registry) GetAllFields() map[string]FieldDef {
	result := make(map[string]FieldDef, len(r.fields))
	for k, v := range r.fields {
		result[k] = v
	}
	return result
}

// GetCLIFlagMapping returns a map of CLI flag names to config paths.
func (r *Registry) GetCLIFlagMapping() map[string]string {
	mapping := make(map[string]string)
	for path, field := range r.fields {
		if field.CLIFlag != "" {
			mapping[field.CLIFlag] = path
		}
	}
	return mapping
}

// HasPath reports whether a config path is a registered field or the
// ancestor of one. Used to reject unknown keys in updates.
func (r *Registry) HasPath(path string) bool {
	if _, ok := r.fields[path]; ok {
		return true
	}
	prefix := path + "."
	for p := range r.fields {
		if len(p) > len(prefix) && p[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// Typed default accessors. Missing or mistyped entries yield zero values.

func (r *Registry) StringDefault(path string) string {
	if v, ok := r.GetDefault(path).(string); ok {
		return v
	}
	return ""
}

func (r *Registry) IntDefault(path string) int {
	if v, ok := r.GetDefault(path).(int); ok {
		return v
	}
	return 0
}

func (r *Registry) FloatDefault(path string) float64 {
	switch v := r.GetDefault(path).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func (r *Registry) BoolDefault(path string) bool {
	if v, ok := r.GetDefault(path).(bool); ok {
		return v
	}
	return false
}

func (r *Registry) DurationDefault(path string) time.Duration {
	if v, ok := r.GetDefault(path).(time.Duration); ok {
		return v
	}
	return 0
}
