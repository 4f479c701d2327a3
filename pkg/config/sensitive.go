package config

import "encoding/json"

// SensitiveString is a string that redacts itself in logs and serialized
// output. Use Value() to read the actual secret.
type SensitiveString string

const redactedPlaceholder = "[REDACTED]"

// String returns a redacted representation for non-empty values.
func (s SensitiveString) String() string {
	if s == "" {
		return ""
	}
	return redactedPlaceholder
}

// Value returns the underlying secret.
func (s SensitiveString) Value() string {
	return string(s)
}

// IsSet reports whether a secret is present.
func (s SensitiveString) IsSet() bool {
	return s != ""
}

// MarshalJSON redacts the value so secrets never leak through API responses
// or `config show` output.
func (s SensitiveString) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the raw secret value.
func (s *SensitiveString) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = SensitiveString(raw)
	return nil
}
