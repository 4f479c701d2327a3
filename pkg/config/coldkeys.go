package config

import "strings"

// coldKeys are the settings that cannot take effect without a process
// restart. Both the user-facing section paths and their normalized
// counterparts are listed so change batches match in either namespace.
var coldKeys = map[string]struct{}{
	"runtime":                           {},
	"runtime.environment":               {},
	"runtime.local.project_root":        {},
	"runtime_config.environment":        {},
	"runtime_config.local.project_root": {},
	"sandbox.base_container_image":      {},
	"sandbox.runtime_container_image":   {},
	"sandbox.platform":                  {},
	"security.sandbox_mode":             {},
	"llm.api_base":                      {},
	"llm.base_url":                      {},
	"llms.llm.api_base":                 {},
	"llms.llm.base_url":                 {},
}

// IsColdKey reports whether a dotted key requires a restart to apply. A key
// is cold when it matches a cold key exactly or is a dotted descendant of
// one; sibling keys sharing a prefix string are hot.
func IsColdKey(key string) bool {
	key = strings.TrimPrefix(key, "core.")
	if _, ok := coldKeys[key]; ok {
		return true
	}
	for cold := range coldKeys {
		if strings.HasPrefix(key, cold+".") {
			return true
		}
	}
	return false
}

// NeedsRestart reports whether any key in a nested change set is cold.
func NeedsRestart(changes map[string]any) bool {
	for key := range flattenMap("", changes) {
		if IsColdKey(key) {
			return true
		}
	}
	return false
}
