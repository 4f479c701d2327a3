package config

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/all-hands-ai/openhands/pkg/logger"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// AsMap serializes a resolved configuration into its nested map form, the
// shape the snapshot validator and diagnostics operate on.
func AsMap(cfg *Config) (map[string]any, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(cfg, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to serialize configuration: %w", err)
	}
	return k.Raw(), nil
}

// Metadata records which tier supplied each resolved key.
type Metadata struct {
	Sources  map[string]SourceType `json:"sources"`
	LoadedAt time.Time             `json:"loaded_at"`
}

// loader implements Service on top of koanf.
type loader struct {
	validator  *validator.Validate
	metadata   Metadata
	metadataMu sync.RWMutex
}

// NewService creates a configuration service with validation support.
func NewService() Service {
	return &loader{
		validator: validator.New(),
		metadata:  Metadata{Sources: make(map[string]SourceType)},
	}
}

// sensitiveStringDecodeHook converts raw strings into SensitiveString.
func sensitiveStringDecodeHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(SensitiveString("")) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return SensitiveString(v), nil
	case []byte:
		return SensitiveString(v), nil
	default:
		return data, nil
	}
}

// Load merges sources in increasing precedence. The default tier must
// succeed; every other tier degrades gracefully on failure so a usable
// configuration is always produced.
func (l *loader) Load(ctx context.Context, sources ...Source) (*Config, error) {
	log := logger.FromContext(ctx)

	l.metadataMu.Lock()
	l.metadata.Sources = make(map[string]SourceType)
	l.metadata.LoadedAt = time.Now()
	l.metadataMu.Unlock()

	k := koanf.New(".")
	for _, source := range sources {
		if source == nil {
			continue
		}
		data, err := source.Load()
		if err != nil {
			if source.Type() == SourceDefault {
				return nil, fmt.Errorf("failed to load default configuration: %w", err)
			}
			log.Warn("failed to load configuration source", "source", source.Type(), "error", err)
			continue
		}
		if err := l.applyTier(k, source.Type(), data); err != nil {
			log.Warn("failed to apply configuration source", "source", source.Type(), "error", err)
		}
		if cli, ok := source.(*cliSource); ok {
			for _, key := range cli.UnknownKeys() {
				log.Warn("ignoring unknown CLI override", "key", key)
			}
		}
	}

	cfg, err := l.unmarshal(k)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyTier merges one tier's data, setting only the keys the tier actually
// defines so lower-precedence values survive.
func (l *loader) applyTier(k *koanf.Koanf, tier SourceType, data map[string]any) error {
	if len(data) == 0 {
		return nil
	}
	normalized := NormalizeSections(data)
	keysBefore := make(map[string]any)
	for _, key := range k.Keys() {
		keysBefore[key] = k.Get(key)
	}
	for key, value := range flattenMap("", normalized) {
		if err := k.Set(key, value); err != nil {
			return fmt.Errorf("failed to set key %s from %s tier: %w", key, tier, err)
		}
	}
	for _, key := range k.Keys() {
		before, existed := keysBefore[key]
		after := k.Get(key)
		if !existed || !reflect.DeepEqual(before, after) {
			l.trackSource(key, tier)
		}
	}
	return nil
}

// NormalizeSections rewrites user-facing section aliases to the resolved
// layout: [core] children lift to the root, [llm] becomes llms.llm, and
// [agent] becomes agents.default. All other keys pass through. An aliased
// section deep-merges with a canonical section present in the same map;
// on a conflicting leaf the canonical value wins.
func NormalizeSections(data map[string]any) map[string]any {
	result := make(map[string]any, len(data))
	aliased := map[string]any{}
	for key, value := range data {
		nested, isMap := value.(map[string]any)
		if !isMap {
			result[key] = value
			continue
		}
		switch key {
		case "core":
			mergeMissing(aliased, nested)
		case DefaultLLMKey:
			mergeMissing(aliased, map[string]any{"llms": map[string]any{DefaultLLMKey: nested}})
		case "agent":
			mergeMissing(aliased, map[string]any{"agents": map[string]any{DefaultAgentKey: nested}})
		default:
			result[key] = value
		}
	}
	mergeMissing(result, aliased)
	return result
}

// mergeMissing deep-merges src into dst. Nested maps merge recursively;
// leaves already present in dst are kept. Merged submaps are replaced with
// fresh copies so maps referenced from source tiers are never mutated.
func mergeMissing(dst, src map[string]any) {
	for key, value := range src {
		existing, ok := dst[key]
		if !ok {
			dst[key] = value
			continue
		}
		dstMap, dstOK := existing.(map[string]any)
		srcMap, srcOK := value.(map[string]any)
		if dstOK && srcOK {
			merged := make(map[string]any, len(dstMap))
			for k, v := range dstMap {
				merged[k] = v
			}
			mergeMissing(merged, srcMap)
			dst[key] = merged
		}
	}
}

// flattenMap flattens a nested map into dot-notation keys.
func flattenMap(prefix string, m map[string]any) map[string]any {
	result := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
			for fk, fv := range flattenMap(key, nested) {
				result[fk] = fv
			}
		} else {
			result[key] = v
		}
	}
	return result
}

// unmarshal decodes the merged tree into a typed Config.
func (l *loader) unmarshal(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				sensitiveStringDecodeHook,
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks struct-level constraints on a resolved configuration.
func (l *loader) Validate(config *Config) error {
	if config == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	if err := l.validator.Struct(config); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// GetSource returns the tier that supplied a resolved key.
func (l *loader) GetSource(key string) SourceType {
	l.metadataMu.RLock()
	defer l.metadataMu.RUnlock()
	if source, ok := l.metadata.Sources[key]; ok {
		return source
	}
	return SourceDefault
}

func (l *loader) trackSource(key string, source SourceType) {
	l.metadataMu.Lock()
	defer l.metadataMu.Unlock()
	l.metadata.Sources[key] = source
}
