package config

import "context"

type managerCtxKey struct{}

// ContextWithManager stores the configuration manager in the context.
func ContextWithManager(ctx context.Context, m *Manager) context.Context {
	return context.WithValue(ctx, managerCtxKey{}, m)
}

// ManagerFromContext retrieves the configuration manager from the context,
// or nil when none was attached. There is no process-global fallback;
// components receive their manager through context.
func ManagerFromContext(ctx context.Context) *Manager {
	if ctx == nil {
		return nil
	}
	if m, ok := ctx.Value(managerCtxKey{}).(*Manager); ok {
		return m
	}
	return nil
}

// FromContext returns the active configuration for the provided context.
// When no manager is attached it returns the built-in defaults so callers
// always see a usable configuration.
func FromContext(ctx context.Context) *Config {
	if m := ManagerFromContext(ctx); m != nil {
		if cfg := m.Get(); cfg != nil {
			return cfg
		}
	}
	return Default()
}
