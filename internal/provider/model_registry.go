package provider

import (
	"fmt"
	"sort"
	"sync/atomic"
)

// ModelConfig is what the model registry returns for a resolved alias:
// which provider key backs it, the capability flags it advertises, and
// its request-size limits.
type ModelConfig struct {
	Alias string
	ProviderKey string
	TTSProviderKey string // empty if this model has no paired TTS provider
	STTProviderKey string // empty if this model has no paired STT provider
	Capabilities TextCapabilities
	MaxTokens int
}

// modelTable is the immutable snapshot swapped atomically on each Register:
// a lock-free read path with a full-table replace on update.
type modelTable struct {
	byAlias map[string]ModelConfig
}

// ModelRegistry resolves a model alias to a ModelConfig. Registration
// happens once at boot; there is no reload entry point, and an alias that
// is already registered cannot be replaced.
type ModelRegistry struct {
	table atomic.Pointer[modelTable]
}

// NewModelRegistry creates an empty model registry.
func NewModelRegistry() *ModelRegistry {
	r := &ModelRegistry{}
	r.table.Store(&modelTable{byAlias: map[string]ModelConfig{}})
	return r
}

// Register adds cfg under alias. Alias collision at registration is an
// error rather than a silently-kept first registration.
func (r *ModelRegistry) Register(alias string, cfg ModelConfig) error {
	cur := r.table.Load()
	if _, exists := cur.byAlias[alias]; exists {
		return &ConfigurationError{Reason: fmt.Sprintf("model alias %q already registered", alias)}
	}
	next := &modelTable{byAlias: make(map[string]ModelConfig, len(cur.byAlias)+1)}
	for k, v := range cur.byAlias {
		next.byAlias[k] = v
	}
	if cfg.Alias == "" {
		cfg.Alias = alias
	}
	next.byAlias[alias] = cfg
	r.table.Store(next)
	return nil
}

// RegisterAll registers every entry in cfgs, stopping at the first
// collision (used by config.BuildModelRegistry to apply a whole yaml table).
func (r *ModelRegistry) RegisterAll(cfgs map[string]ModelConfig) error {
	for alias, cfg := range cfgs {
		if err := r.Register(alias, cfg); err != nil {
			return err
		}
	}
	return nil
}

// Resolve looks up alias. Missing model raises a *ConfigurationError
// listing the available keys.
func (r *ModelRegistry) Resolve(alias string) (ModelConfig, error) {
	cur := r.table.Load()
	cfg, ok := cur.byAlias[alias]
	if !ok {
		keys := make([]string, 0, len(cur.byAlias))
		for k := range cur.byAlias {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return ModelConfig{}, &ConfigurationError{
			Reason: fmt.Sprintf("unknown model %q", alias),
			Available: keys,
		}
	}
	return cfg, nil
}

// SupportedModels returns every registered alias, sorted.
func (r *ModelRegistry) SupportedModels() []string {
	cur := r.table.Load()
	keys := make([]string, 0, len(cur.byAlias))
	for k := range cur.byAlias {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
