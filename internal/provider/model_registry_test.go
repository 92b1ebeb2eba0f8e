package provider

import "testing"

func TestModelRegistryAliasCollisionIsAnError(t *testing.T) {
	r := NewModelRegistry()
	if err := r.Register("gpt-fast", ModelConfig{ProviderKey: "openai"}); err != nil {
		t.Fatalf("first registration should succeed: %v", err)
	}
	err := r.Register("gpt-fast", ModelConfig{ProviderKey: "anthropic"})
	if err == nil {
		t.Fatal("expected an error on alias collision")
	}
	if _, ok := AsConfigurationError(err); !ok {
		t.Fatalf("expected a *ConfigurationError, got %T", err)
	}
}

func TestModelRegistryMissingModelListsAvailableKeys(t *testing.T) {
	r := NewModelRegistry()
	_ = r.Register("a", ModelConfig{ProviderKey: "p1"})
	_ = r.Register("b", ModelConfig{ProviderKey: "p2"})

	_, err := r.Resolve("missing")
	if err == nil {
		t.Fatal("expected configuration_error for missing model")
	}
	ce, ok := AsConfigurationError(err)
	if !ok {
		t.Fatalf("expected *ConfigurationError, got %T", err)
	}
	if len(ce.Available) != 2 || ce.Available[0] != "a" || ce.Available[1] != "b" {
		t.Fatalf("expected available keys [a b], got %v", ce.Available)
	}
}

func TestModelRegistryResolveReturnsConfig(t *testing.T) {
	r := NewModelRegistry()
	want := ModelConfig{ProviderKey: "openai", MaxTokens: 4096}
	_ = r.Register("gpt-fast", want)

	got, err := r.Resolve("gpt-fast")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ProviderKey != want.ProviderKey || got.MaxTokens != want.MaxTokens {
		t.Fatalf("resolved config mismatch: got %+v", got)
	}
}
