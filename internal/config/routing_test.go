package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleRoutes = `
providers:
  - name: openai
    base_url: https://api.openai.com/v1
models:
  - name: gpt-5
    aliases: ["gpt-5-latest"]
    provider: openai
    streaming: true
    max_tokens: 128000
`

func writeRoutesFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "routes.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write routes file: %v", err)
	}
	return path
}

func TestLoadModelRoutesValidFile(t *testing.T) {
	path := writeRoutesFile(t, sampleRoutes)

	routes, err := LoadModelRoutes(path)
	if err != nil {
		t.Fatalf("LoadModelRoutes: %v", err)
	}
	if len(routes.Models) != 1 || routes.Models[0].Name != "gpt-5" {
		t.Fatalf("unexpected models: %+v", routes.Models)
	}
}

func TestLoadModelRoutesRejectsUnknownProvider(t *testing.T) {
	path := writeRoutesFile(t, `
providers:
  - name: openai
models:
  - name: gpt-5
    provider: not-registered
`)

	if _, err := LoadModelRoutes(path); err == nil {
		t.Fatal("expected error for unknown provider reference, got nil")
	}
}

func TestLoadModelRoutesRejectsUnknownProviderKind(t *testing.T) {
	path := writeRoutesFile(t, `
providers:
  - name: openai
    kind: carrier-pigeon
models:
  - name: gpt-5
    provider: openai
`)

	if _, err := LoadModelRoutes(path); err == nil {
		t.Fatal("expected error for unknown provider kind, got nil")
	}
}

func TestBuildModelRegistryCarriesTTSProviderKey(t *testing.T) {
	path := writeRoutesFile(t, `
providers:
  - name: openai
  - name: elevenlabs
    kind: tts_duplex
models:
  - name: gpt-5
    provider: openai
    tts_provider: elevenlabs
`)
	routes, err := LoadModelRoutes(path)
	if err != nil {
		t.Fatalf("LoadModelRoutes: %v", err)
	}
	reg, err := BuildModelRegistry(routes)
	if err != nil {
		t.Fatalf("BuildModelRegistry: %v", err)
	}
	cfg, err := reg.Resolve("gpt-5")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.TTSProviderKey != "elevenlabs" {
		t.Fatalf("got tts provider key %q, want elevenlabs", cfg.TTSProviderKey)
	}
}

func TestBuildModelRegistryResolvesAliasAndCanonicalName(t *testing.T) {
	path := writeRoutesFile(t, sampleRoutes)
	routes, err := LoadModelRoutes(path)
	if err != nil {
		t.Fatalf("LoadModelRoutes: %v", err)
	}

	reg, err := BuildModelRegistry(routes)
	if err != nil {
		t.Fatalf("BuildModelRegistry: %v", err)
	}

	for _, name := range []string{"gpt-5", "gpt-5-latest"} {
		cfg, err := reg.Resolve(name)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", name, err)
		}
		if cfg.ProviderKey != "openai" {
			t.Errorf("Resolve(%q).ProviderKey = %q, want openai", name, cfg.ProviderKey)
		}
	}
}
