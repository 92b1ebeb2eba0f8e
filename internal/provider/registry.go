package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the string-key -> adapter table for text, TTS, STT, and blob
// storage providers. It is populated once at process start and is
// immutable thereafter; RWMutex guards only the unusual case of tests
// constructing a registry incrementally.
type Registry struct {
	mu sync.RWMutex
	text map[string]TextProvider
	tts map[string]TTSProvider
	stt map[string]STTProvider
	blob BlobStore
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		text: make(map[string]TextProvider),
		tts: make(map[string]TTSProvider),
		stt: make(map[string]STTProvider),
	}
}

// RegisterText adds a text provider under key. Alias collision at
// registration is an error (unlike a log-and-skip policy), since a silently
// shadowed provider is a configuration bug the operator should see at boot.
func (r *Registry) RegisterText(key string, p TextProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.text[key]; exists {
		return &ConfigurationError{Reason: fmt.Sprintf("text provider key %q already registered", key)}
	}
	r.text[key] = p
	return nil
}

// RegisterTTS adds a TTS provider under key.
func (r *Registry) RegisterTTS(key string, p TTSProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tts[key]; exists {
		return &ConfigurationError{Reason: fmt.Sprintf("tts provider key %q already registered", key)}
	}
	r.tts[key] = p
	return nil
}

// RegisterSTT adds an STT provider under key.
func (r *Registry) RegisterSTT(key string, p STTProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.stt[key]; exists {
		return &ConfigurationError{Reason: fmt.Sprintf("stt provider key %q already registered", key)}
	}
	r.stt[key] = p
	return nil
}

// SetBlobStore installs the single blob storage backend.
func (r *Registry) SetBlobStore(b BlobStore) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blob = b
}

// Text resolves a registered text provider key.
func (r *Registry) Text(key string) (TextProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.text[key]
	if !ok {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown text provider %q", key), Available: sortedKeys(r.text)}
	}
	return p, nil
}

// TTS resolves a registered TTS provider key.
func (r *Registry) TTS(key string) (TTSProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.tts[key]
	if !ok {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown tts provider %q", key), Available: sortedKeys(r.tts)}
	}
	return p, nil
}

// STT resolves a registered STT provider key.
func (r *Registry) STT(key string) (STTProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.stt[key]
	if !ok {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown stt provider %q", key), Available: sortedKeys(r.stt)}
	}
	return p, nil
}

// BlobStore returns the installed blob storage backend, if any.
func (r *Registry) BlobStore() (BlobStore, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.blob == nil {
		return nil, &ConfigurationError{Reason: "no blob store configured"}
	}
	return r.blob, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
