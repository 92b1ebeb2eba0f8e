package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/iammarcin/streamgate/internal/provider"
)

// ModelRoutesFile is the YAML shape read from MODEL_ROUTES_FILE: a list of
// upstream providers plus a list of model aliases that route to them. It
// omits a fallback/retry policy block and any per-model API-style override,
// neither of which this core's reference adapters need.
type ModelRoutesFile struct {
	Providers []RouteProvider `yaml:"providers"`
	Models []RouteModel `yaml:"models"`
}

// RouteProvider is one upstream endpoint. Kind selects which reference
// adapter main.go's registry wiring constructs for it; unset defaults to
// "chat_completions" (openaistream.Adapter).
type RouteProvider struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
	APIKeyEnvVar string `yaml:"api_key_env_var,omitempty"`
	APIKey string `yaml:"-"`
	Voices []string `yaml:"voices,omitempty"`
}

const (
	ProviderKindChatCompletions = "chat_completions"
	ProviderKindTTSBuffered = "tts_buffered"
	ProviderKindTTSDuplex = "tts_duplex"
)

func (p *RouteProvider) validate() error {
	if p.Name == "" {
		return errors.New("provider name must be specified")
	}
	if err := validateURLString(p.BaseURL); err != nil {
		return err
	}
	if p.APIKeyEnvVar != "" {
		p.APIKey = os.Getenv(p.APIKeyEnvVar)
	}
	if p.Kind == "" {
		p.Kind = ProviderKindChatCompletions
	}
	switch p.Kind {
	case ProviderKindChatCompletions, ProviderKindTTSBuffered, ProviderKindTTSDuplex:
	default:
		return fmt.Errorf("provider %s: unknown kind %q", p.Name, p.Kind)
	}
	return nil
}

// RouteModel is one alias the core accepts, routed to a named provider.
// TTSProvider/STTProvider are optional: a model with neither set only ever
// drives the text/audio_direct workflows; runText/runAudio degrade to
// text_not_requested/tts_not_requested when the resolved Providers.TTS or
// Providers.STT is nil.
type RouteModel struct {
	Name string `yaml:"name"`
	Aliases []string `yaml:"aliases,omitempty"`
	Provider string `yaml:"provider"`
	TTSProvider string `yaml:"tts_provider,omitempty"`
	STTProvider string `yaml:"stt_provider,omitempty"`
	MaxTokens int `yaml:"max_tokens,omitempty"`
	Streaming bool `yaml:"streaming"`
	Reasoning bool `yaml:"reasoning,omitempty"`
	ImageInput bool `yaml:"image_input,omitempty"`
	AudioInput bool `yaml:"audio_input,omitempty"`
}

func (m *RouteModel) validate(providers map[string]struct{}) error {
	if m.Name == "" {
		return errors.New("model name must be specified")
	}
	if m.Provider == "" {
		return fmt.Errorf("model %s: provider must be specified", m.Name)
	}
	if _, ok := providers[m.Provider]; !ok {
		return fmt.Errorf("model %s: unknown provider %q", m.Name, m.Provider)
	}
	if m.TTSProvider != "" {
		if _, ok := providers[m.TTSProvider]; !ok {
			return fmt.Errorf("model %s: unknown tts_provider %q", m.Name, m.TTSProvider)
		}
	}
	if m.STTProvider != "" {
		if _, ok := providers[m.STTProvider]; !ok {
			return fmt.Errorf("model %s: unknown stt_provider %q", m.Name, m.STTProvider)
		}
	}
	return nil
}

// LoadModelRoutes reads and validates the YAML routing file at path.
func LoadModelRoutes(path string) (*ModelRoutesFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model routes file: %w", err)
	}

	var routes ModelRoutesFile
	if err := yaml.Unmarshal(raw, &routes); err != nil {
		return nil, fmt.Errorf("parse model routes file: %w", err)
	}

	if len(routes.Providers) == 0 {
		return nil, errors.New("no providers specified in model routes file")
	}
	if len(routes.Models) == 0 {
		return nil, errors.New("no models specified in model routes file")
	}

	providerNames := make(map[string]struct{}, len(routes.Providers))
	for i := range routes.Providers {
		if err := routes.Providers[i].validate(); err != nil {
			return nil, err
		}
		if _, exists := providerNames[routes.Providers[i].Name]; exists {
			return nil, fmt.Errorf("duplicate provider entry %q", routes.Providers[i].Name)
		}
		providerNames[routes.Providers[i].Name] = struct{}{}
	}

	for i := range routes.Models {
		if err := routes.Models[i].validate(providerNames); err != nil {
			return nil, err
		}
	}

	return &routes, nil
}

// BuildModelRegistry registers every model and alias from a parsed routes
// file into a fresh provider.ModelRegistry, registering the canonical name
// and each alias as separate keys that resolve to the same config (whose
// Alias is the canonical name), so either can be sent by a client.
func BuildModelRegistry(routes *ModelRoutesFile) (*provider.ModelRegistry, error) {
	reg := provider.NewModelRegistry()
	cfgs := make(map[string]provider.ModelConfig)

	for _, m := range routes.Models {
		cfg := provider.ModelConfig{
			Alias: m.Name,
			ProviderKey: m.Provider,
			TTSProviderKey: m.TTSProvider,
			STTProviderKey: m.STTProvider,
			MaxTokens: m.MaxTokens,
			Capabilities: provider.TextCapabilities{
				SupportsStreaming: m.Streaming,
				SupportsReasoning: m.Reasoning,
				SupportsImageInput: m.ImageInput,
				SupportsAudioInput: m.AudioInput,
			},
		}
		cfgs[m.Name] = cfg
		for _, alias := range m.Aliases {
			cfgs[alias] = cfg
		}
	}

	if err := reg.RegisterAll(cfgs); err != nil {
		return nil, err
	}
	return reg, nil
}

func validateURLString(s string) error {
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" && u.Scheme != "wss" && u.Scheme != "ws" {
		return fmt.Errorf("unsupported URL scheme: %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("URL does not contain a hostname")
	}
	return nil
}
