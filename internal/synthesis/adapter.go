package synthesis

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nikhilbhutani/voicecast/internal/config"
	"github.com/nikhilbhutani/voicecast/internal/models"
)

// NewProvider selects a provider by name. An unconfigured or unrecognized
// provider falls back to the mock.
func NewProvider(cfg config.TTSConfig) Provider {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		if cfg.OpenAIKey == "" {
			slog.Warn("openai synthesis selected without an API key, using mock provider")
			return MockProvider{}
		}
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:  cfg.OpenAIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		})
	case "piper", "local":
		slog.Warn("piper synthesizes LINEAR16 only; requests must set format LINEAR16 since MP3 is the default",
			"model", cfg.LocalModel)
		return NewPiperProvider(PiperConfig{
			BinPath:   cfg.LocalBinPath,
			ModelPath: cfg.LocalModel,
		})
	case "mock":
		return MockProvider{}
	default:
		slog.Info("unknown synthesis provider, using mock provider", "provider", cfg.Provider)
		return MockProvider{}
	}
}

// Adapter is the pipeline's view of a synthesis provider. Provider failures
// propagate unchanged; retrying is the caller's job.
type Adapter struct {
	provider  Provider
	streaming bool
}

func NewAdapter(p Provider, streamingEnabled bool) *Adapter {
	return &Adapter{provider: p, streaming: streamingEnabled}
}

func (a *Adapter) ProviderName() string { return a.provider.Name() }

func (a *Adapter) StreamingEnabled() bool { return a.streaming }

// Synthesize returns the provider's audio in whatever shape it produces.
func (a *Adapter) Synthesize(ctx context.Context, req Request) (Audio, error) {
	return a.provider.Synthesize(ctx, req)
}

// Speak returns the complete audio buffer.
func (a *Adapter) Speak(ctx context.Context, voiceID, text string, format models.Format) ([]byte, error) {
	audio, err := a.provider.Synthesize(ctx, Request{VoiceID: voiceID, Text: text, Format: format})
	if err != nil {
		return nil, err
	}
	return Drain(ctx, audio)
}

// Stream returns a chunk sequence. Providers without native streaming yield
// their whole buffer as one chunk.
func (a *Adapter) Stream(ctx context.Context, voiceID, text string, format models.Format) (<-chan Chunk, error) {
	if !a.streaming {
		return nil, ErrFeatureDisabled
	}
	audio, err := a.provider.Synthesize(ctx, Request{VoiceID: voiceID, Text: text, Format: format})
	if err != nil {
		return nil, err
	}
	return AsStream(audio), nil
}
