package synthesis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nikhilbhutani/voicecast/internal/models"
)

const openAIChunkSize = 8 * 1024

// OpenAIConfig holds configuration for the OpenAI speech backend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // default: "https://api.openai.com/v1"
	Model   string // default: "tts-1"
}

// OpenAIProvider synthesizes speech with OpenAI's audio/speech endpoint. The
// response body is forwarded as it arrives, so it streams natively.
type OpenAIProvider struct {
	client *openai.Client
	model  openai.SpeechModel
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{
		Timeout:   120 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	model := openai.TTSModel1
	if cfg.Model != "" {
		model = openai.SpeechModel(cfg.Model)
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}
}

func (o *OpenAIProvider) Name() string { return "openai" }

func (o *OpenAIProvider) Synthesize(ctx context.Context, req Request) (Audio, error) {
	format := openai.SpeechResponseFormatMp3
	if req.Format == models.FormatLinear16 {
		format = openai.SpeechResponseFormatPcm
	}

	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          o.model,
		Input:          req.Text,
		Voice:          openai.SpeechVoice(req.VoiceID),
		ResponseFormat: format,
	})
	if err != nil {
		return nil, o.wrap(err)
	}

	ch := make(chan Chunk, 4)
	go func() {
		defer close(ch)
		defer resp.Close()
		for {
			buf := make([]byte, openAIChunkSize)
			n, rerr := io.ReadFull(resp, buf)
			if n > 0 {
				select {
				case ch <- Chunk{Data: buf[:n]}:
				case <-ctx.Done():
					return
				}
			}
			if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
				return
			}
			if rerr != nil {
				select {
				case ch <- Chunk{Err: o.wrap(fmt.Errorf("read audio: %w", rerr))}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()
	return Chunked{Chunks: ch}, nil
}

func (o *OpenAIProvider) wrap(err error) error {
	serr := &Error{Provider: o.Name(), Err: err}
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		serr.StatusCode = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		serr.StatusCode = reqErr.HTTPStatusCode
	}
	return serr
}
