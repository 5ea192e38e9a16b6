package synthesis

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/voicecast/internal/config"
	"github.com/nikhilbhutani/voicecast/internal/models"
	"github.com/nikhilbhutani/voicecast/internal/retry"
)

var errMockStream = errors.New("mock stream error")

func chunked(parts ...Chunk) Chunked {
	ch := make(chan Chunk, len(parts))
	for _, p := range parts {
		ch <- p
	}
	close(ch)
	return Chunked{Chunks: ch}
}

type fixedProvider struct {
	audio Audio
	err   error
	calls int
}

func (f *fixedProvider) Name() string { return "fixed" }

func (f *fixedProvider) Synthesize(context.Context, Request) (Audio, error) {
	f.calls++
	return f.audio, f.err
}

func collect(t *testing.T, ch <-chan Chunk) [][]byte {
	t.Helper()
	var out [][]byte
	for c := range ch {
		require.NoError(t, c.Err)
		out = append(out, c.Data)
	}
	return out
}

func TestNewProvider_Selection(t *testing.T) {
	assert.Equal(t, "mock", NewProvider(config.TTSConfig{}).Name())
	assert.Equal(t, "mock", NewProvider(config.TTSConfig{Provider: "acme-voices"}).Name())
	assert.Equal(t, "mock", NewProvider(config.TTSConfig{Provider: "openai"}).Name())
	assert.Equal(t, "openai", NewProvider(config.TTSConfig{Provider: "openai", OpenAIKey: "sk-test"}).Name())
	assert.Equal(t, "piper", NewProvider(config.TTSConfig{Provider: "piper"}).Name())
}

func TestNewProvider_PiperWarnsAboutDefaultFormat(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	p := NewProvider(config.TTSConfig{Provider: "piper", LocalModel: "/models/en.onnx"})
	require.Equal(t, "piper", p.Name())
	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.Contains(t, buf.String(), "LINEAR16")

	_, err := p.Synthesize(context.Background(), Request{Text: "hi", Format: models.FormatMP3})
	assert.ErrorIs(t, err, models.ErrUnknownFormat)
}

func TestAdapter_SpeakBuffered(t *testing.T) {
	a := NewAdapter(MockProvider{}, false)

	audio, err := a.Speak(context.Background(), "alloy", "hi", models.FormatMP3)
	require.NoError(t, err)
	assert.NotEmpty(t, audio)
	assert.Equal(t, byte(0xFF), audio[0])

	pcm, err := a.Speak(context.Background(), "alloy", "hi", models.FormatLinear16)
	require.NoError(t, err)
	assert.Len(t, pcm, 320)
}

func TestAdapter_SpeakDrainsChunks(t *testing.T) {
	p := &fixedProvider{audio: chunked(Chunk{Data: []byte("ab")}, Chunk{Data: []byte("cd")})}
	a := NewAdapter(p, false)

	audio, err := a.Speak(context.Background(), "v", "t", models.FormatMP3)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), audio)
}

func TestAdapter_SpeakPropagatesErrors(t *testing.T) {
	providerErr := &Error{Provider: "fixed", StatusCode: 503, Err: errors.New("overloaded")}
	a := NewAdapter(&fixedProvider{err: providerErr}, false)

	_, err := a.Speak(context.Background(), "v", "t", models.FormatMP3)
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 503, serr.HTTPStatusCode())
	assert.True(t, retry.Retryable(err))

	a = NewAdapter(&fixedProvider{audio: chunked(Chunk{Data: []byte("a")}, Chunk{Err: errMockStream})}, false)
	_, err = a.Speak(context.Background(), "v", "t", models.FormatMP3)
	assert.ErrorIs(t, err, errMockStream)
}

func TestAdapter_StreamDisabled(t *testing.T) {
	p := &fixedProvider{audio: Buffered{Data: []byte("x")}}
	a := NewAdapter(p, false)

	_, err := a.Stream(context.Background(), "v", "t", models.FormatMP3)
	assert.ErrorIs(t, err, ErrFeatureDisabled)
	assert.Zero(t, p.calls)
}

func TestAdapter_StreamBufferedIsSingleChunk(t *testing.T) {
	a := NewAdapter(&fixedProvider{audio: Buffered{Data: []byte("whole")}}, true)

	ch, err := a.Stream(context.Background(), "v", "t", models.FormatMP3)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("whole")}, collect(t, ch))
}

func TestAdapter_StreamNative(t *testing.T) {
	a := NewAdapter(&fixedProvider{audio: chunked(Chunk{Data: []byte("1")}, Chunk{Data: []byte("2")}, Chunk{Data: []byte("3")})}, true)

	ch, err := a.Stream(context.Background(), "v", "t", models.FormatMP3)
	require.NoError(t, err)
	assert.Len(t, collect(t, ch), 3)
}

func TestReader(t *testing.T) {
	data, err := io.ReadAll(Reader(chunked(Chunk{Data: []byte("he")}, Chunk{Data: []byte("llo")})))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	data, err = io.ReadAll(Reader(Buffered{Data: []byte("buf")}))
	require.NoError(t, err)
	assert.Equal(t, "buf", string(data))

	_, err = io.ReadAll(Reader(chunked(Chunk{Data: []byte("x")}, Chunk{Err: errMockStream})))
	assert.ErrorIs(t, err, errMockStream)
}

func TestPiperProvider_Validation(t *testing.T) {
	p := NewPiperProvider(PiperConfig{})
	_, err := p.Synthesize(context.Background(), Request{Text: "hi", Format: models.FormatLinear16})
	require.Error(t, err)
	assert.False(t, retry.Retryable(err))

	p = NewPiperProvider(PiperConfig{ModelPath: "/models/en.onnx"})
	_, err = p.Synthesize(context.Background(), Request{Text: "hi", Format: models.FormatMP3})
	assert.ErrorIs(t, err, models.ErrUnknownFormat)
	assert.False(t, retry.Retryable(err))
}

func TestOpenAIProvider_StreamsBody(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, openAIChunkSize*2+10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/speech", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	audio, err := p.Synthesize(context.Background(), Request{VoiceID: "alloy", Text: "hello", Format: models.FormatMP3})
	require.NoError(t, err)

	c, ok := audio.(Chunked)
	require.True(t, ok)
	chunks := collect(t, c.Chunks)
	assert.Len(t, chunks, 3)
	assert.Equal(t, payload, bytes.Join(chunks, nil))
}

func TestOpenAIProvider_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	_, err := p.Synthesize(context.Background(), Request{VoiceID: "alloy", Text: "hello", Format: models.FormatMP3})

	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusServiceUnavailable, serr.StatusCode)
	assert.True(t, retry.Retryable(err))
}
