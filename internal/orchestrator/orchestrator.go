// Package orchestrator turns "call + text" into audio played on the call.
//
// A request resolves the callee's voice, looks the fingerprint up in the
// cache and either replays the cached URL or synthesizes, uploads, caches
// and plays. Streaming requests skip the cache and forward chunks straight
// onto the call's media path.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/nikhilbhutani/voicecast/internal/cache"
	"github.com/nikhilbhutani/voicecast/internal/config"
	"github.com/nikhilbhutani/voicecast/internal/metrics"
	"github.com/nikhilbhutani/voicecast/internal/models"
	"github.com/nikhilbhutani/voicecast/internal/profile"
	"github.com/nikhilbhutani/voicecast/internal/retry"
	"github.com/nikhilbhutani/voicecast/internal/storage"
	"github.com/nikhilbhutani/voicecast/internal/synthesis"
	"github.com/nikhilbhutani/voicecast/internal/telemetry"
	"github.com/nikhilbhutani/voicecast/internal/telephony"
)

type Config struct {
	CacheTTL      time.Duration
	Retry         retry.Options
	FallbackVoice string
	RoleVoices    map[string]string
	// SingleFlight coalesces concurrent misses on the same fingerprint.
	SingleFlight bool
	Now          func() time.Time
}

// NewConfig maps the service configuration onto orchestrator settings.
func NewConfig(c *config.Config) Config {
	roles := make(map[string]string, len(c.Voice.RoleDefaults))
	for role, voice := range c.Voice.RoleDefaults {
		roles[strings.ToLower(strings.TrimSpace(role))] = strings.TrimSpace(voice)
	}
	return Config{
		CacheTTL: c.Cache.TTL(),
		Retry: retry.Options{
			MaxAttempts:  c.Retry.MaxAttempts,
			InitialDelay: c.Retry.InitialDelay,
			MaxDelay:     c.Retry.MaxDelay,
		},
		FallbackVoice: c.Voice.Fallback,
		RoleVoices:    roles,
		SingleFlight:  c.TTS.SingleFlight,
	}
}

// Deps are the capabilities the pipeline drives. Profiles and Tracer are
// optional.
type Deps struct {
	Cache     cache.Store
	Synthesis *synthesis.Adapter
	Storage   storage.Store
	Telephony telephony.Control
	Profiles  profile.Repository
	Metrics   *metrics.Collector
	Tracer    trace.Tracer
}

type Orchestrator struct {
	cache    cache.Store
	synth    *synthesis.Adapter
	store    storage.Store
	phone    telephony.Control
	profiles profile.Repository
	metrics  *metrics.Collector
	tracer   trace.Tracer
	cfg      Config
	flights  singleflight.Group
}

func New(d Deps, cfg Config) *Orchestrator {
	if cfg.FallbackVoice == "" {
		cfg.FallbackVoice = "alloy"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if d.Tracer == nil {
		d.Tracer = telemetry.Tracer(nil)
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewCollector(metrics.DefaultHistogramCapacity)
	}
	return &Orchestrator{
		cache:    d.Cache,
		synth:    d.Synthesis,
		store:    d.Storage,
		phone:    d.Telephony,
		profiles: d.Profiles,
		metrics:  d.Metrics,
		tracer:   d.Tracer,
		cfg:      cfg,
	}
}

func (o *Orchestrator) Metrics() *metrics.Collector { return o.metrics }

type Request struct {
	CallID    string
	Text      string
	Format    string
	Streaming bool
	Debug     bool
}

type Result struct {
	CallID    string
	Voice     string
	Cached    bool
	AudioURL  string
	Streaming bool
	Timings   Timings
}

// Speak runs one request through the pipeline. Every failure is a
// *PipelineError carrying the call ID.
func (o *Orchestrator) Speak(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	format, err := validate(req)
	if err != nil {
		return nil, &PipelineError{CallID: req.CallID, Stage: StageValidation, Kind: KindValidation, Err: err}
	}

	o.metrics.Inc(metrics.Requests)
	ctx, span := o.tracer.Start(ctx, "tts.speak", trace.WithAttributes(
		attribute.String("call.id", req.CallID),
		attribute.Bool("tts.streaming", req.Streaming),
		attribute.String("tts.format", string(format)),
	))
	defer span.End()

	t := Timings{}
	voice, source := o.resolveVoice(ctx, req.CallID, t)
	span.SetAttributes(attribute.String("tts.voice", voice), attribute.String("tts.voice_source", source))

	var res *Result
	if req.Streaming {
		res, err = o.streamToCall(ctx, req.CallID, voice, req.Text, format, t)
	} else {
		res, err = o.deliver(ctx, req.CallID, voice, req.Text, format, t)
	}

	total := time.Since(start)
	t.record(StageTotal, total)
	o.metrics.Observe(metrics.TotalLatency, ms(total))

	if err != nil {
		o.metrics.Inc(metrics.Errors)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		// Each caller gets its own error value: with single-flight the cause
		// may be shared with other calls.
		pe := &PipelineError{CallID: req.CallID, Stage: StageTotal, Kind: KindDependency, Err: err}
		var cause *PipelineError
		if errors.As(err, &cause) {
			pe.Stage, pe.Kind, pe.Err = cause.Stage, cause.Kind, cause.Err
		}
		if req.Debug {
			pe.Timings = t
		}
		slog.Error("tts pipeline failed",
			"call_id", req.CallID,
			"stage", pe.Stage,
			"kind", pe.Kind,
			"voice", voice,
			"error", pe.Err,
		)
		return nil, pe
	}

	res.CallID = req.CallID
	res.Voice = voice
	if req.Debug {
		res.Timings = t
	}
	slog.Info("tts delivered",
		"call_id", req.CallID,
		"voice", voice,
		"voice_source", source,
		"cached", res.Cached,
		"streaming", res.Streaming,
		"total_ms", ms(total),
	)
	return res, nil
}

func validate(req Request) (models.Format, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", ErrEmptyText
	}
	if strings.TrimSpace(req.CallID) == "" {
		return "", ErrMissingCallID
	}
	return models.ParseFormat(req.Format)
}

func (o *Orchestrator) deliver(ctx context.Context, callID, voice, text string, format models.Format, t Timings) (*Result, error) {
	key := cache.Key(voice, text)

	start := time.Now()
	cctx, span := o.tracer.Start(ctx, "tts.cache_lookup")
	url, hit := o.cache.Get(cctx, key)
	span.SetAttributes(attribute.Bool("cache.hit", hit))
	span.End()
	d := time.Since(start)
	t.record(StageCache, d)
	o.metrics.Observe(metrics.CacheLatency, ms(d))

	if hit {
		o.metrics.Inc(metrics.CacheHits)
		if err := o.play(ctx, callID, url, t); err != nil {
			return nil, err
		}
		return &Result{Cached: true, AudioURL: url}, nil
	}
	o.metrics.Inc(metrics.CacheMisses)

	var (
		p   produced
		err error
	)
	if o.cfg.SingleFlight {
		p, err = o.produceShared(ctx, key, callID, voice, text, format)
	} else {
		p, err = o.produce(ctx, key, callID, voice, text, format)
	}
	if p.synthesis > 0 {
		t.record(StageSynthesis, p.synthesis)
	}
	if p.upload > 0 {
		t.record(StageUpload, p.upload)
	}
	if err != nil {
		return nil, err
	}

	if err := o.play(ctx, callID, p.url, t); err != nil {
		return nil, err
	}
	return &Result{AudioURL: p.url}, nil
}

type produced struct {
	url       string
	synthesis time.Duration
	upload    time.Duration
}

// produce synthesizes, uploads and caches. The cache write is detached from
// request cancellation so a finished upload is never wasted.
func (o *Orchestrator) produce(ctx context.Context, key, callID, voice, text string, format models.Format) (produced, error) {
	var p produced

	start := time.Now()
	sctx, span := o.tracer.Start(ctx, "tts.synthesis")
	audio, err := retry.Do(sctx, o.retryOptions("synthesis"), func(ctx context.Context) ([]byte, error) {
		return o.synth.Speak(ctx, voice, text, format)
	})
	endSpan(span, err)
	p.synthesis = time.Since(start)
	o.metrics.Observe(metrics.SynthesisLatency, ms(p.synthesis))
	if err != nil {
		o.metrics.Inc(metrics.SynthesisErrors)
		return p, &PipelineError{Stage: StageSynthesis, Kind: KindDependency, Err: err}
	}
	o.metrics.Inc(metrics.Synthesis)

	objectKey := storage.ObjectKey(voice, text, format, o.cfg.Now())
	opts := storage.UploadOptions{
		ContentType: format.ContentType(),
		Metadata:    map[string]string{"voiceId": voice, "callId": callID},
	}

	start = time.Now()
	uctx, span := o.tracer.Start(ctx, "tts.upload", trace.WithAttributes(attribute.String("storage.key", objectKey)))
	url, err := retry.Do(uctx, o.retryOptions("upload"), func(ctx context.Context) (string, error) {
		return o.store.UploadBuffer(ctx, objectKey, audio, opts)
	})
	endSpan(span, err)
	p.upload = time.Since(start)
	o.metrics.Observe(metrics.UploadLatency, ms(p.upload))
	if err != nil {
		o.metrics.Inc(metrics.UploadErrors)
		return p, &PipelineError{Stage: StageUpload, Kind: KindDependency, Err: err}
	}
	o.metrics.Inc(metrics.Uploads)

	o.cache.Set(context.WithoutCancel(ctx), key, url, o.cfg.CacheTTL)
	p.url = url
	return p, nil
}

// produceShared joins an in-flight production for the same key. The shared
// work runs detached from any single caller's cancellation; followers see
// zero stage durations.
func (o *Orchestrator) produceShared(ctx context.Context, key, callID, voice, text string, format models.Format) (produced, error) {
	ch := o.flights.DoChan(key, func() (any, error) {
		return o.produce(context.WithoutCancel(ctx), key, callID, voice, text, format)
	})
	select {
	case <-ctx.Done():
		return produced{}, &PipelineError{Stage: StageSynthesis, Kind: KindDependency, Err: ctx.Err()}
	case r := <-ch:
		p, _ := r.Val.(produced)
		if r.Shared {
			slog.Debug("joined in-flight synthesis", "call_id", callID, "key", key)
			p.synthesis, p.upload = 0, 0
		}
		return p, r.Err
	}
}

func (o *Orchestrator) play(ctx context.Context, callID, url string, t Timings) error {
	start := time.Now()
	pctx, span := o.tracer.Start(ctx, "tts.playback")
	ok := o.phone.PlayURL(pctx, callID, url)
	d := time.Since(start)
	t.record(StagePlayback, d)
	o.metrics.Observe(metrics.PlaybackLatency, ms(d))

	if !ok {
		endSpan(span, ErrPlaybackFailed)
		o.metrics.Inc(metrics.PlaybackErrors)
		return &PipelineError{Stage: StagePlayback, Kind: KindPlayback, Err: ErrPlaybackFailed}
	}
	span.End()
	o.metrics.Inc(metrics.Playbacks)
	return nil
}

// streamToCall forwards chunks as they arrive. A chunk that fails to forward
// is counted and skipped; the end signal is sent exactly once whatever
// happened in the loop.
func (o *Orchestrator) streamToCall(ctx context.Context, callID, voice, text string, format models.Format, t Timings) (*Result, error) {
	o.metrics.Inc(metrics.StreamSessions)

	start := time.Now()
	sctx, span := o.tracer.Start(ctx, "tts.synthesis", trace.WithAttributes(attribute.Bool("tts.streaming", true)))
	chunks, err := retry.Do(sctx, o.retryOptions("stream"), func(ctx context.Context) (<-chan synthesis.Chunk, error) {
		return o.synth.Stream(ctx, voice, text, format)
	})
	endSpan(span, err)
	d := time.Since(start)
	t.record(StageSynthesis, d)
	o.metrics.Observe(metrics.SynthesisLatency, ms(d))
	if err != nil {
		if !errors.Is(err, synthesis.ErrFeatureDisabled) {
			o.metrics.Inc(metrics.SynthesisErrors)
		}
		return nil, &PipelineError{Stage: StageSynthesis, Kind: KindDependency, Err: err}
	}

	start = time.Now()
	fctx, span := o.tracer.Start(ctx, "tts.stream_forward")
	sent, failed, streamErr := o.forward(fctx, callID, chunks)
	span.SetAttributes(attribute.Int("stream.chunks_sent", sent), attribute.Int("stream.chunks_failed", failed))

	if !o.phone.SignalEnd(context.WithoutCancel(fctx), callID) {
		slog.Warn("end-of-stream signal failed", "call_id", callID)
	}
	endSpan(span, streamErr)
	t.record(StageStream, time.Since(start))

	if streamErr != nil {
		if !errors.Is(streamErr, context.Canceled) && !errors.Is(streamErr, context.DeadlineExceeded) {
			o.metrics.Inc(metrics.SynthesisErrors)
		}
		return nil, &PipelineError{Stage: StageStream, Kind: KindDependency, Err: streamErr}
	}
	if failed > 0 {
		slog.Warn("stream delivered with dropped chunks", "call_id", callID, "sent", sent, "failed", failed)
	}
	return &Result{Streaming: true}, nil
}

func (o *Orchestrator) forward(ctx context.Context, callID string, chunks <-chan synthesis.Chunk) (sent, failed int, err error) {
	for {
		select {
		case <-ctx.Done():
			return sent, failed, ctx.Err()
		case c, ok := <-chunks:
			if !ok {
				return sent, failed, nil
			}
			if c.Err != nil {
				return sent, failed, fmt.Errorf("audio stream: %w", c.Err)
			}
			if o.phone.ForwardChunk(ctx, callID, c.Data) {
				sent++
				o.metrics.Inc(metrics.StreamChunks)
				continue
			}
			failed++
			o.metrics.Inc(metrics.StreamChunkErrors)
			slog.Warn("dropped audio chunk", "call_id", callID, "chunk", sent+failed, "bytes", len(c.Data))
		}
	}
}

// Prewarm synthesizes and uploads audio for a voice ahead of any call, so
// the first live request is a cache hit. Audio is streamed into the store
// without buffering the whole payload.
func (o *Orchestrator) Prewarm(ctx context.Context, voice, text string, format models.Format) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}
	key := cache.Key(voice, text)
	if url, ok := o.cache.Get(ctx, key); ok {
		return url, nil
	}

	ctx, span := o.tracer.Start(ctx, "tts.prewarm", trace.WithAttributes(attribute.String("tts.voice", voice)))
	defer span.End()

	audio, err := retry.Do(ctx, o.retryOptions("synthesis"), func(ctx context.Context) (synthesis.Audio, error) {
		return o.synth.Synthesize(ctx, synthesis.Request{VoiceID: voice, Text: text, Format: format})
	})
	if err != nil {
		o.metrics.Inc(metrics.SynthesisErrors)
		endSpan(span, err)
		return "", err
	}
	o.metrics.Inc(metrics.Synthesis)

	objectKey := storage.ObjectKey(voice, text, format, o.cfg.Now())
	url, err := o.store.UploadStream(ctx, objectKey, synthesis.Reader(audio), storage.UploadOptions{
		ContentType: format.ContentType(),
		Metadata:    map[string]string{"voiceId": voice, "source": "prewarm"},
	})
	if err != nil {
		o.metrics.Inc(metrics.UploadErrors)
		endSpan(span, err)
		return "", err
	}
	o.metrics.Inc(metrics.Uploads)

	o.cache.Set(context.WithoutCancel(ctx), key, url, o.cfg.CacheTTL)
	return url, nil
}

func (o *Orchestrator) retryOptions(name string) retry.Options {
	opts := o.cfg.Retry
	opts.Name = name
	opts.OnRetry = func(attempt int, delay time.Duration, err error) {
		o.metrics.Inc(metrics.Retries)
		slog.Warn("retrying dependency call", "operation", name, "attempt", attempt, "delay", delay, "error", err)
	}
	return opts
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
