package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/voicecast/internal/cache"
	"github.com/nikhilbhutani/voicecast/internal/metrics"
	"github.com/nikhilbhutani/voicecast/internal/models"
	"github.com/nikhilbhutani/voicecast/internal/orchestrator"
	"github.com/nikhilbhutani/voicecast/internal/profile"
	"github.com/nikhilbhutani/voicecast/internal/queue"
	"github.com/nikhilbhutani/voicecast/internal/storage"
)

type fakeSpeaker struct {
	got         orchestrator.Request
	hasDeadline bool
	res         *orchestrator.Result
	err         error
}

func (f *fakeSpeaker) Speak(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error) {
	f.got = req
	_, f.hasDeadline = ctx.Deadline()
	return f.res, f.err
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func speak(h *TTSHandler, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.Speak(rec, httptest.NewRequest(http.MethodPost, target, strings.NewReader(body)))
	return rec
}

func TestSpeak_Success(t *testing.T) {
	s := &fakeSpeaker{res: &orchestrator.Result{CallID: "c1", Cached: true, AudioURL: "https://cdn/a.mp3"}}
	rec := speak(NewTTSHandler(s, false), "/api/v1/tts/speak", `{"callId":"c1","text":"Hello there","format":"MP3"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"callId":"c1","cached":true,"audioUrl":"https://cdn/a.mp3"}`, rec.Body.String())
	assert.Equal(t, orchestrator.Request{CallID: "c1", Text: "Hello there", Format: "MP3"}, s.got)
}

func TestSpeak_Streaming(t *testing.T) {
	s := &fakeSpeaker{res: &orchestrator.Result{CallID: "c1", Streaming: true}}
	rec := speak(NewTTSHandler(s, false), "/", `{"callId":"c1","text":"hi","streaming":true}`)

	assert.JSONEq(t, `{"success":true,"callId":"c1","cached":false,"streaming":true}`, rec.Body.String())
	assert.True(t, s.got.Streaming)
}

func TestSpeak_TimeoutOnlyBoundsBufferedRequests(t *testing.T) {
	s := &fakeSpeaker{res: &orchestrator.Result{CallID: "c1"}}
	h := NewTTSHandler(s, false).WithTimeout(time.Second)

	speak(h, "/", `{"callId":"c1","text":"hi"}`)
	assert.True(t, s.hasDeadline)

	speak(h, "/", `{"callId":"c1","text":"hi","streaming":true}`)
	assert.False(t, s.hasDeadline)

	speak(NewTTSHandler(s, false), "/", `{"callId":"c1","text":"hi"}`)
	assert.False(t, s.hasDeadline)
}

func TestSpeak_DebugFlag(t *testing.T) {
	s := &fakeSpeaker{res: &orchestrator.Result{CallID: "c1", Timings: orchestrator.Timings{orchestrator.StageTotal: 12.5}}}

	rec := speak(NewTTSHandler(s, false), "/?debug=true", `{"callId":"c1","text":"hi"}`)
	assert.True(t, s.got.Debug)
	assert.Equal(t, 12.5, decode(t, rec)["timings"].(map[string]any)["total"])

	speak(NewTTSHandler(s, true), "/", `{"callId":"c1","text":"hi"}`)
	assert.True(t, s.got.Debug)

	speak(NewTTSHandler(s, true), "/?debug=false", `{"callId":"c1","text":"hi"}`)
	assert.False(t, s.got.Debug)
}

func TestSpeak_ValidationIs400(t *testing.T) {
	s := &fakeSpeaker{err: &orchestrator.PipelineError{CallID: "c1", Stage: orchestrator.StageValidation, Kind: orchestrator.KindValidation, Err: orchestrator.ErrEmptyText}}
	rec := speak(NewTTSHandler(s, false), "/", `{"callId":"c1","text":""}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"text is required","callId":"c1"}`, rec.Body.String())
}

func TestSpeak_PipelineFailureIs500(t *testing.T) {
	s := &fakeSpeaker{err: &orchestrator.PipelineError{
		CallID: "c1", Stage: orchestrator.StagePlayback, Kind: orchestrator.KindPlayback,
		Err: orchestrator.ErrPlaybackFailed, Timings: orchestrator.Timings{orchestrator.StagePlayback: 3},
	}}
	rec := speak(NewTTSHandler(s, false), "/", `{"callId":"c1","text":"hi"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "c1", body["callId"])
	assert.Equal(t, orchestrator.ErrPlaybackFailed.Error(), body["error"])
	assert.Contains(t, body, "timings")

	s.err = errors.New("unexpected")
	rec = speak(NewTTSHandler(s, false), "/", `{"callId":"c2","text":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "c2", decode(t, rec)["callId"])
}

func TestSpeak_BadJSON(t *testing.T) {
	rec := speak(NewTTSHandler(&fakeSpeaker{}, false), "/", `{"callId":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	h := NewHealthHandler(map[string]Check{
		"redis": func(context.Context) error { return nil },
	})
	h.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.JSONEq(t, `{"status":"ok","timestamp":"2026-01-02T03:04:05Z"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h.checks["postgres"] = func(context.Context) error { return errors.New("refused") }
	rec = httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", decode(t, rec)["status"])
}

func TestMetricsHandler(t *testing.T) {
	c := metrics.NewCollector(10)
	c.Inc(metrics.Requests)
	h := NewMetricsHandler(c)

	rec := httptest.NewRecorder()
	h.Text(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "tts_requests_total 1")

	rec = httptest.NewRecorder()
	h.JSON(rec, httptest.NewRequest(http.MethodGet, "/metrics/json", nil))
	body := decode(t, rec)
	assert.Equal(t, float64(1), body["counters"].(map[string]any)[metrics.Requests])
}

func withParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestAudioHandler(t *testing.T) {
	store := storage.NewMemoryStore("http://h/audio", storage.Multipart{})
	_, err := store.UploadBuffer(context.Background(), "tts/nova/1-a.mp3", []byte("ID3"), storage.UploadOptions{ContentType: "audio/mpeg"})
	require.NoError(t, err)
	h := NewAudioHandler(store)

	rec := httptest.NewRecorder()
	h.Serve(rec, withParams(httptest.NewRequest(http.MethodGet, "/audio/tts/nova/1-a.mp3", nil), "*", "tts/nova/1-a.mp3"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, "ID3", string(body))

	rec = httptest.NewRecorder()
	h.Serve(rec, withParams(httptest.NewRequest(http.MethodGet, "/audio/x", nil), "*", "x"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	NewAudioHandler(nil).Serve(rec, withParams(httptest.NewRequest(http.MethodGet, "/audio/x", nil), "*", "x"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeQueue struct {
	prewarm []queue.PrewarmPayload
	deletes []queue.StorageDeletePayload
}

func (f *fakeQueue) EnqueuePrewarm(p queue.PrewarmPayload) (string, error) {
	f.prewarm = append(f.prewarm, p)
	return "task-1", nil
}

func (f *fakeQueue) EnqueueStorageDelete(p queue.StorageDeletePayload, _ time.Duration) (string, error) {
	f.deletes = append(f.deletes, p)
	return "task-2", nil
}

type fakePrewarmer struct{ calls int }

func (f *fakePrewarmer) Prewarm(_ context.Context, voice, text string, _ models.Format) (string, error) {
	f.calls++
	return "https://cdn/" + voice + "/" + text, nil
}

func TestAdmin_Cache(t *testing.T) {
	c := cache.NewMemoryStore()
	c.Set(context.Background(), "tts:nova:abc", "https://cdn/a.mp3", 0)
	h := NewAdminHandler(AdminDeps{Cache: c})

	rec := httptest.NewRecorder()
	h.CacheKeys(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/cache/keys", nil))
	assert.JSONEq(t, `{"keys":["tts:nova:abc"],"count":1}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.CacheGet(rec, withParams(httptest.NewRequest(http.MethodGet, "/", nil), "key", "tts:nova:abc"))
	assert.Equal(t, "https://cdn/a.mp3", decode(t, rec)["value"])

	rec = httptest.NewRecorder()
	h.CacheDelete(rec, withParams(httptest.NewRequest(http.MethodDelete, "/", nil), "key", "tts:nova:abc"))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.CacheGet(rec, withParams(httptest.NewRequest(http.MethodGet, "/", nil), "key", "tts:nova:abc"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdmin_ResetMetrics(t *testing.T) {
	m := metrics.NewCollector(10)
	m.Inc(metrics.Errors)
	h := NewAdminHandler(AdminDeps{Metrics: m})

	rec := httptest.NewRecorder()
	h.ResetMetrics(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, m.Counter(metrics.Errors))
}

func TestAdmin_PrewarmQueuedOrInline(t *testing.T) {
	q := &fakeQueue{}
	h := NewAdminHandler(AdminDeps{Queue: q})

	rec := httptest.NewRecorder()
	h.Prewarm(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"voiceId":"nova","texts":["Hi"],"format":"linear16"}`)))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, q.prewarm, 1)
	assert.Equal(t, "LINEAR16", q.prewarm[0].Format)

	p := &fakePrewarmer{}
	h = NewAdminHandler(AdminDeps{Prewarmer: p})
	rec = httptest.NewRecorder()
	h.Prewarm(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"voiceId":"nova","texts":["Hi","Bye"]}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, p.calls)

	rec = httptest.NewRecorder()
	h.Prewarm(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"voiceId":"nova"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin_DeleteAudio(t *testing.T) {
	q := &fakeQueue{}
	h := NewAdminHandler(AdminDeps{Queue: q})
	rec := httptest.NewRecorder()
	h.DeleteAudio(rec, withParams(httptest.NewRequest(http.MethodDelete, "/?cacheKey=tts:nova:abc", nil), "*", "tts/nova/1-a.mp3"))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []queue.StorageDeletePayload{{Key: "tts/nova/1-a.mp3", CacheKey: "tts:nova:abc"}}, q.deletes)

	store := storage.NewMemoryStore("http://h", storage.Multipart{})
	_, err := store.UploadBuffer(context.Background(), "k", []byte("x"), storage.UploadOptions{})
	require.NoError(t, err)
	h = NewAdminHandler(AdminDeps{Store: store, Cache: cache.NewMemoryStore()})
	rec = httptest.NewRecorder()
	h.DeleteAudio(rec, withParams(httptest.NewRequest(http.MethodDelete, "/", nil), "*", "k"))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, store.Len())
}

func TestAdmin_Profiles(t *testing.T) {
	h := NewAdminHandler(AdminDeps{Profiles: profile.NewStaticRepository(nil)})

	rec := httptest.NewRecorder()
	h.GetProfile(rec, withParams(httptest.NewRequest(http.MethodGet, "/", nil), "calleeId", "agent-7"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.PutProfile(rec, withParams(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"voiceId":"nova","role":"support"}`)), "calleeId", "agent-7"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.GetProfile(rec, withParams(httptest.NewRequest(http.MethodGet, "/", nil), "calleeId", "agent-7"))
	body := decode(t, rec)
	assert.Equal(t, "nova", body["voiceId"])
	assert.Equal(t, "agent-7", body["calleeId"])
}
