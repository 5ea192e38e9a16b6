package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nikhilbhutani/voicecast/internal/cache"
	"github.com/nikhilbhutani/voicecast/internal/metrics"
	"github.com/nikhilbhutani/voicecast/internal/models"
	"github.com/nikhilbhutani/voicecast/internal/profile"
	"github.com/nikhilbhutani/voicecast/internal/queue"
)

type Prewarmer interface {
	Prewarm(ctx context.Context, voice, text string, format models.Format) (string, error)
}

type objectDeleter interface {
	Delete(ctx context.Context, key string)
}

// AdminHandler backs operator tooling. With no queue configured, prewarm
// and delete run inline.
type AdminHandler struct {
	metrics   *metrics.Collector
	cache     cache.Store
	queue     queue.Enqueuer
	prewarmer Prewarmer
	store     objectDeleter
	profiles  profile.Repository
}

type AdminDeps struct {
	Metrics   *metrics.Collector
	Cache     cache.Store
	Queue     queue.Enqueuer
	Prewarmer Prewarmer
	Store     objectDeleter
	Profiles  profile.Repository
}

func NewAdminHandler(d AdminDeps) *AdminHandler {
	return &AdminHandler{
		metrics:   d.Metrics,
		cache:     d.Cache,
		queue:     d.Queue,
		prewarmer: d.Prewarmer,
		store:     d.Store,
		profiles:  d.Profiles,
	}
}

func (h *AdminHandler) ResetMetrics(w http.ResponseWriter, r *http.Request) {
	h.metrics.Reset()
	slog.Info("metrics reset by operator")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *AdminHandler) CacheKeys(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = "tts:*"
	}
	keys, err := h.cache.Keys(r.Context(), pattern)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys, "count": len(keys)})
}

func (h *AdminHandler) CacheGet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, ok := h.cache.Get(r.Context(), key)
	if !ok {
		writeError(w, http.StatusNotFound, "key not cached")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

func (h *AdminHandler) CacheDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.Delete(r.Context(), chi.URLParam(r, "key")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type prewarmRequest struct {
	VoiceID string   `json:"voiceId"`
	Texts   []string `json:"texts"`
	Format  string   `json:"format"`
}

func (h *AdminHandler) Prewarm(w http.ResponseWriter, r *http.Request) {
	var req prewarmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.VoiceID) == "" || len(req.Texts) == 0 {
		writeError(w, http.StatusBadRequest, "voiceId and texts are required")
		return
	}
	format, err := models.ParseFormat(req.Format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.queue != nil {
		id, err := h.queue.EnqueuePrewarm(queue.PrewarmPayload{VoiceID: req.VoiceID, Texts: req.Texts, Format: string(format)})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"taskId": id})
		return
	}

	urls := make(map[string]string, len(req.Texts))
	for _, text := range req.Texts {
		url, err := h.prewarmer.Prewarm(r.Context(), req.VoiceID, text, format)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		urls[text] = url
	}
	writeJSON(w, http.StatusOK, map[string]any{"urls": urls})
}

// DeleteAudio removes an uploaded object, invalidating the cache entry
// named by the optional cacheKey query parameter first.
func (h *AdminHandler) DeleteAudio(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" {
		writeError(w, http.StatusBadRequest, "object key is required")
		return
	}
	cacheKey := r.URL.Query().Get("cacheKey")

	if h.queue != nil {
		id, err := h.queue.EnqueueStorageDelete(queue.StorageDeletePayload{Key: key, CacheKey: cacheKey}, 0)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"taskId": id})
		return
	}

	if cacheKey != "" {
		if err := h.cache.Delete(r.Context(), cacheKey); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	h.store.Delete(r.Context(), key)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "calleeId")
	p, err := h.profiles.FindByCallee(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	writeJSON(w, http.StatusOK, models.StoredProfile{CalleeID: id, CalleeProfile: *p})
}

func (h *AdminHandler) PutProfile(w http.ResponseWriter, r *http.Request) {
	writer, ok := h.profiles.(profile.Writer)
	if !ok {
		writeError(w, http.StatusNotImplemented, "profiles are read-only")
		return
	}
	var p models.CalleeProfile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id := chi.URLParam(r, "calleeId")
	if err := writer.Upsert(r.Context(), id, p); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, models.StoredProfile{CalleeID: id, CalleeProfile: p})
}
