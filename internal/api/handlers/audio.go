package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nikhilbhutani/voicecast/internal/storage"
)

// AudioHandler serves uploaded audio for stores that have no public
// endpoint of their own (NATS object store, memory).
type AudioHandler struct {
	reader storage.Reader
}

func NewAudioHandler(r storage.Reader) *AudioHandler {
	return &AudioHandler{reader: r}
}

func (h *AudioHandler) Serve(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if h.reader == nil || key == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	obj, err := h.reader.Open(r.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		slog.Error("failed to open audio", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read audio")
		return
	}
	defer obj.Body.Close()

	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	}
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	// object keys are never reused
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj.Body); err != nil {
		slog.Warn("audio stream interrupted", "key", key, "error", err)
	}
}
