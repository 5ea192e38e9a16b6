package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/nikhilbhutani/voicecast/internal/orchestrator"
)

type Speaker interface {
	Speak(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

type TTSHandler struct {
	speaker      Speaker
	debugDefault bool
	timeout      time.Duration
}

func NewTTSHandler(s Speaker, debugTimings bool) *TTSHandler {
	return &TTSHandler{speaker: s, debugDefault: debugTimings}
}

// WithTimeout bounds buffered requests. Streaming requests run as long as
// the audio lasts and are only cut short by the client going away.
func (h *TTSHandler) WithTimeout(d time.Duration) *TTSHandler {
	h.timeout = d
	return h
}

type speakRequest struct {
	CallID    string `json:"callId"`
	Text      string `json:"text"`
	Format    string `json:"format"`
	Streaming bool   `json:"streaming"`
}

type speakResponse struct {
	Success   bool                 `json:"success"`
	CallID    string               `json:"callId"`
	Cached    bool                 `json:"cached"`
	AudioURL  string               `json:"audioUrl,omitempty"`
	Streaming bool                 `json:"streaming,omitempty"`
	Timings   orchestrator.Timings `json:"timings,omitempty"`
}

type speakError struct {
	Error   string               `json:"error"`
	CallID  string               `json:"callId"`
	Timings orchestrator.Timings `json:"timings,omitempty"`
}

func (h *TTSHandler) Speak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, speakError{Error: "invalid request body"})
		return
	}

	ctx := r.Context()
	if h.timeout > 0 && !req.Streaming {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	res, err := h.speaker.Speak(ctx, orchestrator.Request{
		CallID:    req.CallID,
		Text:      req.Text,
		Format:    req.Format,
		Streaming: req.Streaming,
		Debug:     h.debug(r),
	})
	if err != nil {
		status := http.StatusInternalServerError
		body := speakError{Error: err.Error(), CallID: req.CallID}

		var pe *orchestrator.PipelineError
		if errors.As(err, &pe) {
			body.Error = pe.Err.Error()
			body.Timings = pe.Timings
			if pe.Kind == orchestrator.KindValidation {
				status = http.StatusBadRequest
			}
		}
		writeJSON(w, status, body)
		return
	}

	writeJSON(w, http.StatusOK, speakResponse{
		Success:   true,
		CallID:    res.CallID,
		Cached:    res.Cached,
		AudioURL:  res.AudioURL,
		Streaming: res.Streaming,
		Timings:   res.Timings,
	})
}

func (h *TTSHandler) debug(r *http.Request) bool {
	if v := r.URL.Query().Get("debug"); v != "" {
		b, err := strconv.ParseBool(v)
		return err == nil && b
	}
	return h.debugDefault
}
