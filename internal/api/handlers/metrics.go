package handlers

import (
	"log/slog"
	"net/http"

	"github.com/nikhilbhutani/voicecast/internal/metrics"
)

type MetricsHandler struct {
	collector *metrics.Collector
}

func NewMetricsHandler(c *metrics.Collector) *MetricsHandler {
	return &MetricsHandler{collector: c}
}

func (h *MetricsHandler) Text(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	if err := h.collector.WriteText(w); err != nil {
		slog.Error("failed to render metrics", "error", err)
	}
}

func (h *MetricsHandler) JSON(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.collector.Snapshot())
}
