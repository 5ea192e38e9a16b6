package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nikhilbhutani/voicecast/internal/models"
)

const writeTimeout = 5 * time.Second

type HTTPConfig struct {
	BaseURL  string // REST API, e.g. https://voice.example.com/v1
	MediaURL string // WebSocket media endpoint; defaults to BaseURL with a ws scheme
	APIKey   string
	Timeout  time.Duration
}

type mediaSession struct {
	id   string
	mu   sync.Mutex
	conn *websocket.Conn
}

type endEvent struct {
	Event     string `json:"event"`
	SessionID string `json:"sessionId"`
}

// HTTPControl drives calls through a REST control plane and pushes raw audio
// over one WebSocket per call.
type HTTPControl struct {
	cfg        HTTPConfig
	httpClient *http.Client
	dialer     *websocket.Dialer

	mu       sync.Mutex
	sessions map[string]*mediaSession
}

var _ Control = (*HTTPControl)(nil)

func NewHTTPControl(cfg HTTPConfig) *HTTPControl {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MediaURL == "" {
		cfg.MediaURL = toWebSocketURL(cfg.BaseURL)
	}
	return &HTTPControl{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		dialer:   &websocket.Dialer{HandshakeTimeout: cfg.Timeout},
		sessions: make(map[string]*mediaSession),
	}
}

func (h *HTTPControl) PlayURL(ctx context.Context, callID, audioURL string) bool {
	body, err := json.Marshal(map[string]string{"url": audioURL})
	if err != nil {
		slog.Error("marshal play request", "call_id", callID, "error", err)
		return false
	}

	resp, err := h.do(ctx, http.MethodPost, "/calls/"+url.PathEscape(callID)+"/play", bytes.NewReader(body))
	if err != nil {
		slog.Error("play request failed", "call_id", callID, "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		slog.Error("play rejected", "call_id", callID, "status", resp.StatusCode, "body", string(msg))
		return false
	}
	return true
}

func (h *HTTPControl) GetCallInfo(ctx context.Context, callID string) *models.CallInfo {
	resp, err := h.do(ctx, http.MethodGet, "/calls/"+url.PathEscape(callID), nil)
	if err != nil {
		slog.Warn("call info request failed", "call_id", callID, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode >= 300 {
		slog.Warn("call info rejected", "call_id", callID, "status", resp.StatusCode)
		return nil
	}

	var info models.CallInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		slog.Warn("decode call info", "call_id", callID, "error", err)
		return nil
	}
	if info.CallID == "" {
		info.CallID = callID
	}
	return &info
}

func (h *HTTPControl) ForwardChunk(ctx context.Context, callID string, chunk []byte) bool {
	s := h.session(callID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		if err := h.dial(ctx, callID, s); err != nil {
			slog.Warn("open media stream failed", "call_id", callID, "error", err)
			return false
		}
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		slog.Warn("forward chunk failed", "call_id", callID, "session_id", s.id, "error", err)
		s.conn.Close()
		s.conn = nil
		return false
	}
	return true
}

func (h *HTTPControl) SignalEnd(ctx context.Context, callID string) bool {
	h.mu.Lock()
	s := h.sessions[callID]
	delete(h.sessions, callID)
	h.mu.Unlock()

	if s == nil {
		s = &mediaSession{id: uuid.NewString()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		if err := h.dial(ctx, callID, s); err != nil {
			slog.Error("signal end failed: no media stream", "call_id", callID, "error", err)
			return false
		}
	}
	defer func() {
		s.conn.Close()
		s.conn = nil
	}()

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(endEvent{Event: "end", SessionID: s.id}); err != nil {
		slog.Error("signal end failed", "call_id", callID, "session_id", s.id, "error", err)
		return false
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "end of stream"),
		time.Now().Add(writeTimeout))
	return true
}

func (h *HTTPControl) session(callID string) *mediaSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[callID]
	if !ok {
		s = &mediaSession{id: uuid.NewString()}
		h.sessions[callID] = s
	}
	return s
}

// dial must be called with s.mu held.
func (h *HTTPControl) dial(ctx context.Context, callID string, s *mediaSession) error {
	if h.cfg.MediaURL == "" {
		return errors.New("telephony media URL not configured")
	}
	header := http.Header{}
	if h.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+h.cfg.APIKey)
	}
	header.Set("X-Stream-Session", s.id)

	target := strings.TrimRight(h.cfg.MediaURL, "/") + "/calls/" + url.PathEscape(callID) + "/media"
	conn, resp, err := h.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", target, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", target, err)
	}
	s.conn = conn
	return nil
}

func (h *HTTPControl) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(h.cfg.BaseURL, "/")+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if h.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return h.httpClient.Do(req)
}

func toWebSocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
