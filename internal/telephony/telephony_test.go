package telephony

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/voicecast/internal/models"
)

type fakeCallServer struct {
	mu       sync.Mutex
	played   []string
	binary   [][]byte
	events   []endEvent
	dials    int
	playCode int
	done     chan struct{}
}

func newFakeCallServer(t *testing.T) (*fakeCallServer, *httptest.Server) {
	t.Helper()
	f := &fakeCallServer{playCode: http.StatusAccepted, done: make(chan struct{}, 4)}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /calls/{id}/play", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var body struct {
			URL string `json:"url"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.played = append(f.played, r.PathValue("id")+"|"+body.URL)
		code := f.playCode
		f.mu.Unlock()
		w.WriteHeader(code)
	})
	mux.HandleFunc("GET /calls/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "c1" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(models.CallInfo{
			CallID:   "c1",
			CallerID: "+15550001",
			CalleeID: "agent-7",
			CalleeProfile: &models.CalleeProfile{
				VoiceID:     "nova",
				DisplayName: "Dana",
				Role:        "support",
			},
		})
	})
	mux.HandleFunc("GET /calls/{id}/media", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		f.mu.Lock()
		f.dials++
		f.mu.Unlock()
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f.mu.Lock()
			if kind == websocket.BinaryMessage {
				f.binary = append(f.binary, data)
			} else {
				var ev endEvent
				_ = json.Unmarshal(data, &ev)
				f.events = append(f.events, ev)
				f.done <- struct{}{}
			}
			f.mu.Unlock()
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func TestHTTPControl_PlayURL(t *testing.T) {
	f, srv := newFakeCallServer(t)
	h := NewHTTPControl(HTTPConfig{BaseURL: srv.URL, APIKey: "secret"})

	assert.True(t, h.PlayURL(context.Background(), "c1", "https://cdn/a.mp3"))
	assert.Equal(t, []string{"c1|https://cdn/a.mp3"}, f.played)

	f.mu.Lock()
	f.playCode = http.StatusConflict
	f.mu.Unlock()
	assert.False(t, h.PlayURL(context.Background(), "c1", "https://cdn/b.mp3"))
}

func TestHTTPControl_PlayURLUnreachable(t *testing.T) {
	h := NewHTTPControl(HTTPConfig{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})
	assert.False(t, h.PlayURL(context.Background(), "c1", "https://cdn/a.mp3"))
	assert.Nil(t, h.GetCallInfo(context.Background(), "c1"))
}

func TestHTTPControl_GetCallInfo(t *testing.T) {
	_, srv := newFakeCallServer(t)
	h := NewHTTPControl(HTTPConfig{BaseURL: srv.URL, APIKey: "secret"})

	info := h.GetCallInfo(context.Background(), "c1")
	require.NotNil(t, info)
	assert.Equal(t, "agent-7", info.CalleeID)
	require.NotNil(t, info.CalleeProfile)
	assert.Equal(t, "nova", info.CalleeProfile.VoiceID)

	assert.Nil(t, h.GetCallInfo(context.Background(), "unknown"))
}

func TestHTTPControl_StreamChunksThenEnd(t *testing.T) {
	f, srv := newFakeCallServer(t)
	h := NewHTTPControl(HTTPConfig{BaseURL: srv.URL, APIKey: "secret"})
	ctx := context.Background()

	for _, c := range []string{"one", "two", "three"} {
		assert.True(t, h.ForwardChunk(ctx, "c1", []byte(c)))
	}
	assert.True(t, h.SignalEnd(ctx, "c1"))

	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatal("end event not received")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, [][]byte{[]byte("one"), []byte("two"), []byte("three")}, f.binary)
	require.Len(t, f.events, 1)
	assert.Equal(t, "end", f.events[0].Event)
	assert.NotEmpty(t, f.events[0].SessionID)
	assert.Equal(t, 1, f.dials)
}

func TestHTTPControl_SignalEndWithoutChunks(t *testing.T) {
	f, srv := newFakeCallServer(t)
	h := NewHTTPControl(HTTPConfig{BaseURL: srv.URL})

	assert.True(t, h.SignalEnd(context.Background(), "c9"))
	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatal("end event not received")
	}
}

func TestHTTPControl_NoMediaEndpoint(t *testing.T) {
	h := NewHTTPControl(HTTPConfig{BaseURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond})
	assert.False(t, h.ForwardChunk(context.Background(), "c1", []byte("x")))
	assert.False(t, h.SignalEnd(context.Background(), "c1"))
}

func TestToWebSocketURL(t *testing.T) {
	assert.Equal(t, "wss://voice.example.com/v1", toWebSocketURL("https://voice.example.com/v1"))
	assert.Equal(t, "ws://localhost:9000", toWebSocketURL("http://localhost:9000"))
}

func TestMemoryControl(t *testing.T) {
	m := NewMemoryControl()
	ctx := context.Background()
	m.AddCall(models.CallInfo{CallID: "c1", CalleeProfile: &models.CalleeProfile{VoiceID: "nova"}})

	info := m.GetCallInfo(ctx, "c1")
	require.NotNil(t, info)
	info.CalleeProfile.VoiceID = "mutated"
	assert.Equal(t, "nova", m.GetCallInfo(ctx, "c1").CalleeProfile.VoiceID)
	assert.Nil(t, m.GetCallInfo(ctx, "nope"))

	assert.True(t, m.PlayURL(ctx, "c1", "u1"))
	m.FailPlayback(true)
	assert.False(t, m.PlayURL(ctx, "c1", "u2"))
	assert.Equal(t, []string{"u1"}, m.Plays("c1"))

	m.FailChunks(2)
	assert.True(t, m.ForwardChunk(ctx, "c1", []byte("a")))
	assert.False(t, m.ForwardChunk(ctx, "c1", []byte("b")))
	assert.True(t, m.ForwardChunk(ctx, "c1", []byte("c")))
	assert.True(t, m.SignalEnd(ctx, "c1"))
	assert.Equal(t, 3, m.ChunkAttempts("c1"))
	assert.Len(t, m.Chunks("c1"), 2)
	assert.Equal(t, 1, m.Ends("c1"))
}
