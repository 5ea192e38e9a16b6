package telephony

import (
	"bytes"
	"context"
	"log/slog"
	"sync"

	"github.com/nikhilbhutani/voicecast/internal/models"
)

// MemoryControl is an in-process Control. It records every interaction and
// can be told to fail, which makes it the default for local runs and the
// workhorse of pipeline tests.
type MemoryControl struct {
	mu        sync.Mutex
	calls     map[string]*models.CallInfo
	plays     map[string][]string
	chunks    map[string][][]byte
	attempts  map[string]int
	ends      map[string]int
	failPlay  bool
	failChunk map[int]bool // 1-based chunk attempt numbers that fail
}

var _ Control = (*MemoryControl)(nil)

func NewMemoryControl() *MemoryControl {
	return &MemoryControl{
		calls:     make(map[string]*models.CallInfo),
		plays:     make(map[string][]string),
		chunks:    make(map[string][][]byte),
		attempts:  make(map[string]int),
		ends:      make(map[string]int),
		failChunk: make(map[int]bool),
	}
}

// AddCall registers call metadata returned by GetCallInfo.
func (m *MemoryControl) AddCall(info models.CallInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := info
	if info.CalleeProfile != nil {
		p := *info.CalleeProfile
		c.CalleeProfile = &p
	}
	m.calls[info.CallID] = &c
}

func (m *MemoryControl) FailPlayback(fail bool) {
	m.mu.Lock()
	m.failPlay = fail
	m.mu.Unlock()
}

// FailChunks makes the given 1-based forwarding attempts of each call fail.
func (m *MemoryControl) FailChunks(attempts ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range attempts {
		m.failChunk[n] = true
	}
}

func (m *MemoryControl) PlayURL(_ context.Context, callID, url string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPlay {
		slog.Warn("playback failed", "call_id", callID)
		return false
	}
	m.plays[callID] = append(m.plays[callID], url)
	return true
}

func (m *MemoryControl) ForwardChunk(_ context.Context, callID string, chunk []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[callID]++
	if m.failChunk[m.attempts[callID]] {
		return false
	}
	m.chunks[callID] = append(m.chunks[callID], bytes.Clone(chunk))
	return true
}

func (m *MemoryControl) SignalEnd(_ context.Context, callID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ends[callID]++
	return true
}

func (m *MemoryControl) GetCallInfo(_ context.Context, callID string) *models.CallInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.calls[callID]
	if !ok {
		return nil
	}
	c := *info
	if info.CalleeProfile != nil {
		p := *info.CalleeProfile
		c.CalleeProfile = &p
	}
	return &c
}

func (m *MemoryControl) Plays(callID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.plays[callID]...)
}

func (m *MemoryControl) Chunks(callID string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.chunks[callID]...)
}

// ChunkAttempts reports every forwarding attempt for the call, failed or not.
func (m *MemoryControl) ChunkAttempts(callID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[callID]
}

func (m *MemoryControl) Ends(callID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ends[callID]
}
