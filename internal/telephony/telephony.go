// Package telephony is the boundary to live calls: playback, real-time audio
// forwarding and call metadata.
package telephony

import (
	"context"

	"github.com/nikhilbhutani/voicecast/internal/models"
)

// Control never returns errors: failures are logged and reported as false
// (or nil call info) so callers can respond cleanly.
type Control interface {
	PlayURL(ctx context.Context, callID, url string) bool
	ForwardChunk(ctx context.Context, callID string, chunk []byte) bool
	// SignalEnd closes a streaming session. Call it exactly once per session,
	// after the last chunk, even when forwarding failed.
	SignalEnd(ctx context.Context, callID string) bool
	GetCallInfo(ctx context.Context, callID string) *models.CallInfo
}
