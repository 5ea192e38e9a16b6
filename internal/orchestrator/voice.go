package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/nikhilbhutani/voicecast/internal/models"
)

// Voice sources, in precedence order.
const (
	SourceCallInfo = "call_info"
	SourceProfile  = "profile"
	SourceRole     = "role_default"
	SourceFallback = "fallback"
)

// ResolveVoice picks the voice for a call. Caller input is never consulted:
// the callee profile on the live call wins, then the stored profile, then
// the role default table, then the fallback voice.
func (o *Orchestrator) ResolveVoice(ctx context.Context, callID string) (voice, source string) {
	return o.resolveVoice(ctx, callID, Timings{})
}

func (o *Orchestrator) resolveVoice(ctx context.Context, callID string, t Timings) (string, string) {
	ctx, span := o.tracer.Start(ctx, "tts.resolve_voice")
	defer span.End()

	start := time.Now()
	info := o.phone.GetCallInfo(ctx, callID)
	t.record(StageProfile, time.Since(start))

	start = time.Now()
	defer func() { t.record(StageVoice, time.Since(start)) }()

	var role, calleeID string
	if info != nil {
		calleeID = info.CalleeID
		if p := info.CalleeProfile; p != nil {
			if p.VoiceID != "" {
				return p.VoiceID, SourceCallInfo
			}
			role = p.Role
		}
	}

	if p := o.storedProfile(ctx, calleeID); p != nil {
		if p.VoiceID != "" {
			return p.VoiceID, SourceProfile
		}
		if role == "" {
			role = p.Role
		}
	}

	if v, ok := o.cfg.RoleVoices[strings.ToLower(strings.TrimSpace(role))]; ok && v != "" {
		return v, SourceRole
	}
	return o.cfg.FallbackVoice, SourceFallback
}

func (o *Orchestrator) storedProfile(ctx context.Context, calleeID string) *models.CalleeProfile {
	if o.profiles == nil || calleeID == "" {
		return nil
	}
	p, err := o.profiles.FindByCallee(ctx, calleeID)
	if err != nil {
		slog.Warn("callee profile lookup failed", "callee_id", calleeID, "error", err)
		return nil
	}
	return p
}
