package models

import "time"

// CallInfo describes the live state of an active call. It is fetched fresh
// for every request and never cached.
type CallInfo struct {
	CallID        string         `json:"callId"`
	CallerID      string         `json:"callerId"`
	CalleeID      string         `json:"calleeId"`
	CalleeProfile *CalleeProfile `json:"calleeProfile,omitempty"`
}

type CalleeProfile struct {
	VoiceID     string `json:"voiceId,omitempty" db:"voice_id"`
	DisplayName string `json:"displayName,omitempty" db:"display_name"`
	Role        string `json:"role,omitempty" db:"role"`
}

// StoredProfile is a callee profile row as persisted in callee_profiles.
type StoredProfile struct {
	CalleeID string `json:"calleeId" db:"callee_id"`
	CalleeProfile
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
