// Package synthesis turns (voice, text, format) into audio through a
// pluggable speech-synthesis provider.
package synthesis

import (
	"context"
	"errors"
	"fmt"

	"github.com/nikhilbhutani/voicecast/internal/models"
)

var ErrFeatureDisabled = errors.New("streaming synthesis is disabled")

// Request holds the parameters for one synthesis call.
type Request struct {
	VoiceID string        `json:"voiceId"`
	Text    string        `json:"text"`
	Format  models.Format `json:"format"`
}

// Provider is the interface for text-to-speech backends. Providers that can
// stream natively return Chunked audio, the rest return Buffered.
type Provider interface {
	Synthesize(ctx context.Context, req Request) (Audio, error)
	Name() string
}

// Error reports a provider failure. StatusCode is the upstream HTTP status
// when one exists.
type Error struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("synthesis (%s) failed with status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("synthesis (%s) failed: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) HTTPStatusCode() int { return e.StatusCode }
