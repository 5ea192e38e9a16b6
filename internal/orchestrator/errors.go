package orchestrator

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyText      = errors.New("text is required")
	ErrMissingCallID  = errors.New("callId is required")
	ErrPlaybackFailed = errors.New("telephony provider rejected playback")
)

// Kind classifies a pipeline failure for the caller.
type Kind string

const (
	KindValidation Kind = "validation"
	KindDependency Kind = "dependency"
	KindPlayback   Kind = "playback"
)

// PipelineError is returned for every failed request. Timings is only
// populated when the request asked for debug output.
type PipelineError struct {
	CallID  string
	Stage   Stage
	Kind    Kind
	Err     error
	Timings Timings
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s stage failed for call %q: %v", e.Stage, e.CallID, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a rejected request rather than a
// pipeline failure.
func IsValidation(err error) bool {
	var pe *PipelineError
	return errors.As(err, &pe) && pe.Kind == KindValidation
}
