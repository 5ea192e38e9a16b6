package orchestrator

import "time"

type Stage string

const (
	StageValidation Stage = "validation"
	StageProfile    Stage = "profile"
	StageVoice      Stage = "voice"
	StageCache      Stage = "cache"
	StageSynthesis  Stage = "synthesis"
	StageUpload     Stage = "upload"
	StagePlayback   Stage = "playback"
	StageStream     Stage = "stream"
	StageTotal      Stage = "total"
)

// Timings maps a stage to its wall-clock duration in milliseconds.
type Timings map[Stage]float64

func (t Timings) record(s Stage, d time.Duration) {
	t[s] = ms(d)
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
