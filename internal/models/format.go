package models

import (
	"errors"
	"fmt"
	"strings"
)

// Format is the audio encoding requested from the synthesis backend.
type Format string

const (
	FormatMP3      Format = "MP3"
	FormatLinear16 Format = "LINEAR16"
)

var ErrUnknownFormat = errors.New("unknown audio format")

// ParseFormat accepts the wire names case-insensitively. An empty string
// selects MP3.
func ParseFormat(s string) (Format, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(FormatMP3):
		return FormatMP3, nil
	case string(FormatLinear16):
		return FormatLinear16, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

func (f Format) ContentType() string {
	if f == FormatLinear16 {
		return "audio/L16"
	}
	return "audio/mpeg"
}

func (f Format) Extension() string {
	if f == FormatLinear16 {
		return "pcm"
	}
	return "mp3"
}
