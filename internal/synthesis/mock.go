package synthesis

import (
	"context"

	"github.com/nikhilbhutani/voicecast/internal/models"
)

// mockMP3 is a single silent MPEG-1 Layer III frame header followed by padding.
var mockMP3 = append([]byte{0xFF, 0xFB, 0x90, 0x64}, make([]byte, 60)...)

// MockProvider returns a fixed short buffer. It keeps the pipeline usable
// without a live synthesis dependency.
type MockProvider struct{}

func (MockProvider) Name() string { return "mock" }

func (MockProvider) Synthesize(_ context.Context, req Request) (Audio, error) {
	if req.Format == models.FormatLinear16 {
		// 10ms of 16kHz mono silence.
		return Buffered{Data: make([]byte, 320)}, nil
	}
	data := make([]byte, len(mockMP3))
	copy(data, mockMP3)
	return Buffered{Data: data}, nil
}
