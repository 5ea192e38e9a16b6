package synthesis

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/nikhilbhutani/voicecast/internal/models"
	"github.com/nikhilbhutani/voicecast/internal/retry"
)

// PiperConfig holds configuration for the local Piper backend.
type PiperConfig struct {
	BinPath   string // default: "piper"
	ModelPath string // required: path to the .onnx voice model
}

// PiperProvider synthesizes speech using the Piper binary via subprocess.
// Voice selection is controlled by the model file; the requested voice id is
// ignored. Only raw LINEAR16 output is supported.
type PiperProvider struct {
	cfg PiperConfig
}

func NewPiperProvider(cfg PiperConfig) *PiperProvider {
	if cfg.BinPath == "" {
		cfg.BinPath = "piper"
	}
	return &PiperProvider{cfg: cfg}
}

func (p *PiperProvider) Name() string { return "piper" }

// Synthesize pipes text into Piper via stdin and returns raw PCM from stdout.
func (p *PiperProvider) Synthesize(ctx context.Context, req Request) (Audio, error) {
	if p.cfg.ModelPath == "" {
		return nil, retry.Permanent(&Error{Provider: p.Name(), Err: fmt.Errorf("piper model path is required (set TTS_LOCAL_PIPER_MODEL)")})
	}
	if req.Format != models.FormatLinear16 {
		return nil, retry.Permanent(&Error{Provider: p.Name(), Err: fmt.Errorf("%w: piper produces LINEAR16 only, got %s", models.ErrUnknownFormat, req.Format)})
	}

	cmd := exec.CommandContext(ctx, p.cfg.BinPath, "--model", p.cfg.ModelPath, "--output-raw")
	cmd.Stdin = strings.NewReader(req.Text)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &Error{Provider: p.Name(), Err: fmt.Errorf("piper failed: %w (stderr: %s)", err, stderr.String())}
	}

	return Buffered{Data: stdout.Bytes()}, nil
}
