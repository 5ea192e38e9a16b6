package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/voicecast/internal/models"
	"github.com/nikhilbhutani/voicecast/internal/queue"
)

type Prewarmer interface {
	Prewarm(ctx context.Context, voice, text string, format models.Format) (string, error)
}

// PrewarmWorker fills the cache ahead of calls. Texts already cached are
// skipped by the prewarmer, so a retried task only redoes what failed.
type PrewarmWorker struct {
	prewarmer Prewarmer
}

func NewPrewarmWorker(p Prewarmer) *PrewarmWorker {
	return &PrewarmWorker{prewarmer: p}
}

func (w *PrewarmWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := queue.DecodePrewarm(t)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if payload.VoiceID == "" || len(payload.Texts) == 0 {
		return fmt.Errorf("prewarm task needs a voice and at least one text: %w", asynq.SkipRetry)
	}
	format, err := models.ParseFormat(payload.Format)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	var errs []error
	for _, text := range payload.Texts {
		url, err := w.prewarmer.Prewarm(ctx, payload.VoiceID, text, format)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		slog.Debug("prewarmed phrase", "voice", payload.VoiceID, "url", url)
	}
	if len(errs) > 0 {
		return fmt.Errorf("prewarm %d of %d texts failed: %w", len(errs), len(payload.Texts), errors.Join(errs...))
	}
	slog.Info("prewarm complete", "voice", payload.VoiceID, "texts", len(payload.Texts))
	return nil
}
