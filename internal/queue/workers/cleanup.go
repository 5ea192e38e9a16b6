package workers

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/voicecast/internal/queue"
)

type objectDeleter interface {
	Delete(ctx context.Context, key string)
}

type cacheDeleter interface {
	Delete(ctx context.Context, key string) error
}

// CleanupWorker removes uploaded audio. The object delete is best effort;
// only a failed cache invalidation makes the task retry.
type CleanupWorker struct {
	store objectDeleter
	cache cacheDeleter
}

func NewCleanupWorker(store objectDeleter, cache cacheDeleter) *CleanupWorker {
	return &CleanupWorker{store: store, cache: cache}
}

func (w *CleanupWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := queue.DecodeStorageDelete(t)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if payload.Key == "" {
		return fmt.Errorf("storage delete task without key: %w", asynq.SkipRetry)
	}

	if payload.CacheKey != "" && w.cache != nil {
		if err := w.cache.Delete(ctx, payload.CacheKey); err != nil {
			return fmt.Errorf("invalidate %s: %w", payload.CacheKey, err)
		}
	}
	w.store.Delete(ctx, payload.Key)
	return nil
}
