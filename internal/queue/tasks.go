package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	TypeTTSPrewarm    = "tts:prewarm"
	TypeStorageDelete = "storage:delete"
)

// PrewarmPayload asks the worker to synthesize, upload and cache each text
// for one voice.
type PrewarmPayload struct {
	VoiceID string   `json:"voice_id"`
	Texts   []string `json:"texts"`
	Format  string   `json:"format,omitempty"`
}

// StorageDeletePayload removes an uploaded object. CacheKey, when set, is
// invalidated first so no caller is handed a URL that is about to vanish.
type StorageDeletePayload struct {
	Key      string `json:"key"`
	CacheKey string `json:"cache_key,omitempty"`
}

func decode[T any](t *asynq.Task) (T, error) {
	var payload T
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("unmarshal %s payload: %w", t.Type(), err)
	}
	return payload, nil
}

func DecodePrewarm(t *asynq.Task) (PrewarmPayload, error) { return decode[PrewarmPayload](t) }

func DecodeStorageDelete(t *asynq.Task) (StorageDeletePayload, error) {
	return decode[StorageDeletePayload](t)
}
