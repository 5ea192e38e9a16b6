package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrewarmTask(t *testing.T) {
	task, opts, err := prewarmTask(PrewarmPayload{VoiceID: "nova", Texts: []string{"Hi", "Bye"}, Format: "MP3"})
	require.NoError(t, err)
	assert.Equal(t, TypeTTSPrewarm, task.Type())
	assert.JSONEq(t, `{"voice_id":"nova","texts":["Hi","Bye"],"format":"MP3"}`, string(task.Payload()))

	decoded, err := DecodePrewarm(task)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hi", "Bye"}, decoded.Texts)

	types := optionTypes(opts)
	assert.Contains(t, types, asynq.TaskIDOpt)
	assert.Contains(t, types, asynq.QueueOpt)
	assert.NotContains(t, types, asynq.ProcessInOpt)
}

func TestStorageDeleteTask(t *testing.T) {
	task, opts, err := storageDeleteTask(StorageDeletePayload{Key: "tts/a/1.mp3", CacheKey: "tts:a:x"}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, TypeStorageDelete, task.Type())
	assert.Contains(t, optionTypes(opts), asynq.ProcessInOpt)

	_, opts, err = storageDeleteTask(StorageDeletePayload{Key: "k"}, 0)
	require.NoError(t, err)
	assert.NotContains(t, optionTypes(opts), asynq.ProcessInOpt)
}

func TestDecode_BadPayload(t *testing.T) {
	_, err := DecodeStorageDelete(asynq.NewTask(TypeStorageDelete, []byte("{nope")))
	assert.ErrorContains(t, err, "unmarshal storage:delete payload")
}

func TestRegistry_RoutesAndLogs(t *testing.T) {
	r := NewHandlersRegistry()
	var got string
	boom := errors.New("boom")
	r.Register(TypeTTSPrewarm, asynq.HandlerFunc(func(_ context.Context, t *asynq.Task) error {
		got = t.Type()
		return nil
	}))
	r.Register(TypeStorageDelete, asynq.HandlerFunc(func(context.Context, *asynq.Task) error { return boom }))

	require.NoError(t, r.Mux().ProcessTask(context.Background(), asynq.NewTask(TypeTTSPrewarm, nil)))
	assert.Equal(t, TypeTTSPrewarm, got)
	assert.ErrorIs(t, r.Mux().ProcessTask(context.Background(), asynq.NewTask(TypeStorageDelete, nil)), boom)
}

func optionTypes(opts []asynq.Option) []asynq.OptionType {
	out := make([]asynq.OptionType, 0, len(opts))
	for _, o := range opts {
		out = append(out, o.Type())
	}
	return out
}
