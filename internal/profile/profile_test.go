package profile

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/voicecast/internal/models"
)

type fakeRow struct {
	values []string
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		*(d.(*string)) = r.values[i]
	}
	return nil
}

type fakeQuerier struct {
	row      fakeRow
	lastSQL  string
	lastArgs []any
	execErr  error
}

func (f *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.lastSQL, f.lastArgs = sql, args
	return f.row
}

func (f *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.lastSQL, f.lastArgs = sql, args
	return pgconn.NewCommandTag("INSERT 0 1"), f.execErr
}

func TestPGRepository_FindByCallee(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{values: []string{"nova", "Dana", "support"}}}
	repo := NewPGRepository(q)

	p, err := repo.FindByCallee(context.Background(), "agent-7")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, models.CalleeProfile{VoiceID: "nova", DisplayName: "Dana", Role: "support"}, *p)
	assert.Equal(t, []any{"agent-7"}, q.lastArgs)
}

func TestPGRepository_NoRowsIsNotAnError(t *testing.T) {
	repo := NewPGRepository(&fakeQuerier{row: fakeRow{err: pgx.ErrNoRows}})

	p, err := repo.FindByCallee(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestPGRepository_QueryFailure(t *testing.T) {
	boom := errors.New("connection refused")
	repo := NewPGRepository(&fakeQuerier{row: fakeRow{err: boom}})

	_, err := repo.FindByCallee(context.Background(), "agent-7")
	assert.ErrorIs(t, err, boom)
}

func TestPGRepository_Upsert(t *testing.T) {
	q := &fakeQuerier{}
	repo := NewPGRepository(q)

	require.NoError(t, repo.Upsert(context.Background(), "agent-7", models.CalleeProfile{VoiceID: "echo", Role: "sales"}))
	assert.Contains(t, q.lastSQL, "ON CONFLICT (callee_id)")
	assert.Equal(t, []any{"agent-7", "echo", "", "sales"}, q.lastArgs)

	q.execErr = errors.New("read-only transaction")
	assert.Error(t, repo.Upsert(context.Background(), "agent-7", models.CalleeProfile{}))
}

func TestStaticRepository(t *testing.T) {
	repo := NewStaticRepository(map[string]models.CalleeProfile{"a": {VoiceID: "nova"}})
	ctx := context.Background()

	p, err := repo.FindByCallee(ctx, "a")
	require.NoError(t, err)
	p.VoiceID = "mutated"

	again, _ := repo.FindByCallee(ctx, "a")
	assert.Equal(t, "nova", again.VoiceID)

	missing, err := repo.FindByCallee(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.Upsert(ctx, "b", models.CalleeProfile{Role: "sales"}))
	got, _ := repo.FindByCallee(ctx, "b")
	assert.Equal(t, "sales", got.Role)
}
