// Package profile looks up a callee's stored voice profile.
package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nikhilbhutani/voicecast/internal/models"
)

// Repository returns nil, nil when no profile is stored for the callee.
type Repository interface {
	FindByCallee(ctx context.Context, calleeID string) (*models.CalleeProfile, error)
}

// Writer is implemented by repositories that accept profile updates.
type Writer interface {
	Upsert(ctx context.Context, calleeID string, p models.CalleeProfile) error
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGRepository reads callee_profiles through a pgx pool.
type PGRepository struct {
	db querier
}

func NewPGRepository(db querier) *PGRepository {
	return &PGRepository{db: db}
}

func (r *PGRepository) FindByCallee(ctx context.Context, calleeID string) (*models.CalleeProfile, error) {
	var p models.CalleeProfile
	err := r.db.QueryRow(ctx,
		"SELECT voice_id, display_name, role FROM callee_profiles WHERE callee_id = $1", calleeID,
	).Scan(&p.VoiceID, &p.DisplayName, &p.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find callee profile: %w", err)
	}
	return &p, nil
}

func (r *PGRepository) Upsert(ctx context.Context, calleeID string, p models.CalleeProfile) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO callee_profiles (callee_id, voice_id, display_name, role, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (callee_id) DO UPDATE
		SET voice_id = EXCLUDED.voice_id, display_name = EXCLUDED.display_name,
		    role = EXCLUDED.role, updated_at = now()`,
		calleeID, p.VoiceID, p.DisplayName, p.Role,
	)
	if err != nil {
		return fmt.Errorf("upsert callee profile: %w", err)
	}
	return nil
}

// StaticRepository serves profiles from memory. It backs the api when no
// database is configured, and tests.
type StaticRepository struct {
	mu       sync.RWMutex
	profiles map[string]models.StoredProfile
}

func NewStaticRepository(profiles map[string]models.CalleeProfile) *StaticRepository {
	r := &StaticRepository{profiles: make(map[string]models.StoredProfile, len(profiles))}
	for id, p := range profiles {
		r.profiles[id] = models.StoredProfile{CalleeID: id, CalleeProfile: p, UpdatedAt: time.Now()}
	}
	return r
}

func (r *StaticRepository) FindByCallee(_ context.Context, calleeID string) (*models.CalleeProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sp, ok := r.profiles[calleeID]
	if !ok {
		return nil, nil
	}
	p := sp.CalleeProfile
	return &p, nil
}

func (r *StaticRepository) Upsert(_ context.Context, calleeID string, p models.CalleeProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[calleeID] = models.StoredProfile{CalleeID: calleeID, CalleeProfile: p, UpdatedAt: time.Now()}
	return nil
}
