package rating

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/yourname/beamnet/internal/store"
	"github.com/yourname/beamnet/pkg/types"
)

func newTestScheduler(t *testing.T) (*PeriodScheduler, *store.Memory) {
	t.Helper()
	repo := store.NewMemory()
	engine := NewEngine(repo, zerolog.Nop())
	return NewPeriodScheduler(repo, engine, time.Minute, zerolog.Nop()), repo
}

func TestTickBootstrapAnchorsUnsetPeriod(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestScheduler(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, repo.UpsertMode(ctx, &types.Mode{
		InternalName: "tdm", Status: types.ModeOpen, GameCount: 5, RatingPeriodHours: 24,
	}))
	_, err := repo.EnsureRating(ctx, "p1", "tdm")
	require.NoError(t, err)

	require.NoError(t, s.Tick(ctx))

	mode, err := repo.GetMode(ctx, "tdm")
	require.NoError(t, err)
	require.NotNil(t, mode.LastRatingPeriod)
	require.True(t, mode.LastRatingPeriod.Equal(now))

	// Bootstrap only anchors; no decay ran.
	r, err := repo.GetRating(ctx, "p1", "tdm")
	require.NoError(t, err)
	require.Equal(t, types.DefaultDeviation, r.Deviation)
}

func TestTickRolloverDecaysIdlePlayers(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestScheduler(t)
	now := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	last := now.Add(-25 * time.Hour)
	require.NoError(t, repo.UpsertMode(ctx, &types.Mode{
		InternalName: "tdm", Status: types.ModeOpen, GameCount: 5,
		RatingPeriodHours: 24, LastRatingPeriod: &last,
	}))

	// Idle player with a sharpened deviation; active player with a pending
	// buffer.
	_, err := repo.EnsureRating(ctx, "idle", "tdm")
	require.NoError(t, err)
	require.NoError(t, repo.MutateRating(ctx, "idle", "tdm", func(r *types.Rating) error {
		r.Deviation = 90
		return nil
	}))
	_, err = repo.EnsureRating(ctx, "active", "tdm")
	require.NoError(t, err)
	require.NoError(t, repo.MutateRating(ctx, "active", "tdm", func(r *types.Rating) error {
		r.Deviation = 90
		r.Pending = []types.PendingResult{{OpponentRating: 1500, Deviation: 100, Outcome: 1}}
		return nil
	}))

	require.NoError(t, s.Tick(ctx))

	idle, err := repo.GetRating(ctx, "idle", "tdm")
	require.NoError(t, err)
	require.Greater(t, idle.Deviation, 90.0)

	active, err := repo.GetRating(ctx, "active", "tdm")
	require.NoError(t, err)
	require.Equal(t, 90.0, active.Deviation)

	// Rollover clears buffers and re-pins every baseline.
	require.Empty(t, active.Pending)
	require.NotNil(t, active.Initial)
	require.Equal(t, 90.0, active.Initial.Deviation)

	mode, err := repo.GetMode(ctx, "tdm")
	require.NoError(t, err)
	require.True(t, mode.LastRatingPeriod.Equal(last.Add(24*time.Hour)))
}

func TestTickCatchesUpMissedPeriods(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestScheduler(t)
	now := time.Date(2026, 3, 10, 0, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	last := now.Add(-73 * time.Hour)
	require.NoError(t, repo.UpsertMode(ctx, &types.Mode{
		InternalName: "tdm", Status: types.ModeOpen, GameCount: 5,
		RatingPeriodHours: 24, LastRatingPeriod: &last,
	}))

	require.NoError(t, s.Tick(ctx))

	mode, err := repo.GetMode(ctx, "tdm")
	require.NoError(t, err)
	require.True(t, mode.LastRatingPeriod.Equal(last.Add(72*time.Hour)))
}

func TestTickSkipsModesWithoutPeriods(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestScheduler(t)

	require.NoError(t, repo.UpsertMode(ctx, &types.Mode{
		InternalName: "casual", Status: types.ModeOpen, GameCount: 5,
	}))
	require.NoError(t, s.Tick(ctx))

	mode, err := repo.GetMode(ctx, "casual")
	require.NoError(t, err)
	require.Nil(t, mode.LastRatingPeriod)
}
