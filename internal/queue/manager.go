// Package queue handles matchmaking queue admission.
package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/yourname/beamnet/internal/metrics"
	"github.com/yourname/beamnet/internal/store"
	"github.com/yourname/beamnet/pkg/types"
)

// Manager admits players into and out of the matchmaking queue. The
// Repository enforces the one-entry-per-player invariant; the redis index is
// kept in sync best-effort.
type Manager struct {
	repo  store.Repository
	index *store.QueueIndex
	log   zerolog.Logger
	now   func() time.Time
}

func NewManager(repo store.Repository, index *store.QueueIndex, log zerolog.Logger) *Manager {
	return &Manager{
		repo:  repo,
		index: index,
		log:   log.With().Str("component", "queue").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Join admits a player for the selected modes. Preconditions are checked in
// order; the first failure wins: mode availability, no active match, no queue
// cooldown, not already queued.
func (m *Manager) Join(ctx context.Context, playerID string, modeNames []string) (*types.QueueEntry, error) {
	if len(modeNames) == 0 {
		return nil, types.NewError(types.KindInvalidState, "no modes selected")
	}

	for _, name := range modeNames {
		mode, err := m.repo.GetMode(ctx, name)
		if err != nil {
			return nil, err
		}
		if !mode.Joinable() {
			return nil, types.NewError(types.KindModeUnavailable, "mode %s is not open", name)
		}
	}

	inMatch, err := m.repo.PlayerInActiveMatch(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if inMatch {
		return nil, types.NewError(types.KindAlreadyInMatch, "player %s is in an active match", playerID)
	}

	player, err := m.repo.EnsurePlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	if player.QueueCooldownUntil != nil && now.Before(*player.QueueCooldownUntil) {
		return nil, types.NewError(types.KindQueueCooldown, "player %s is on queue cooldown until %s",
			playerID, player.QueueCooldownUntil.Format(time.RFC3339))
	}

	snapshots := map[string]types.RatingSnapshot{}
	for _, name := range modeNames {
		r, err := m.repo.EnsureRating(ctx, playerID, name)
		if err != nil {
			return nil, err
		}
		snapshots[name] = r.Snapshot()
	}

	entry := &types.QueueEntry{
		PlayerIDs: []string{playerID},
		Modes:     append([]string(nil), modeNames...),
		Ratings:   map[string]map[string]types.RatingSnapshot{playerID: snapshots},
		JoinedAt:  now,
	}
	// Compare-and-insert: a concurrent join by the same player loses here.
	if err := m.repo.InsertQueueEntry(ctx, entry); err != nil {
		return nil, err
	}

	if m.index != nil {
		ratings := make(map[string]float64, len(snapshots))
		for mode, snap := range snapshots {
			ratings[mode] = snap.Rating
		}
		if err := m.index.Add(ctx, playerID, ratings); err != nil {
			m.log.Error().Err(err).Str("player", playerID).Msg("queue index add failed")
		}
	}
	m.updateSizeMetrics(ctx, entry.Modes)
	return entry, nil
}

// Leave removes the player's entry and returns how long they were queued.
func (m *Manager) Leave(ctx context.Context, playerID string) (time.Duration, error) {
	entry, err := m.repo.DeleteQueueEntry(ctx, playerID)
	if err != nil {
		return 0, err
	}
	if m.index != nil {
		for _, member := range entry.PlayerIDs {
			if err := m.index.Remove(ctx, member, entry.Modes); err != nil {
				m.log.Error().Err(err).Str("player", member).Msg("queue index remove failed")
			}
		}
	}
	m.updateSizeMetrics(ctx, entry.Modes)
	return m.now().Sub(entry.JoinedAt), nil
}

// Entry returns the player's queue entry, or nil when not queued.
func (m *Manager) Entry(ctx context.Context, playerID string) (*types.QueueEntry, error) {
	entry, err := m.repo.GetQueueEntry(ctx, playerID)
	if types.KindOf(err) == types.KindNotQueued {
		return nil, nil
	}
	return entry, err
}

func (m *Manager) updateSizeMetrics(ctx context.Context, modes []string) {
	if m.index == nil {
		return
	}
	for _, mode := range modes {
		if n, err := m.index.Size(ctx, mode); err == nil {
			metrics.QueueSize.WithLabelValues(mode).Set(float64(n))
		}
	}
}
