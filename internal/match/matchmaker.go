package match

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/yourname/beamnet/internal/store"
	"github.com/yourname/beamnet/pkg/types"
)

// Matchmaker promotes queued players into matches. Each pass walks every open
// mode, takes the lowest-rated block of queued players from the redis index,
// and hands them to the Lifecycle.
type Matchmaker struct {
	repo      store.Repository
	index     *store.QueueIndex
	lifecycle *Lifecycle
	interval  time.Duration
	log       zerolog.Logger
}

func NewMatchmaker(repo store.Repository, index *store.QueueIndex, lc *Lifecycle,
	interval time.Duration, log zerolog.Logger) *Matchmaker {
	return &Matchmaker{
		repo:      repo,
		index:     index,
		lifecycle: lc,
		interval:  interval,
		log:       log.With().Str("component", "matchmaker").Logger(),
	}
}

func (mm *Matchmaker) Run(ctx context.Context) {
	ticker := time.NewTicker(mm.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := mm.Pass(ctx); err != nil {
				mm.log.Error().Err(err).Msg("matchmaking pass failed")
			}
		}
	}
}

// Pass tries to form one match per open mode.
func (mm *Matchmaker) Pass(ctx context.Context) error {
	modes, err := mm.repo.ListModes(ctx)
	if err != nil {
		return err
	}
	for _, mode := range modes {
		if !mode.Joinable() {
			continue
		}
		if err := mm.tryMode(ctx, mode); err != nil {
			mm.log.Error().Err(err).Str("mode", mode.InternalName).Msg("matchmaking mode failed")
		}
	}
	return nil
}

func (mm *Matchmaker) tryMode(ctx context.Context, mode *types.Mode) error {
	need := 2 * types.TeamSize
	// Over-fetch so the spread search has slack around the lowest block.
	candidates, err := mm.index.Peek(ctx, mode.InternalName, 4*need)
	if err != nil {
		return err
	}
	if len(candidates) < need {
		return nil
	}

	// Re-validate against the repository: the index is advisory and can lag
	// behind leaves.
	valid := make([]store.Candidate, 0, len(candidates))
	entries := make(map[string]*types.QueueEntry, need)
	var stale []string
	for _, c := range candidates {
		entry, err := mm.repo.GetQueueEntry(ctx, c.PlayerID)
		if err != nil {
			if types.KindOf(err) == types.KindNotQueued {
				stale = append(stale, c.PlayerID)
				continue
			}
			return err
		}
		if !entry.HasMode(mode.InternalName) {
			stale = append(stale, c.PlayerID)
			continue
		}
		valid = append(valid, c)
		entries[c.PlayerID] = entry
	}
	for _, id := range stale {
		if err := mm.index.Remove(ctx, id, []string{mode.InternalName}); err != nil {
			mm.log.Warn().Err(err).Str("player", id).Msg("drop stale index entry")
		}
	}
	if len(valid) < need {
		return nil
	}

	// Candidates are rating-sorted, so the tightest group is a contiguous
	// window; take the one with the smallest spread.
	best := 0
	for i := 1; i+need <= len(valid); i++ {
		if valid[i+need-1].Rating-valid[i].Rating < valid[best+need-1].Rating-valid[best].Rating {
			best = i
		}
	}
	group := make([]string, 0, need)
	for _, c := range valid[best : best+need] {
		group = append(group, c.PlayerID)
	}

	host, err := mm.pickHost(ctx, group, entries)
	if err != nil {
		return err
	}

	// Dequeue everyone before creating. A player we fail to dequeue stays
	// queued and the match proceeds without a second attempt this pass.
	for _, id := range group {
		entry, err := mm.repo.DeleteQueueEntry(ctx, id)
		if err != nil {
			mm.log.Error().Err(err).Str("player", id).Msg("dequeue matched player")
			continue
		}
		if err := mm.index.Remove(ctx, id, entry.Modes); err != nil {
			mm.log.Warn().Err(err).Str("player", id).Msg("remove matched player from index")
		}
		mm.lifecycle.notifier.SendToPlayer(id, types.Event{Type: types.EventQueueRemoved})
	}

	m, err := mm.lifecycle.Create(ctx, group, mode.InternalName, host)
	if err != nil {
		return err
	}
	mm.log.Info().Str("match", m.ID).Str("mode", mode.InternalName).Msg("matchmade")
	return nil
}

// pickHost prefers the player with the strongest host preference, breaking
// ties by who queued first.
func (mm *Matchmaker) pickHost(ctx context.Context, group []string, entries map[string]*types.QueueEntry) (string, error) {
	host := group[0]
	best := -1
	var earliest time.Time
	for _, id := range group {
		p, err := mm.repo.GetPlayer(ctx, id)
		if err != nil {
			return "", err
		}
		joined := time.Time{}
		if entry := entries[id]; entry != nil {
			joined = entry.JoinedAt
		}
		if p.HostPref > best || (p.HostPref == best && joined.Before(earliest)) {
			host = id
			best = p.HostPref
			earliest = joined
		}
	}
	return host, nil
}
