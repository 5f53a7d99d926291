package match

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/yourname/beamnet/internal/store"
)

// Sweeper closes matches whose submission grace window has elapsed.
type Sweeper struct {
	repo      store.Repository
	lifecycle *Lifecycle
	interval  time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

func NewSweeper(repo store.Repository, lc *Lifecycle, interval time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		repo:      repo,
		lifecycle: lc,
		interval:  interval,
		log:       log.With().Str("component", "sweeper").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run ticks until ctx is cancelled. A failing sweep backs off for two minutes
// so a broken store does not spam the log every few seconds.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var retryAfter time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.now().Before(retryAfter) {
				continue
			}
			if err := s.Sweep(ctx); err != nil {
				s.log.Error().Err(err).Msg("sweep failed")
				retryAfter = s.now().Add(2 * time.Minute)
			}
		}
	}
}

// Sweep closes every match past its deadline. Individual closure failures are
// logged and do not stop the pass.
func (s *Sweeper) Sweep(ctx context.Context) error {
	due, err := s.repo.ListDueMatches(ctx, s.now())
	if err != nil {
		return err
	}
	for _, m := range due {
		if err := s.lifecycle.Close(ctx, m.ID); err != nil {
			s.log.Error().Err(err).Str("match", m.ID).Msg("close due match")
		}
	}
	return nil
}
