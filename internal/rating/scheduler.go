package rating

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/yourname/beamnet/internal/metrics"
	"github.com/yourname/beamnet/internal/store"
)

// maxCatchUp bounds how many missed periods one tick advances; the remainder
// is picked up on the next tick.
const maxCatchUp = 30

// errCooldown is how long the loop sleeps after a failed iteration.
const errCooldown = 5 * time.Minute

// PeriodScheduler advances each mode's rating period on a fixed cadence,
// decaying players who did not compete.
type PeriodScheduler struct {
	repo     store.Repository
	engine   *Engine
	interval time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

func NewPeriodScheduler(repo store.Repository, engine *Engine, interval time.Duration, log zerolog.Logger) *PeriodScheduler {
	return &PeriodScheduler{
		repo:     repo,
		engine:   engine,
		interval: interval,
		log:      log.With().Str("component", "rating_period").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks until ctx is done. Iteration failures are logged and the loop
// backs off rather than terminating.
func (s *PeriodScheduler) Run(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("starting rating period manager")
	wait := s.interval
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("rating period manager stopped")
			return
		case <-time.After(wait):
		}

		if err := s.Tick(ctx); err != nil {
			s.log.Error().Err(err).Dur("cooldown", errCooldown).
				Msg("rating period tick failed, backing off")
			wait = errCooldown
			continue
		}
		wait = s.interval
	}
}

// Tick processes every mode once. Exported so tests can drive it directly.
func (s *PeriodScheduler) Tick(ctx context.Context) error {
	modes, err := s.repo.ListModes(ctx)
	if err != nil {
		return err
	}
	now := s.now()

	for _, mode := range modes {
		if mode.RatingPeriodHours <= 0 {
			continue
		}
		if mode.LastRatingPeriod == nil {
			// First-run bootstrap: anchor the period at now. Operators should
			// move it onto an hour boundary.
			if err := s.repo.SetLastRatingPeriod(ctx, mode.InternalName, now); err != nil {
				return err
			}
			s.log.Warn().Str("mode", mode.InternalName).Time("last_rating_period", now).
				Msg("last rating period was unset; anchored it to now, consider aligning it to the hour")
			continue
		}

		last := *mode.LastRatingPeriod
		for i := 0; i < maxCatchUp; i++ {
			next := last.Add(time.Duration(mode.RatingPeriodHours) * time.Hour)
			if now.Before(next) {
				break
			}
			if err := s.rollover(ctx, mode.InternalName); err != nil {
				return err
			}
			if err := s.repo.SetLastRatingPeriod(ctx, mode.InternalName, next); err != nil {
				return err
			}
			last = next
		}
	}
	return nil
}

// rollover decays every idle player in the mode, then clears all pending
// buffers and re-snapshots the period baselines.
func (s *PeriodScheduler) rollover(ctx context.Context, mode string) error {
	s.log.Info().Str("mode", mode).Msg("advancing rating period")

	idle, err := s.repo.ListIdleRatings(ctx, mode)
	if err != nil {
		return err
	}
	for _, r := range idle {
		if err := s.engine.ApplyPeriodDecay(ctx, r.PlayerID, mode); err != nil {
			return err
		}
	}
	if err := s.repo.ResetRatingPeriod(ctx, mode); err != nil {
		return err
	}
	metrics.PeriodRollovers.WithLabelValues(mode).Inc()
	return nil
}
