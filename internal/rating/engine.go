// Package rating applies Glicko-2 updates at match close and runs the
// rating-period rollover.
package rating

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/yourname/beamnet/internal/glicko"
	"github.com/yourname/beamnet/internal/metrics"
	"github.com/yourname/beamnet/internal/store"
	"github.com/yourname/beamnet/pkg/types"
)

// Change is one player's rating movement from a match.
type Change struct {
	Old types.RatingSnapshot
	New types.RatingSnapshot
}

// Delta is the rating movement formatted for players: one decimal place, an
// explicit sign for non-negative values.
func (c Change) Delta() string {
	return fmt.Sprintf("%+.1f", c.New.Rating-c.Old.Rating)
}

type Engine struct {
	repo store.Repository
	log  zerolog.Logger
}

func NewEngine(repo store.Repository, log zerolog.Logger) *Engine {
	return &Engine{repo: repo, log: log.With().Str("component", "rating").Logger()}
}

// ApplyMatchResult folds a finished match into every participant's rating.
// A drawn match, or one with no sub-games played, changes nothing and returns
// an empty map. The multi-game match is approximated as GamesPlayed
// independent contests against one pseudo-opponent per player: its rating is
// the opposing team's total minus the player's teammates' total, its deviation
// the mean deviation of the other participants. Tuples are appended to the
// player's pending-period buffer and the update replays the whole buffer from
// the period-start snapshot.
func (e *Engine) ApplyMatchResult(ctx context.Context, m *types.Match, mode *types.Mode) (map[string]Change, error) {
	played := m.GamesPlayed()
	if played == 0 {
		return map[string]Change{}, nil
	}
	alphaWins := m.Wins(types.TeamAlpha)
	bravoWins := m.Wins(types.TeamBravo)
	if isDraw(m, mode, alphaWins, bravoWins) {
		return map[string]Change{}, nil
	}

	changes := make(map[string]Change, len(m.Snapshots))
	for _, playerID := range m.Players() {
		team := m.TeamOf(playerID)
		tuples := pseudoOpponents(m, playerID, team, alphaWins, bravoWins)

		var change Change
		err := e.repo.MutateRating(ctx, playerID, m.Mode, func(r *types.Rating) error {
			if r.Initial == nil {
				// First update of this period for the row: pin the baseline
				// so replaying the buffer never double-applies.
				snap := r.Snapshot()
				r.Initial = &snap
			}
			r.Pending = append(r.Pending, tuples...)

			change.Old = r.Snapshot()
			outcomes := make([]glicko.Outcome, len(r.Pending))
			for i, p := range r.Pending {
				outcomes[i] = glicko.Outcome{
					OpponentRating:    p.OpponentRating,
					OpponentDeviation: p.Deviation,
					Score:             p.Outcome,
				}
			}
			next := glicko.Update(glicko.Evaluation{
				Rating:     r.Initial.Rating,
				Deviation:  r.Initial.Deviation,
				Volatility: r.Initial.Volatility,
			}, outcomes)

			r.Rating = next.Rating
			r.Deviation = next.Deviation
			r.Volatility = next.Volatility
			change.New = r.Snapshot()
			return nil
		})
		if err != nil {
			return nil, err
		}
		changes[playerID] = change
		metrics.RatingUpdates.Inc()
		e.log.Debug().Str("player", playerID).Str("mode", m.Mode).
			Str("delta", change.Delta()).Msg("rating updated")
	}
	return changes, nil
}

// ApplyPeriodDecay runs the did-not-compete step on a row with an empty
// pending buffer, clamps the deviation, and captures the initial snapshot if
// the row never got one this period.
func (e *Engine) ApplyPeriodDecay(ctx context.Context, playerID, mode string) error {
	return e.repo.MutateRating(ctx, playerID, mode, func(r *types.Rating) error {
		next := glicko.DidNotCompete(glicko.Evaluation{
			Rating:     r.Rating,
			Deviation:  r.Deviation,
			Volatility: r.Volatility,
		})
		r.Rating = next.Rating
		r.Deviation = min(next.Deviation, types.MaxDeviation)
		r.Volatility = next.Volatility
		if r.Initial == nil {
			snap := r.Snapshot()
			r.Initial = &snap
		}
		return nil
	})
}

func pseudoOpponents(m *types.Match, playerID string, team types.Team, alphaWins, bravoWins int) []types.PendingResult {
	var teammates, opponents []string
	if team == types.TeamAlpha {
		teammates, opponents = m.Alpha, m.Bravo
	} else {
		teammates, opponents = m.Bravo, m.Alpha
	}

	// Opposing total minus own teammates' total; for 1v1 this is just the
	// opponent's rating. Deviation pools everyone but the player.
	diff := 0.0
	for _, id := range opponents {
		diff += m.Snapshots[id].Rating
	}
	for _, id := range teammates {
		if id != playerID {
			diff -= m.Snapshots[id].Rating
		}
	}

	rdSum, rdCount := 0.0, 0
	for _, id := range m.Players() {
		if id == playerID {
			continue
		}
		rdSum += m.Snapshots[id].Deviation
		rdCount++
	}
	avgRD := rdSum / float64(rdCount)

	wins := alphaWins
	losses := bravoWins
	if team == types.TeamBravo {
		wins, losses = bravoWins, alphaWins
	}

	tuples := make([]types.PendingResult, 0, wins+losses)
	for i := 0; i < wins; i++ {
		tuples = append(tuples, types.PendingResult{OpponentRating: diff, Deviation: avgRD, Outcome: 1})
	}
	for i := 0; i < losses; i++ {
		tuples = append(tuples, types.PendingResult{OpponentRating: diff, Deviation: avgRD, Outcome: 0})
	}
	return tuples
}

// isDraw applies the close-time rule: under best-of-N neither side reached the
// threshold; under play-all the slots never filled; or the score ended level.
func isDraw(m *types.Match, mode *types.Mode, alphaWins, bravoWins int) bool {
	if alphaWins == bravoWins {
		return true
	}
	if mode.PlayAll {
		return m.GamesPlayed() < mode.GameCount
	}
	needed := mode.WinsNeeded()
	return alphaWins < needed && bravoWins < needed
}

// Winner resolves the match outcome for notifications; TeamNone means draw.
func Winner(m *types.Match, mode *types.Mode) types.Team {
	alphaWins := m.Wins(types.TeamAlpha)
	bravoWins := m.Wins(types.TeamBravo)
	if isDraw(m, mode, alphaWins, bravoWins) {
		return types.TeamNone
	}
	if alphaWins > bravoWins {
		return types.TeamAlpha
	}
	return types.TeamBravo
}
