// Package match drives a created match from map generation through score
// reporting, submission, disputes, and closure, and forms matches from the
// queue.
package match

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yourname/beamnet/internal/config"
	"github.com/yourname/beamnet/internal/mapdraw"
	"github.com/yourname/beamnet/internal/metrics"
	"github.com/yourname/beamnet/internal/rating"
	"github.com/yourname/beamnet/internal/store"
	"github.com/yourname/beamnet/pkg/types"
)

// Notifier delivers messages to players and channels. All sends are
// fire-and-forget: implementations log failures and never block the caller on
// delivery.
type Notifier interface {
	SendToPlayer(playerID string, ev types.Event)
	SendToMatchChannel(matchID string, ev types.Event)
	SendToAdminChannel(ev types.Event)
}

// ChannelProvisioner manages the external resources (channels) backing a
// match.
type ChannelProvisioner interface {
	Provision(ctx context.Context, matchID string, playerIDs []string) error
	Release(ctx context.Context, matchID string) error
	GrantAccess(ctx context.Context, matchID, userID string) error
	RevokeAccess(ctx context.Context, matchID, userID string) error
}

// Lifecycle is the match state machine. Score and state mutations are
// serialized under mu and every operation re-reads the match after acquiring
// it, so concurrent conflicting requests fail on the re-checked state instead
// of racing.
type Lifecycle struct {
	repo     store.Repository
	engine   *rating.Engine
	notifier Notifier
	channels ChannelProvisioner
	pools    config.MapPools
	log      zerolog.Logger

	submitGrace   time.Duration
	queueCooldown time.Duration

	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

type LifecycleOptions struct {
	SubmitGrace   time.Duration
	QueueCooldown time.Duration
	// Seed fixes the map-draw RNG; 0 seeds from the clock.
	Seed int64
}

func NewLifecycle(repo store.Repository, engine *rating.Engine, notifier Notifier,
	channels ChannelProvisioner, pools config.MapPools, opts LifecycleOptions, log zerolog.Logger) *Lifecycle {
	if opts.SubmitGrace == 0 {
		opts.SubmitGrace = 30 * time.Second
	}
	if opts.QueueCooldown == 0 {
		opts.QueueCooldown = 25 * time.Second
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Lifecycle{
		repo:          repo,
		engine:        engine,
		notifier:      notifier,
		channels:      channels,
		pools:         pools,
		log:           log.With().Str("component", "match").Logger(),
		submitGrace:   opts.SubmitGrace,
		queueCooldown: opts.QueueCooldown,
		rng:           rand.New(rand.NewSource(seed)),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// State derives the current lifecycle state from match fields.
func State(m *types.Match, mode *types.Mode) types.MatchState {
	switch {
	case !m.Active:
		return types.StateClosed
	case m.AdminLocked:
		return types.StateDisputeLocked
	case m.SubmitTime != nil:
		return types.StateSubmitted
	case scoreComplete(m, mode):
		return types.StateScoreComplete
	case m.Maps == nil:
		return types.StateDrawingMap
	default:
		return types.StateAwaitingResult
	}
}

func scoreComplete(m *types.Match, mode *types.Mode) bool {
	played := m.GamesPlayed()
	if played == mode.GameCount {
		return true
	}
	if mode.PlayAll {
		return false
	}
	needed := mode.WinsNeeded()
	return m.Wins(types.TeamAlpha) >= needed || m.Wins(types.TeamBravo) >= needed
}

// Create splits players into Alpha (first half) and Bravo (second half),
// moves the host to the head of their team, snapshots every participant's
// rating, provisions the match channels, and only then persists the match.
// 1v1 is supported for testing alongside the regular 4v4.
func (l *Lifecycle) Create(ctx context.Context, players []string, modeName, hostID string) (*types.Match, error) {
	if len(players) != 2 && len(players) != 2*types.TeamSize {
		return nil, types.NewError(types.KindInvalidState,
			"need 2 or %d players, got %d", 2*types.TeamSize, len(players))
	}
	seen := map[string]bool{}
	host := false
	for _, id := range players {
		if seen[id] {
			return nil, types.NewError(types.KindInvalidState, "duplicate player %s", id)
		}
		seen[id] = true
		if id == hostID {
			host = true
		}
	}
	if !host {
		return nil, types.NewError(types.KindInvalidState, "host %s is not a participant", hostID)
	}

	mode, err := l.repo.GetMode(ctx, modeName)
	if err != nil {
		return nil, err
	}

	half := len(players) / 2
	alpha := append([]string(nil), players[:half]...)
	bravo := append([]string(nil), players[half:]...)
	hostFirst(alpha, hostID)
	hostFirst(bravo, hostID)

	now := l.now()
	m := &types.Match{
		ID:        uuid.NewString(),
		Mode:      modeName,
		Alpha:     alpha,
		Bravo:     bravo,
		HostID:    hostID,
		Active:    true,
		Scores:    make([]types.Team, mode.GameCount),
		Snapshots: map[string]types.RatingSnapshot{},
		StartedAt: now,
	}
	for _, id := range players {
		if _, err := l.repo.EnsurePlayer(ctx, id); err != nil {
			return nil, err
		}
		r, err := l.repo.EnsureRating(ctx, id, modeName)
		if err != nil {
			return nil, err
		}
		m.Snapshots[id] = r.Snapshot()
	}

	// Provision before persisting so a provisioning failure cannot strand an
	// unreachable match record.
	if err := l.channels.Provision(ctx, m.ID, players); err != nil {
		return nil, err
	}
	if err := l.repo.InsertMatch(ctx, m); err != nil {
		if relErr := l.channels.Release(ctx, m.ID); relErr != nil {
			l.log.Error().Err(relErr).Str("match", m.ID).Msg("release after failed insert")
		}
		return nil, err
	}

	cooldown := now.Add(l.queueCooldown)
	for _, id := range players {
		if err := l.repo.SetQueueCooldown(ctx, id, cooldown); err != nil {
			l.log.Error().Err(err).Str("player", id).Msg("set queue cooldown")
		}
	}

	metrics.MatchesCreated.Inc()
	l.log.Info().Str("match", m.ID).Str("mode", modeName).Int("players", len(players)).Msg("match created")
	for _, id := range players {
		l.notifier.SendToPlayer(id, types.Event{
			Type:    types.EventMatchCreated,
			MatchID: m.ID,
			Payload: map[string]any{"mode": mode.Name, "team": m.TeamOf(id).String(), "host": hostID},
		})
	}
	return m, nil
}

func hostFirst(team []string, hostID string) {
	for i, id := range team {
		if id == hostID && i != 0 {
			team[0], team[i] = team[i], team[0]
		}
	}
}

// GenerateMaps draws the match's map/mode sequence. Only the host may draw
// (an admin instead once the match is dispute-locked). If maps exist already
// the call re-displays them instead of re-drawing.
func (l *Lifecycle) GenerateMaps(ctx context.Context, matchID string, actor types.Actor) (*types.Match, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, mode, err := l.load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !m.Active {
		return nil, types.NewError(types.KindInvalidState, "match %s is closed", matchID)
	}
	if err := requireScoreRole(m, actor); err != nil {
		return nil, err
	}

	if m.Maps != nil {
		l.notifyMaps(m)
		return m, nil
	}

	pool, err := l.pools.Pool(mode.MapPool)
	if err != nil {
		return nil, err
	}
	maps, slots, err := mapdraw.Draw(l.rng, mode.SlotSequence(), pool)
	if err != nil {
		return nil, err
	}
	m.Maps = maps
	m.GameModes = slots
	if err := l.repo.UpdateMatch(ctx, m); err != nil {
		return nil, err
	}
	l.notifyMaps(m)
	return m, nil
}

func (l *Lifecycle) notifyMaps(m *types.Match) {
	l.notifier.SendToMatchChannel(m.ID, types.Event{
		Type:    types.EventMapsGenerated,
		MatchID: m.ID,
		Payload: map[string]any{"maps": m.Maps, "modes": m.GameModes},
	})
}

// ReportWin records a sub-game win in the first unset score slot.
func (l *Lifecycle) ReportWin(ctx context.Context, matchID string, actor types.Actor, winner types.Team) (*types.Match, error) {
	if winner != types.TeamAlpha && winner != types.TeamBravo {
		return nil, types.NewError(types.KindInvalidState, "invalid winner %q", winner)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	m, mode, err := l.load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if err := canChangeScore(m, actor); err != nil {
		return nil, err
	}
	if m.Maps == nil {
		return nil, types.NewError(types.KindInvalidState, "maps not drawn yet")
	}
	if scoreComplete(m, mode) {
		return nil, types.NewError(types.KindInvalidState, "score already complete")
	}

	slot := m.GamesPlayed()
	m.Scores[slot] = winner
	if err := l.repo.UpdateMatch(ctx, m); err != nil {
		return nil, err
	}

	if scoreComplete(m, mode) {
		l.notifier.SendToMatchChannel(m.ID, types.Event{
			Type:    types.EventScoreComplete,
			MatchID: m.ID,
			Payload: scorePayload(m),
		})
	} else {
		payload := scorePayload(m)
		next := m.GamesPlayed()
		payload["next_map"] = m.Maps[next]
		payload["next_mode"] = m.GameModes[next]
		l.notifier.SendToMatchChannel(m.ID, types.Event{
			Type:    types.EventScoreUpdate,
			MatchID: m.ID,
			Payload: payload,
		})
	}
	return m, nil
}

// UndoLast clears the most recently filled score slot.
func (l *Lifecycle) UndoLast(ctx context.Context, matchID string, actor types.Actor) (*types.Match, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, _, err := l.load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if err := canChangeScore(m, actor); err != nil {
		return nil, err
	}
	played := m.GamesPlayed()
	if played == 0 {
		return nil, types.NewError(types.KindInvalidState, "no scores to undo")
	}
	m.Scores[played-1] = types.TeamNone
	if err := l.repo.UpdateMatch(ctx, m); err != nil {
		return nil, err
	}
	l.notifier.SendToMatchChannel(m.ID, types.Event{
		Type:    types.EventScoreUpdate,
		MatchID: m.ID,
		Payload: scorePayload(m),
	})
	return m, nil
}

// SubmitScore finalizes the score and arms the closure countdown.
func (l *Lifecycle) SubmitScore(ctx context.Context, matchID string, actor types.Actor) (*types.Match, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, _, err := l.load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if err := canChangeScore(m, actor); err != nil {
		return nil, err
	}

	closes := l.now().Add(l.submitGrace)
	m.SubmitTime = &closes
	if err := l.repo.UpdateMatch(ctx, m); err != nil {
		return nil, err
	}
	payload := scorePayload(m)
	payload["closes_at"] = closes
	l.notifier.SendToMatchChannel(m.ID, types.Event{
		Type:    types.EventScoreSubmitted,
		MatchID: m.ID,
		Payload: payload,
	})
	return m, nil
}

// ReportIssue freezes the score pending arbitration. Valid until the match is
// locked already, closed, or past its submission grace window.
func (l *Lifecycle) ReportIssue(ctx context.Context, matchID, reporterID string) (*types.Match, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, _, err := l.load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !m.Active {
		return nil, types.NewError(types.KindInvalidState, "match %s is closed", matchID)
	}
	if m.AdminLocked {
		return nil, types.NewError(types.KindInvalidState, "match %s is already locked", matchID)
	}
	if m.SubmitTime != nil && !l.now().Before(*m.SubmitTime) {
		return nil, types.NewError(types.KindInvalidState, "submission grace window has passed")
	}

	m.AdminLocked = true
	m.SubmitTime = nil
	if err := l.repo.UpdateMatch(ctx, m); err != nil {
		return nil, err
	}
	metrics.IssuesReported.Inc()
	l.log.Info().Str("match", m.ID).Str("reporter", reporterID).Msg("match issue reported")
	l.notifier.SendToAdminChannel(types.Event{
		Type:    types.EventIssueReported,
		MatchID: m.ID,
		Payload: map[string]any{"reporter": reporterID},
	})
	l.notifier.SendToMatchChannel(m.ID, types.Event{Type: types.EventIssueReported, MatchID: m.ID})
	return m, nil
}

// AssignAdmin grants an admin visibility into the match resources. No state
// change.
func (l *Lifecycle) AssignAdmin(ctx context.Context, matchID string, actor types.Actor) error {
	if !actor.Admin {
		return types.NewError(types.KindForbidden, "admin capability required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	m, _, err := l.load(ctx, matchID)
	if err != nil {
		return err
	}
	if !m.Active {
		return types.NewError(types.KindInvalidState, "match %s is closed", matchID)
	}
	if err := l.channels.GrantAccess(ctx, matchID, actor.ID); err != nil {
		return err
	}
	m.AdminID = actor.ID
	return l.repo.UpdateMatch(ctx, m)
}

// ResolveIssue lifts the dispute lock and strips the assigned admin's access.
func (l *Lifecycle) ResolveIssue(ctx context.Context, matchID string, actor types.Actor) (*types.Match, error) {
	if !actor.Admin {
		return nil, types.NewError(types.KindForbidden, "admin capability required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	m, _, err := l.load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !m.AdminLocked {
		return nil, types.NewError(types.KindInvalidState, "match %s is not locked", matchID)
	}

	m.AdminLocked = false
	if m.AdminID != "" {
		if err := l.channels.RevokeAccess(ctx, matchID, m.AdminID); err != nil {
			l.log.Error().Err(err).Str("match", matchID).Str("admin", m.AdminID).Msg("revoke admin access")
		}
		m.AdminID = ""
	}
	if err := l.repo.UpdateMatch(ctx, m); err != nil {
		return nil, err
	}
	l.notifier.SendToMatchChannel(m.ID, types.Event{Type: types.EventIssueResolved, MatchID: m.ID})
	return m, nil
}

// CancelSubmission aborts a pending closure countdown. Admin only, and only
// while the deadline is still in the future.
func (l *Lifecycle) CancelSubmission(ctx context.Context, matchID string, actor types.Actor) (*types.Match, error) {
	if !actor.Admin {
		return nil, types.NewError(types.KindForbidden, "admin capability required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	m, _, err := l.load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m.SubmitTime == nil || !l.now().Before(*m.SubmitTime) {
		return nil, types.NewError(types.KindInvalidState, "no cancellable submission")
	}

	m.SubmitTime = nil
	if err := l.repo.UpdateMatch(ctx, m); err != nil {
		return nil, err
	}
	l.notifier.SendToMatchChannel(m.ID, types.Event{Type: types.EventSubmissionCancelled, MatchID: m.ID})
	return m, nil
}

// Close finalizes the match: tally, rating updates, resource release, player
// notifications. Idempotent: losing the active compare-and-set means another
// closure already ran and this call does nothing.
func (l *Lifecycle) Close(ctx context.Context, matchID string) error {
	m, mode, err := l.load(ctx, matchID)
	if err != nil {
		return err
	}
	if !m.Active {
		return nil
	}
	won, err := l.repo.CloseMatch(ctx, matchID, l.now())
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	winner := rating.Winner(m, mode)
	changes := map[string]rating.Change{}
	if m.GamesPlayed() > 0 {
		changes, err = l.engine.ApplyMatchResult(ctx, m, mode)
		if err != nil {
			// The match is already inactive; rating state is the casualty we
			// must surface loudly.
			l.log.Error().Err(err).Str("match", matchID).Msg("rating update failed at close")
			return err
		}
	}

	metrics.MatchesClosed.Inc()
	l.log.Info().Str("match", matchID).Str("winner", winner.String()).
		Int("games", m.GamesPlayed()).Msg("match closed")

	if err := l.channels.Release(ctx, matchID); err != nil {
		l.log.Error().Err(err).Str("match", matchID).Msg("release match channels")
	}

	// Outcome DMs are detached: a slow or failing send must not hold up or
	// roll back the closure.
	go l.notifyResults(m, winner, changes)
	return nil
}

func (l *Lifecycle) notifyResults(m *types.Match, winner types.Team, changes map[string]rating.Change) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Any("panic", r).Str("match", m.ID).Msg("result notification panicked")
		}
	}()
	for _, id := range m.Players() {
		outcome := "draw"
		if winner != types.TeamNone {
			if m.TeamOf(id) == winner {
				outcome = "win"
			} else {
				outcome = "loss"
			}
		}
		payload := map[string]any{"outcome": outcome}
		if c, ok := changes[id]; ok {
			payload["rating"] = fmt.Sprintf("%.1f", c.New.Rating)
			payload["rating_change"] = c.Delta()
		}
		l.notifier.SendToPlayer(id, types.Event{
			Type:    types.EventMatchResult,
			MatchID: m.ID,
			Payload: payload,
		})
	}
}

func (l *Lifecycle) load(ctx context.Context, matchID string) (*types.Match, *types.Mode, error) {
	m, err := l.repo.GetMatch(ctx, matchID)
	if err != nil {
		return nil, nil, err
	}
	mode, err := l.repo.GetMode(ctx, m.Mode)
	if err != nil {
		return nil, nil, err
	}
	return m, mode, nil
}

// requireScoreRole is the role half of the score gate: host normally, admin
// once the match is dispute-locked.
func requireScoreRole(m *types.Match, actor types.Actor) error {
	if m.AdminLocked {
		if !actor.Admin {
			return types.NewError(types.KindForbidden, "match is locked, admin capability required")
		}
		return nil
	}
	if actor.ID != m.HostID {
		return types.NewError(types.KindForbidden, "only the host may do that")
	}
	return nil
}

// canChangeScore gates every score mutation: role check first, then the
// submission freeze.
func canChangeScore(m *types.Match, actor types.Actor) error {
	if !m.Active {
		return types.NewError(types.KindInvalidState, "match is closed")
	}
	if err := requireScoreRole(m, actor); err != nil {
		return err
	}
	if m.SubmitTime != nil {
		return types.NewError(types.KindAlreadySubmitted, "score already submitted")
	}
	return nil
}

func scorePayload(m *types.Match) map[string]any {
	return map[string]any{
		"alpha": m.Wins(types.TeamAlpha),
		"bravo": m.Wins(types.TeamBravo),
		"games": m.GamesPlayed(),
	}
}
