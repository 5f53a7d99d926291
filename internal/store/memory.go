package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yourname/beamnet/pkg/types"
)

// Memory is a mutex-guarded in-process Repository. It backs tests and
// development runs without a database. All returned values are deep copies so
// callers never alias stored state.
type Memory struct {
	mu      sync.Mutex
	players map[string]*types.Player
	ratings map[string]map[string]*types.Rating // playerID -> mode -> row
	queue   map[string]*types.QueueEntry        // member playerID -> shared entry
	matches map[string]*types.Match
	modes   map[string]*types.Mode
}

func NewMemory() *Memory {
	return &Memory{
		players: map[string]*types.Player{},
		ratings: map[string]map[string]*types.Rating{},
		queue:   map[string]*types.QueueEntry{},
		matches: map[string]*types.Match{},
		modes:   map[string]*types.Mode{},
	}
}

var _ Repository = (*Memory)(nil)

func (s *Memory) GetPlayer(_ context.Context, id string) (*types.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[id]
	if !ok {
		return nil, types.NewError(types.KindNotFound, "player %s", id)
	}
	return copyPlayer(p), nil
}

func (s *Memory) EnsurePlayer(_ context.Context, id string) (*types.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[id]
	if !ok {
		p = &types.Player{ID: id, HostPref: 1, RegisteredAt: time.Now().UTC()}
		s.players[id] = p
	}
	return copyPlayer(p), nil
}

func (s *Memory) SetQueueCooldown(_ context.Context, playerID string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[playerID]
	if !ok {
		return types.NewError(types.KindNotFound, "player %s", playerID)
	}
	p.QueueCooldownUntil = &until
	return nil
}

func (s *Memory) SetHostPref(_ context.Context, playerID string, pref int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[playerID]
	if !ok {
		return types.NewError(types.KindNotFound, "player %s", playerID)
	}
	p.HostPref = pref
	return nil
}

func (s *Memory) EnsureRating(_ context.Context, playerID, mode string) (*types.Rating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byMode, ok := s.ratings[playerID]
	if !ok {
		byMode = map[string]*types.Rating{}
		s.ratings[playerID] = byMode
	}
	r, ok := byMode[mode]
	if !ok {
		r = types.NewRating(playerID, mode)
		byMode[mode] = r
	}
	return copyRating(r), nil
}

func (s *Memory) GetRating(_ context.Context, playerID, mode string) (*types.Rating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.ratings[playerID][mode]; ok {
		return copyRating(r), nil
	}
	return nil, types.NewError(types.KindNotFound, "rating %s/%s", playerID, mode)
}

func (s *Memory) MutateRating(_ context.Context, playerID, mode string, fn func(*types.Rating) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.ratings[playerID][mode]
	if !ok {
		return types.NewError(types.KindNotFound, "rating %s/%s", playerID, mode)
	}
	work := copyRating(r)
	if err := fn(work); err != nil {
		return err
	}
	s.ratings[playerID][mode] = work
	return nil
}

func (s *Memory) ListIdleRatings(_ context.Context, mode string) ([]*types.Rating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Rating
	for _, byMode := range s.ratings {
		if r, ok := byMode[mode]; ok && len(r.Pending) == 0 {
			out = append(out, copyRating(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out, nil
}

func (s *Memory) ResetRatingPeriod(_ context.Context, mode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, byMode := range s.ratings {
		if r, ok := byMode[mode]; ok {
			r.Pending = nil
			snap := r.Snapshot()
			r.Initial = &snap
		}
	}
	return nil
}

func (s *Memory) InsertQueueEntry(_ context.Context, e *types.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range e.PlayerIDs {
		if _, ok := s.queue[id]; ok {
			return types.NewError(types.KindAlreadyQueued, "player %s already queued", id)
		}
	}
	stored := copyEntry(e)
	for _, id := range e.PlayerIDs {
		s.queue[id] = stored
	}
	return nil
}

func (s *Memory) GetQueueEntry(_ context.Context, playerID string) (*types.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.queue[playerID]
	if !ok {
		return nil, types.NewError(types.KindNotQueued, "player %s not queued", playerID)
	}
	return copyEntry(e), nil
}

func (s *Memory) DeleteQueueEntry(_ context.Context, playerID string) (*types.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.queue[playerID]
	if !ok {
		return nil, types.NewError(types.KindNotQueued, "player %s not queued", playerID)
	}
	for _, id := range e.PlayerIDs {
		delete(s.queue, id)
	}
	return copyEntry(e), nil
}

func (s *Memory) ListQueueEntries(_ context.Context, mode string) ([]*types.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[*types.QueueEntry]bool{}
	var out []*types.QueueEntry
	for _, e := range s.queue {
		if seen[e] || !e.HasMode(mode) {
			continue
		}
		seen[e] = true
		out = append(out, copyEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *Memory) InsertMatch(_ context.Context, m *types.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches[m.ID] = copyMatch(m)
	return nil
}

func (s *Memory) GetMatch(_ context.Context, id string) (*types.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok {
		return nil, types.NewError(types.KindNotFound, "match %s", id)
	}
	return copyMatch(m), nil
}

func (s *Memory) UpdateMatch(_ context.Context, m *types.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.matches[m.ID]; !ok {
		return types.NewError(types.KindNotFound, "match %s", m.ID)
	}
	s.matches[m.ID] = copyMatch(m)
	return nil
}

func (s *Memory) CloseMatch(_ context.Context, id string, endedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok {
		return false, types.NewError(types.KindNotFound, "match %s", id)
	}
	if !m.Active {
		return false, nil
	}
	m.Active = false
	m.EndedAt = &endedAt
	return true, nil
}

func (s *Memory) PlayerInActiveMatch(_ context.Context, playerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.matches {
		if m.Active && m.TeamOf(playerID) != types.TeamNone {
			return true, nil
		}
	}
	return false, nil
}

func (s *Memory) CountActiveMatches(_ context.Context, mode string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.matches {
		if m.Active && m.Mode == mode {
			n++
		}
	}
	return n, nil
}

func (s *Memory) ListDueMatches(_ context.Context, now time.Time) ([]*types.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Match
	for _, m := range s.matches {
		if m.Active && m.SubmitTime != nil && !now.Before(*m.SubmitTime) {
			out = append(out, copyMatch(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Memory) GetMode(_ context.Context, internalName string) (*types.Mode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modes[internalName]
	if !ok {
		return nil, types.NewError(types.KindNotFound, "mode %s", internalName)
	}
	return copyMode(m), nil
}

func (s *Memory) ListModes(_ context.Context) ([]*types.Mode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Mode
	for _, m := range s.modes {
		out = append(out, copyMode(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}

func (s *Memory) UpsertMode(_ context.Context, m *types.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modes[m.InternalName] = copyMode(m)
	return nil
}

func (s *Memory) SetLastRatingPeriod(_ context.Context, internalName string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modes[internalName]
	if !ok {
		return types.NewError(types.KindNotFound, "mode %s", internalName)
	}
	m.LastRatingPeriod = &t
	return nil
}

func copyPlayer(p *types.Player) *types.Player {
	out := *p
	if p.QueueCooldownUntil != nil {
		t := *p.QueueCooldownUntil
		out.QueueCooldownUntil = &t
	}
	return &out
}

func copyRating(r *types.Rating) *types.Rating {
	out := *r
	out.Pending = append([]types.PendingResult(nil), r.Pending...)
	if r.Initial != nil {
		snap := *r.Initial
		out.Initial = &snap
	}
	return &out
}

func copyEntry(e *types.QueueEntry) *types.QueueEntry {
	out := *e
	out.PlayerIDs = append([]string(nil), e.PlayerIDs...)
	out.Modes = append([]string(nil), e.Modes...)
	out.Ratings = map[string]map[string]types.RatingSnapshot{}
	for id, byMode := range e.Ratings {
		inner := map[string]types.RatingSnapshot{}
		for mode, snap := range byMode {
			inner[mode] = snap
		}
		out.Ratings[id] = inner
	}
	return &out
}

func copyMatch(m *types.Match) *types.Match {
	out := *m
	out.Alpha = append([]string(nil), m.Alpha...)
	out.Bravo = append([]string(nil), m.Bravo...)
	out.Scores = append([]types.Team(nil), m.Scores...)
	out.Maps = append([]string(nil), m.Maps...)
	out.GameModes = append([]string(nil), m.GameModes...)
	if m.SubmitTime != nil {
		t := *m.SubmitTime
		out.SubmitTime = &t
	}
	if m.EndedAt != nil {
		t := *m.EndedAt
		out.EndedAt = &t
	}
	out.Snapshots = map[string]types.RatingSnapshot{}
	for id, snap := range m.Snapshots {
		out.Snapshots[id] = snap
	}
	return &out
}

func copyMode(m *types.Mode) *types.Mode {
	out := *m
	out.GameModes = append([]string(nil), m.GameModes...)
	if m.LastRatingPeriod != nil {
		t := *m.LastRatingPeriod
		out.LastRatingPeriod = &t
	}
	return &out
}
