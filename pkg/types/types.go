package types

import "time"

// Rating defaults. These are exact: tests and the rating engine depend on them.
const (
	DefaultRating     = 1500.0
	DefaultDeviation  = 350.0
	DefaultVolatility = 0.06

	// MaxDeviation caps uncertainty growth from did-not-compete decay.
	MaxDeviation = 350.0

	TeamSize = 4
)

// Team identifies a side of a match. TeamNone marks an unset score slot.
type Team int8

const (
	TeamNone Team = iota
	TeamAlpha
	TeamBravo
)

func (t Team) String() string {
	switch t {
	case TeamAlpha:
		return "alpha"
	case TeamBravo:
		return "bravo"
	default:
		return "none"
	}
}

// Opponent returns the other side, or TeamNone for TeamNone.
func (t Team) Opponent() Team {
	switch t {
	case TeamAlpha:
		return TeamBravo
	case TeamBravo:
		return TeamAlpha
	default:
		return TeamNone
	}
}

// MatchState is derived from match fields, never stored.
type MatchState string

const (
	StateDrawingMap     MatchState = "drawing_map"
	StateAwaitingResult MatchState = "awaiting_result"
	StateScoreComplete  MatchState = "score_complete"
	StateSubmitted      MatchState = "submitted"
	StateDisputeLocked  MatchState = "dispute_locked"
	StateClosed         MatchState = "closed"
)

// Actor is a resolved requester identity. Admin is established at the API
// boundary (JWT claims) and trusted by the domain layer.
type Actor struct {
	ID    string
	Admin bool
}

// Player is created on first queue join or match participation.
type Player struct {
	ID string
	// HostPref rates hosting ability, 0 (never host) to 2 (prefers hosting).
	HostPref           int
	RegisteredAt       time.Time
	QueueCooldownUntil *time.Time
}

// RatingSnapshot is a point-in-time copy of the three rating fields.
type RatingSnapshot struct {
	Rating     float64 `json:"rating"`
	Deviation  float64 `json:"deviation"`
	Volatility float64 `json:"volatility"`
}

// PendingResult is one pseudo-opponent tuple accumulated since the last
// rating-period rollover. Outcome is 1 for a win, 0 for a loss.
type PendingResult struct {
	OpponentRating float64
	Deviation      float64
	Outcome        float64
}

// Rating is a player's per-mode skill state. Initial is the period-start
// snapshot: nil means not yet captured, non-nil means all three fields are set.
// Mutated only by the rating engine, never deleted.
type Rating struct {
	PlayerID   string
	Mode       string
	Rating     float64
	Deviation  float64
	Volatility float64
	Pending    []PendingResult
	Initial    *RatingSnapshot
}

// NewRating returns a Rating row with the standard defaults.
func NewRating(playerID, mode string) *Rating {
	return &Rating{
		PlayerID:   playerID,
		Mode:       mode,
		Rating:     DefaultRating,
		Deviation:  DefaultDeviation,
		Volatility: DefaultVolatility,
	}
}

// Snapshot copies the current rating fields.
func (r *Rating) Snapshot() RatingSnapshot {
	return RatingSnapshot{Rating: r.Rating, Deviation: r.Deviation, Volatility: r.Volatility}
}

// QueueEntry is one queue ticket. PlayerIDs is ordered; admission currently
// creates single-member entries only, the slice is the extension point for
// party queueing. A player appears in at most one entry at any time.
type QueueEntry struct {
	PlayerIDs []string
	Modes     []string
	// Ratings holds each member's per-mode snapshot taken at join time.
	Ratings  map[string]map[string]RatingSnapshot
	JoinedAt time.Time
}

// HasMode reports whether the entry requested the given mode.
func (e *QueueEntry) HasMode(mode string) bool {
	for _, m := range e.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// Match is a 4v4 (or degenerate 1v1) contest over a fixed-length sequence of
// sub-games. Scores fill contiguously from index 0. SubmitTime and AdminLocked
// are mutually exclusive gates on score mutation.
type Match struct {
	ID     string
	Mode   string
	Alpha  []string
	Bravo  []string
	HostID string
	Active bool

	Scores    []Team
	Maps      []string
	GameModes []string

	SubmitTime  *time.Time
	AdminLocked bool
	AdminID     string

	Snapshots map[string]RatingSnapshot

	StartedAt time.Time
	EndedAt   *time.Time
}

// Players returns Alpha then Bravo, in order.
func (m *Match) Players() []string {
	out := make([]string, 0, len(m.Alpha)+len(m.Bravo))
	out = append(out, m.Alpha...)
	out = append(out, m.Bravo...)
	return out
}

// TeamOf returns which side a player is on.
func (m *Match) TeamOf(playerID string) Team {
	for _, id := range m.Alpha {
		if id == playerID {
			return TeamAlpha
		}
	}
	for _, id := range m.Bravo {
		if id == playerID {
			return TeamBravo
		}
	}
	return TeamNone
}

// GamesPlayed counts filled score slots.
func (m *Match) GamesPlayed() int {
	n := 0
	for _, s := range m.Scores {
		if s != TeamNone {
			n++
		}
	}
	return n
}

// Wins counts sub-games won by the given side.
func (m *Match) Wins(t Team) int {
	n := 0
	for _, s := range m.Scores {
		if s == t {
			n++
		}
	}
	return n
}

// Mode status values, matching the mode board semantics.
const (
	ModeClosed     = 0
	ModeOpen       = 1
	ModeTempClosed = 2
)

// Mode is externally managed configuration for one game mode.
type Mode struct {
	InternalName string
	Name         string
	Description  string
	Status       int
	// GameCount is the number of score slots. PlayAll means all GameCount
	// sub-games are played; otherwise the match is best-of-GameCount.
	GameCount int
	PlayAll   bool
	// GameModes is the requested mode-slot sequence fed to the map draw,
	// cycled to GameCount length. Empty falls back to InternalName.
	GameModes []string
	// MapPool names the map-pool section in the map configuration.
	MapPool           string
	RatingPeriodHours int
	LastRatingPeriod  *time.Time
	SortOrder         int
}

// Joinable reports whether queue admission is open for the mode.
func (m *Mode) Joinable() bool { return m.Status == ModeOpen }

// SlotSequence expands GameModes to one mode slot per sub-game.
func (m *Mode) SlotSequence() []string {
	slots := m.GameModes
	if len(slots) == 0 {
		slots = []string{m.InternalName}
	}
	out := make([]string, m.GameCount)
	for i := range out {
		out[i] = slots[i%len(slots)]
	}
	return out
}

// WinsNeeded is the best-of-N majority. Meaningless when PlayAll is set.
func (m *Mode) WinsNeeded() int { return m.GameCount/2 + 1 }
