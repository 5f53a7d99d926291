// Package store defines the Repository consumed by the queue, match, and
// rating components, plus its implementations: postgres for production and an
// in-memory repository for development and tests.
package store

import (
	"context"
	"time"

	"github.com/yourname/beamnet/pkg/types"
)

// Repository is the persistence boundary. Implementations must provide
// row-level atomic read-modify-write for ratings (MutateRating), a uniqueness
// guarantee on queue membership (InsertQueueEntry), and an atomic
// active-to-inactive flip for matches (CloseMatch).
type Repository interface {
	// Players.
	GetPlayer(ctx context.Context, id string) (*types.Player, error)
	// EnsurePlayer creates the player with defaults if absent and returns it.
	EnsurePlayer(ctx context.Context, id string) (*types.Player, error)
	SetQueueCooldown(ctx context.Context, playerID string, until time.Time) error
	// SetHostPref records the player's hosting preference (0 to 2).
	SetHostPref(ctx context.Context, playerID string, pref int) error

	// Ratings. Rows are created on first use and never deleted.
	EnsureRating(ctx context.Context, playerID, mode string) (*types.Rating, error)
	GetRating(ctx context.Context, playerID, mode string) (*types.Rating, error)
	// MutateRating loads the row, applies fn, and persists the result as one
	// isolated read-modify-write.
	MutateRating(ctx context.Context, playerID, mode string, fn func(*types.Rating) error) error
	// ListIdleRatings returns rows for the mode whose pending buffer is empty.
	ListIdleRatings(ctx context.Context, mode string) ([]*types.Rating, error)
	// ResetRatingPeriod clears every pending buffer for the mode and
	// re-snapshots each row's initial fields from its current values.
	ResetRatingPeriod(ctx context.Context, mode string) error

	// Queue. InsertQueueEntry is compare-and-insert: it fails with
	// AlreadyQueued when any member already holds an entry.
	InsertQueueEntry(ctx context.Context, e *types.QueueEntry) error
	GetQueueEntry(ctx context.Context, playerID string) (*types.QueueEntry, error)
	// DeleteQueueEntry removes and returns the member's entry, or NotQueued.
	DeleteQueueEntry(ctx context.Context, playerID string) (*types.QueueEntry, error)
	ListQueueEntries(ctx context.Context, mode string) ([]*types.QueueEntry, error)

	// Matches.
	InsertMatch(ctx context.Context, m *types.Match) error
	GetMatch(ctx context.Context, id string) (*types.Match, error)
	UpdateMatch(ctx context.Context, m *types.Match) error
	// CloseMatch flips active to false and stamps endedAt. It reports whether
	// this call performed the flip; false means the match was already closed.
	CloseMatch(ctx context.Context, id string, endedAt time.Time) (bool, error)
	PlayerInActiveMatch(ctx context.Context, playerID string) (bool, error)
	CountActiveMatches(ctx context.Context, mode string) (int, error)
	// ListDueMatches returns active matches whose submit time has elapsed.
	ListDueMatches(ctx context.Context, now time.Time) ([]*types.Match, error)

	// Modes.
	GetMode(ctx context.Context, internalName string) (*types.Mode, error)
	ListModes(ctx context.Context) ([]*types.Mode, error)
	UpsertMode(ctx context.Context, m *types.Mode) error
	SetLastRatingPeriod(ctx context.Context, internalName string, t time.Time) error
}
