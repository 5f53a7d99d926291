package store

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// QueueIndex is a redis-backed, rating-sorted view of who is queued per mode.
// It is a best-effort acceleration for the matchmaker and the queue-size
// metrics; the Repository stays the source of truth for queue membership.
type QueueIndex struct {
	rdb *redis.Client
}

// ZSET per mode: score = rating at join time, member = player id.
const queueKeyPrefix = "mm:queue:"

func NewQueueIndex(addr, password string) *QueueIndex {
	return &QueueIndex{rdb: redis.NewClient(&redis.Options{Addr: addr, Password: password})}
}

// NewQueueIndexFromClient wraps an existing client (tests use miniredis).
func NewQueueIndexFromClient(rdb *redis.Client) *QueueIndex {
	return &QueueIndex{rdb: rdb}
}

func (s *QueueIndex) Close() error { return s.rdb.Close() }

// Add registers a player under every selected mode.
func (s *QueueIndex) Add(ctx context.Context, playerID string, ratings map[string]float64) error {
	pipe := s.rdb.TxPipeline()
	for mode, rating := range ratings {
		pipe.ZAdd(ctx, queueKeyPrefix+mode, redis.Z{Score: rating, Member: playerID})
	}
	_, err := pipe.Exec(ctx)
	return eris.Wrap(err, "queue index add")
}

// Remove drops a player from the given modes.
func (s *QueueIndex) Remove(ctx context.Context, playerID string, modes []string) error {
	pipe := s.rdb.TxPipeline()
	for _, mode := range modes {
		pipe.ZRem(ctx, queueKeyPrefix+mode, playerID)
	}
	_, err := pipe.Exec(ctx)
	return eris.Wrap(err, "queue index remove")
}

// Candidate is one indexed queue member.
type Candidate struct {
	PlayerID string
	Rating   float64
}

// Peek returns up to n members of a mode's queue, rating-sorted ascending.
func (s *QueueIndex) Peek(ctx context.Context, mode string, n int) ([]Candidate, error) {
	zs, err := s.rdb.ZRangeWithScores(ctx, queueKeyPrefix+mode, 0, int64(n-1)).Result()
	if err != nil {
		return nil, eris.Wrap(err, "queue index peek")
	}
	out := make([]Candidate, 0, len(zs))
	for _, z := range zs {
		id, ok := z.Member.(string)
		if !ok {
			continue
		}
		out = append(out, Candidate{PlayerID: id, Rating: z.Score})
	}
	return out, nil
}

// Size reports a mode's queue length.
func (s *QueueIndex) Size(ctx context.Context, mode string) (int64, error) {
	n, err := s.rdb.ZCard(ctx, queueKeyPrefix+mode).Result()
	return n, eris.Wrap(err, "queue index size")
}
