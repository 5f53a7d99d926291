package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *QueueIndex {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewQueueIndexFromClient(rdb)
}

func TestQueueIndexPeekSortedByRating(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	require.NoError(t, idx.Add(ctx, "high", map[string]float64{"tdm": 1800}))
	require.NoError(t, idx.Add(ctx, "low", map[string]float64{"tdm": 1200}))
	require.NoError(t, idx.Add(ctx, "mid", map[string]float64{"tdm": 1500}))

	got, err := idx.Peek(ctx, "tdm", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "low", got[0].PlayerID)
	require.Equal(t, "mid", got[1].PlayerID)
	require.Equal(t, "high", got[2].PlayerID)
	require.Equal(t, 1200.0, got[0].Rating)
}

func TestQueueIndexMultiModeAddRemove(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	require.NoError(t, idx.Add(ctx, "p1", map[string]float64{"tdm": 1500, "ctf": 1600}))

	n, err := idx.Size(ctx, "tdm")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	n, err = idx.Size(ctx, "ctf")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	require.NoError(t, idx.Remove(ctx, "p1", []string{"tdm", "ctf"}))

	n, err = idx.Size(ctx, "tdm")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestQueueIndexPeekLimit(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, idx.Add(ctx, id, map[string]float64{"tdm": 1500}))
	}
	got, err := idx.Peek(ctx, "tdm", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
}
