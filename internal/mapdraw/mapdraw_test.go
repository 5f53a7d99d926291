package mapdraw

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourname/beamnet/pkg/types"
)

func testPool() Pool {
	return Pool{
		"harbor":  {"cb": 3, "tc": 1},
		"plaza":   {"cb": 2, "tc": 2},
		"ruins":   {"cb": 1, "tc": 3},
		"station": {"cb": 2, "tc": 2},
	}
}

func TestDrawNoRepeats(t *testing.T) {
	for seed := int64(0); seed < 50; seed++ {
		rng := rand.New(rand.NewSource(seed))
		maps, modes, err := Draw(rng, []string{"cb", "tc", "cb", "tc"}, testPool())
		require.NoError(t, err)
		require.Len(t, maps, 4)
		require.Equal(t, []string{"cb", "tc", "cb", "tc"}, modes)

		seen := map[string]bool{}
		for _, m := range maps {
			assert.False(t, seen[m], "map %q drawn twice (seed %d)", m, seed)
			seen[m] = true
		}
	}
}

func TestDrawDeterministicWithSeed(t *testing.T) {
	a, _, err := Draw(rand.New(rand.NewSource(7)), []string{"cb", "tc"}, testPool())
	require.NoError(t, err)
	b, _, err := Draw(rand.New(rand.NewSource(7)), []string{"cb", "tc"}, testPool())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDrawEmptyPoolFails(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	_, _, err := Draw(rng, []string{"sz"}, testPool())
	require.Error(t, err)
	assert.Equal(t, types.KindConfigurationError, types.KindOf(err))

	// Exhausting the pool mid-match fails the same way.
	_, _, err = Draw(rng, []string{"cb", "cb", "cb", "cb", "cb"}, testPool())
	require.Error(t, err)
	assert.Equal(t, types.KindConfigurationError, types.KindOf(err))
}

func TestDrawZeroWeightNeverChosen(t *testing.T) {
	pool := Pool{
		"good": {"cb": 1},
		"bad":  {"cb": 0},
	}
	for seed := int64(0); seed < 20; seed++ {
		maps, _, err := Draw(rand.New(rand.NewSource(seed)), []string{"cb"}, pool)
		require.NoError(t, err)
		assert.Equal(t, "good", maps[0])
	}
}
