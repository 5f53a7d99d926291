// Package mapdraw picks the (map, mode) pairs for a match.
package mapdraw

import (
	"math/rand"
	"sort"

	"github.com/yourname/beamnet/pkg/types"
)

// LuckExponent amplifies the separation between good and bad map fits: a map
// with weight w appears w^LuckExponent times in the candidate pool.
const LuckExponent = 3

// Pool maps map name -> mode slot -> weight.
type Pool map[string]map[string]int

// Draw picks one map per requested mode slot, weighted without replacement:
// a map chosen for one sub-game is removed from every later pool. Returns the
// map sequence and the confirmed mode sequence, both the same length as
// modeSequence. Fails with a ConfigurationError when a slot has no candidates.
//
// rng is required so tests can seed the draw; production passes a
// time-seeded source and the result is intentionally not reproducible.
func Draw(rng *rand.Rand, modeSequence []string, pool Pool) ([]string, []string, error) {
	maps := make([]string, 0, len(modeSequence))
	modes := make([]string, 0, len(modeSequence))
	taken := make(map[string]bool)

	for _, slot := range modeSequence {
		candidates := candidatePool(pool, slot, taken)
		if len(candidates) == 0 {
			return nil, nil, types.NewError(types.KindConfigurationError,
				"no maps available for mode slot %q", slot)
		}
		chosen := candidates[rng.Intn(len(candidates))]
		taken[chosen] = true
		maps = append(maps, chosen)
		modes = append(modes, slot)
	}
	return maps, modes, nil
}

// candidatePool expands weights into repeated entries. Iteration over the pool
// map is sorted so a seeded rng draws deterministically.
func candidatePool(pool Pool, slot string, taken map[string]bool) []string {
	names := make([]string, 0, len(pool))
	for name := range pool {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []string
	for _, name := range names {
		if taken[name] {
			continue
		}
		w := pool[name][slot]
		n := 1
		for i := 0; i < LuckExponent; i++ {
			n *= w
		}
		for i := 0; i < n; i++ {
			out = append(out, name)
		}
	}
	return out
}
