package config

import (
	"encoding/json"
	"os"

	"github.com/yourname/beamnet/internal/mapdraw"
	"github.com/yourname/beamnet/pkg/types"
)

// MapPools holds every named pool from the map file:
// pool name -> map name -> mode slot -> weight.
type MapPools map[string]mapdraw.Pool

// Pool returns the named pool or a ConfigurationError.
func (p MapPools) Pool(name string) (mapdraw.Pool, error) {
	pool, ok := p[name]
	if !ok {
		return nil, types.NewError(types.KindConfigurationError, "unknown map pool %q", name)
	}
	return pool, nil
}

// LoadMapPools reads and validates the map-pool JSON file.
func LoadMapPools(path string) (MapPools, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, types.NewError(types.KindConfigurationError, "read map pool %s: %v", path, err)
	}

	var pools MapPools
	if err := json.Unmarshal(raw, &pools); err != nil {
		return nil, types.NewError(types.KindConfigurationError, "parse map pool %s: %v", path, err)
	}

	if len(pools) == 0 {
		return nil, types.NewError(types.KindConfigurationError, "map pool file %s is empty", path)
	}
	for name, pool := range pools {
		if len(pool) == 0 {
			return nil, types.NewError(types.KindConfigurationError, "map pool %q has no maps", name)
		}
		for mapName, weights := range pool {
			for slot, w := range weights {
				if w < 0 {
					return nil, types.NewError(types.KindConfigurationError,
						"map pool %q: map %q has negative weight %d for slot %q", name, mapName, w, slot)
				}
			}
		}
	}
	return pools, nil
}
