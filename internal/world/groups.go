package world

import (
	"sort"

	"github.com/l1jgo/landblock/internal/landblock"
)

// Landblocks are bucketed into square super-cells of span x span and each
// bucket ticks as one group. Objects only cross into adjacent landblocks and
// relocation runs single-threaded, so buckets never need to see each other.

type groupKey struct {
	gx int32
	gy int32
}

func keyFor(id landblock.ID, span int32) groupKey {
	return groupKey{gx: int32(id.X()) / span, gy: int32(id.Y()) / span}
}

// buildGroups partitions blocks into groups. Groups and the landblocks inside
// them come out in ID order so ticks are reproducible.
func buildGroups(blocks []*landblock.Landblock, span int) []*landblock.Group {
	if span <= 0 {
		span = 1
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].ID() < blocks[j].ID() })

	byKey := make(map[groupKey]*landblock.Group)
	var keys []groupKey
	for _, lb := range blocks {
		k := keyFor(lb.ID(), int32(span))
		g := byKey[k]
		if g == nil {
			g = landblock.NewGroup()
			byKey[k] = g
			keys = append(keys, k)
		}
		g.Add(lb)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].gx != keys[j].gx {
			return keys[i].gx < keys[j].gx
		}
		return keys[i].gy < keys[j].gy
	})
	out := make([]*landblock.Group, 0, len(keys))
	for _, k := range keys {
		out = append(out, byKey[k])
	}
	return out
}
