package entity

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/l1jgo/landblock/internal/core/ecs"
	"github.com/l1jgo/landblock/internal/data"
	"github.com/l1jgo/landblock/internal/landblock"
	"go.uber.org/zap"
)

// Generator keeps a population of spawned objects alive around itself.
// Children are tracked by GUID only; whether one still exists is answered by
// the directory, so a child that wandered next door still counts.
type Generator struct {
	Object
	f     *Factory
	tpl   *data.ObjectTemplate
	table *data.SpawnTable
	rng   *rand.Rand

	children map[ecs.EntityID]struct{}
	spawned  uint64
	failed   uint64
}

func newGenerator(f *Factory, guid ecs.EntityID, tpl *data.ObjectTemplate, loc landblock.Location, now time.Time) *Generator {
	g := &Generator{
		Object:   newObject(guid, tpl.Kind, tpl.ID, loc),
		f:        f,
		tpl:      tpl,
		table:    tpl.Spawn,
		rng:      f.rng(guid),
		children: make(map[ecs.EntityID]struct{}),
	}
	g.schedule(landblock.GeneratorUpdate, after(now, g.table.UpdateEvery()))
	// First population goes out on the first tick.
	g.schedule(landblock.GeneratorRegen, now)
	return g
}

func (g *Generator) Children() int   { return len(g.children) }
func (g *Generator) Spawned() uint64 { return g.spawned }
func (g *Generator) Failed() uint64  { return g.failed }
func (g *Generator) Tracks(id ecs.EntityID) bool {
	_, ok := g.children[id]
	return ok
}

func (g *Generator) Invoke(class landblock.EventClass, now time.Time, cell *landblock.Cell) {
	switch class {
	case landblock.GeneratorUpdate:
		g.prune()
		g.schedule(landblock.GeneratorUpdate, after(now, g.table.UpdateEvery()))
	case landblock.GeneratorRegen:
		g.prune()
		for i := len(g.children); i < g.table.Max; i++ {
			if !g.spawnOne(now, cell) {
				break
			}
		}
		g.schedule(landblock.GeneratorRegen, after(now, g.table.RegenEvery()))
	}
}

// NotifySpawnFailed frees the slot of a child that could not be placed.
func (g *Generator) NotifySpawnFailed(child ecs.EntityID) {
	if _, ok := g.children[child]; !ok {
		return
	}
	delete(g.children, child)
	g.failed++
}

func (g *Generator) prune() {
	for id := range g.children {
		if !g.f.alive(id) {
			delete(g.children, id)
		}
	}
}

// spawnOne admits one child and reports whether the generator should keep
// going this round.
func (g *Generator) spawnOne(now time.Time, cell *landblock.Cell) bool {
	entry, ok := g.pick()
	if !ok {
		return false
	}
	child, err := g.f.spawn(entry.Template, g.scatter(), g.guid, now)
	if err != nil {
		g.f.log.Warn("generator spawn failed",
			zap.Uint64("generator", uint64(g.guid)),
			zap.Int32("template", entry.Template),
			zap.Error(err),
		)
		return false
	}
	id := child.GUID()
	g.children[id] = struct{}{}
	if !cell.Admit(child) {
		// Placement failures were already reported; catch the rest.
		g.NotifySpawnFailed(id)
		g.f.env.IDs.Destroy(id)
		// A full landblock will not have room for the next one either.
		return false
	}
	g.spawned++
	return true
}

// pick chooses a spawn entry by weight.
func (g *Generator) pick() (data.SpawnEntry, bool) {
	total := 0
	for _, e := range g.table.Entries {
		if e.Weight > 0 {
			total += e.Weight
		}
	}
	if total == 0 {
		return data.SpawnEntry{}, false
	}
	n := g.rng.IntN(total)
	for _, e := range g.table.Entries {
		if e.Weight <= 0 {
			continue
		}
		if n < e.Weight {
			return e, true
		}
		n -= e.Weight
	}
	return data.SpawnEntry{}, false
}

// scatter returns a random point within the spawn radius, kept inside the
// generator's own landblock.
func (g *Generator) scatter() landblock.Location {
	angle := g.rng.Float64() * 2 * math.Pi
	r := g.rng.Float64() * g.table.Radius
	p := g.loc.Position.Add(mgl64.Vec3{math.Cos(angle) * r, math.Sin(angle) * r, 0})
	edge := math.Nextafter(landblock.BlockLength, 0)
	p[0] = mgl64.Clamp(p[0], 0, edge)
	p[1] = mgl64.Clamp(p[1], 0, edge)
	return landblock.Location{
		Landblock: g.loc.Landblock,
		Position:  p,
		Heading:   g.rng.Float64() * 360,
	}
}
