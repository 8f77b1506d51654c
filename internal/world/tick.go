package world

import (
	"context"
	"time"

	coresys "github.com/l1jgo/landblock/internal/core/system"
	"github.com/l1jgo/landblock/internal/landblock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PhaseHook runs global systems at a phase barrier. *coresys.Runner
// implements it.
type PhaseHook interface {
	TickPhase(phase coresys.Phase, dt time.Duration)
}

// Tick advances the world by one step. Phases run in order, each behind a
// barrier: physics per group, relocation, the parallel phase per group, then
// the single-threaded phase. hooks, when set, runs after each phase; the
// cleanup phase consists of hooks only.
func (m *Manager) Tick(ctx context.Context, now time.Time, hooks PhaseHook) error {
	dt := time.Duration(0)
	if !m.lastTick.IsZero() {
		dt = now.Sub(m.lastTick)
	}
	m.lastTick = now
	m.ticks++
	barrier := func(p coresys.Phase) {
		if hooks != nil {
			hooks.TickPhase(p, dt)
		}
	}

	groups := buildGroups(m.snapshot(), m.cfg.World.GroupSpan)
	m.groups = len(groups)
	for _, g := range groups {
		g.Assign()
	}
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		for _, g := range groups {
			g.Release()
		}
	}
	defer release()

	moved := make([][]landblock.Entity, len(groups))
	err := m.runGroups(ctx, groups, func(i int, c *landblock.Cell) {
		moved[i] = append(moved[i], c.TickPhysics(now)...)
	})
	if err != nil {
		return err
	}
	barrier(coresys.PhasePhysics)

	// Groups keep their landblocks across the phases of one tick, but
	// relocation needs every landblock at once.
	release()
	var all []landblock.Entity
	for _, ms := range moved {
		all = append(all, ms...)
	}
	m.Relocate(all)
	barrier(coresys.PhaseRelocate)

	// Relocation may have loaded new landblocks; they join next tick.
	for _, g := range groups {
		g.Assign()
	}
	released = false
	err = m.runGroups(ctx, groups, func(_ int, c *landblock.Cell) {
		c.TickParallel(now)
		m.checkSlow(c.Landblock())
	})
	if err != nil {
		return err
	}
	release()
	barrier(coresys.PhaseParallel)

	landblock.RunGlobal(func(tx *landblock.Tx) {
		for _, g := range groups {
			for _, lb := range g.Blocks() {
				if c, ok := tx.Cell(lb); ok {
					m.guard(lb, "single", func() { c.TickSingle(now) })
				}
			}
		}
	})
	barrier(coresys.PhaseSingle)
	barrier(coresys.PhaseCleanup)
	return nil
}

// runGroups runs fn on every landblock of every group, one worker per group
// and at most m.workers at a time.
func (m *Manager) runGroups(ctx context.Context, groups []*landblock.Group, fn func(i int, c *landblock.Cell)) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(m.workers)
	for i, g := range groups {
		eg.Go(func() error {
			g.Run(func(tx *landblock.Tx) {
				for _, c := range tx.Cells() {
					if ctx.Err() != nil {
						return
					}
					m.guard(c.Landblock(), "group", func() { fn(i, c) })
				}
			})
			return ctx.Err()
		})
	}
	return eg.Wait()
}

// guard keeps one misbehaving landblock from taking the tick down with it.
func (m *Manager) guard(lb *landblock.Landblock, phase string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("landblock tick panic",
				zap.String("landblock", lb.ID().String()),
				zap.String("phase", phase),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	fn()
}

func (m *Manager) checkSlow(lb *landblock.Landblock) {
	limit := m.cfg.World.SlowTick
	took := lb.LastTick()
	if limit <= 0 || took <= limit {
		return
	}
	if _, ok := m.slow.Allow(lb.ID()); !ok {
		return
	}
	m.log.Warn("slow landblock tick",
		zap.String("landblock", lb.ID().String()),
		zap.Duration("took", took),
		zap.Duration("limit", limit),
		zap.Int("objects", lb.Len()),
	)
}

// Relocate moves objects that physics reported as having left their
// landblock. Each is retired from its source as an adjacency move and
// admitted into the landblock its location now names, which is loaded if
// needed. An object the destination refuses goes back to the source edge.
func (m *Manager) Relocate(moved []landblock.Entity) {
	if len(moved) == 0 {
		return
	}
	type move struct {
		e   landblock.Entity
		src *landblock.Landblock
	}
	moves := make([]move, 0, len(moved))

	landblock.RunGlobal(func(tx *landblock.Tx) {
		sources := make(map[landblock.ID]*landblock.Cell)
		for _, e := range moved {
			srcID, ok := e.CurrentLandblock()
			if !ok {
				continue
			}
			src, ok := m.Get(srcID)
			if !ok {
				continue
			}
			sc, ok := tx.Cell(src)
			if !ok {
				continue
			}
			if !sc.Retire(e.GUID(), true, false) {
				continue
			}
			sources[srcID] = sc
			moves = append(moves, move{e: e, src: src})
		}
		for _, sc := range sources {
			sc.Flush()
		}

		dests := make(map[landblock.ID]*landblock.Cell)
		for _, mv := range moves {
			dstID := mv.e.Location().Landblock
			dst := m.Load(dstID)
			dc, ok := tx.Cell(dst)
			if ok && dc.Admit(mv.e) {
				dests[dstID] = dc
				continue
			}
			m.bounce(tx, mv.e, mv.src, dests)
		}
		for _, dc := range dests {
			dc.Flush()
		}
	})
}

// bounce puts an object the destination refused back inside its source.
func (m *Manager) bounce(tx *landblock.Tx, e landblock.Entity, src *landblock.Landblock, cells map[landblock.ID]*landblock.Cell) {
	sc, ok := tx.Cell(src)
	if !ok {
		m.log.Error("object lost in relocation", zap.Uint64("guid", uint64(e.GUID())))
		return
	}
	e.SetLocation(clampInto(e.Location(), src.ID()))
	if !sc.Admit(e) {
		m.log.Error("object lost in relocation",
			zap.Uint64("guid", uint64(e.GUID())),
			zap.String("landblock", src.ID().String()),
		)
		return
	}
	cells[src.ID()] = sc
}

// clampInto maps loc onto the nearest point inside landblock id.
func clampInto(loc landblock.Location, id landblock.ID) landblock.Location {
	g := loc.Global()
	const inset = 1e-6
	minX := float64(id.X()) * landblock.BlockLength
	minY := float64(id.Y()) * landblock.BlockLength
	g[0] = min(max(g[0], minX), minX+landblock.BlockLength-inset)
	g[1] = min(max(g[1], minY), minY+landblock.BlockLength-inset)
	out := landblock.Locate(g, loc.Heading)
	out.Landblock = id
	return out
}

// ProcessUnloads destroys landblocks that asked to be unloaded and are still
// idle. One that woke up in the meantime has its request cancelled.
func (m *Manager) ProcessUnloads(now time.Time) int {
	m.unloadMu.Lock()
	ids := m.unloads
	m.unloads = nil
	m.unloadMu.Unlock()
	if len(ids) == 0 {
		return 0
	}

	destroyed := 0
	landblock.RunGlobal(func(tx *landblock.Tx) {
		for _, id := range ids {
			lb, ok := m.Get(id)
			if !ok {
				continue
			}
			c, ok := tx.Cell(lb)
			if !ok {
				continue
			}
			if lb.Permanent() || lb.HasKeepAlive() || lb.Idle(now) < m.settings.UnloadThreshold {
				c.CancelUnload()
				continue
			}
			c.Destroy()
			m.deps.Physics.Drop(id)
			m.mu.Lock()
			delete(m.blocks, id)
			m.mu.Unlock()
			destroyed++
		}
	})
	return destroyed
}

// Stats is a point-in-time summary of the world.
type Stats struct {
	Ticks   uint64
	Loaded  int
	Dormant int
	Loading int
	Objects int
	Groups  int
}

func (m *Manager) Stats() Stats {
	s := Stats{Ticks: m.ticks, Groups: m.groups}
	for _, lb := range m.snapshot() {
		s.Loaded++
		s.Objects += lb.Len()
		switch lb.State() {
		case landblock.StateDormant:
			s.Dormant++
		case landblock.StateLoading:
			s.Loading++
		}
	}
	return s
}

// Shutdown stops loading, destroys every landblock (which saves their dirty
// objects) and closes the saver once everything is written.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	m.loaders.Wait()

	blocks := m.snapshot()
	landblock.RunGlobal(func(tx *landblock.Tx) {
		for _, lb := range blocks {
			if c, ok := tx.Cell(lb); ok {
				m.guard(lb, "shutdown", c.Destroy)
			}
			m.deps.Physics.Drop(lb.ID())
		}
	})
	m.mu.Lock()
	clear(m.blocks)
	m.mu.Unlock()
	m.log.Info("world shut down", zap.Int("landblocks", len(blocks)))

	if m.deps.Saver == nil {
		return nil
	}
	return m.deps.Saver.Close(ctx)
}
