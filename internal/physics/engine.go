package physics

import (
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/l1jgo/landblock/internal/core/ecs"
	"github.com/l1jgo/landblock/internal/landblock"
	"go.uber.org/zap"
)

// Engine is a coarse occupancy model: every landblock is split into an 8x8
// grid of cells and each cell holds a bounded number of objects.
//
// Grids are independent, so landblocks of different groups can be resolved
// in parallel; each grid carries its own lock.
type Engine struct {
	mu       sync.RWMutex
	grids    map[landblock.ID]*grid
	capacity int
	now      func() time.Time
	log      *zap.Logger
}

const (
	cellSize = landblock.BlockLength / gridSide
	gridSide = 8
)

type cellKey struct {
	cx int32
	cy int32
}

func toCellCoord(v float64) int32 {
	c := int32(v / cellSize)
	if c < 0 {
		return 0
	}
	if c >= gridSide {
		return gridSide - 1
	}
	return c
}

func keyOf(pos mgl64.Vec3) cellKey {
	return cellKey{cx: toCellCoord(pos[0]), cy: toCellCoord(pos[1])}
}

// grid tracks which objects hold a slot in which cell of one landblock.
type grid struct {
	mu    sync.Mutex
	cells map[cellKey]map[ecs.EntityID]struct{}
	slots map[ecs.EntityID]cellKey
	last  map[ecs.EntityID]time.Time // last integration time per object
}

func newGrid() *grid {
	return &grid{
		cells: make(map[cellKey]map[ecs.EntityID]struct{}),
		slots: make(map[ecs.EntityID]cellKey),
		last:  make(map[ecs.EntityID]time.Time),
	}
}

func (g *grid) full(k cellKey, capacity int) bool {
	return capacity > 0 && len(g.cells[k]) >= capacity
}

func (g *grid) add(id ecs.EntityID, k cellKey) {
	cell := g.cells[k]
	if cell == nil {
		cell = make(map[ecs.EntityID]struct{})
		g.cells[k] = cell
	}
	cell[id] = struct{}{}
	g.slots[id] = k
}

func (g *grid) remove(id ecs.EntityID) bool {
	k, ok := g.slots[id]
	if !ok {
		return false
	}
	delete(g.slots, id)
	delete(g.last, id)
	if cell := g.cells[k]; cell != nil {
		delete(cell, id)
		if len(cell) == 0 {
			delete(g.cells, k)
		}
	}
	return true
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// NewEngine creates an engine whose cells hold at most capacity objects each.
// A capacity of zero or less means unbounded.
func NewEngine(capacity int, opts ...Option) *Engine {
	e := &Engine{
		grids:    make(map[landblock.ID]*grid),
		capacity: capacity,
		now:      time.Now,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) grid(id landblock.ID) *grid {
	e.mu.RLock()
	g := e.grids[id]
	e.mu.RUnlock()
	if g != nil {
		return g
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if g = e.grids[id]; g == nil {
		g = newGrid()
		e.grids[id] = g
	}
	return g
}

func (e *Engine) lookup(id landblock.ID) (*grid, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	g, ok := e.grids[id]
	return g, ok
}

// Place claims a slot for obj in the cell under its position. It fails when
// the position lies outside lb or the cell is full. Placing an object that
// already holds a slot in lb moves the slot.
func (e *Engine) Place(lb landblock.ID, obj landblock.Entity) bool {
	loc := obj.Location()
	if loc.Landblock != lb || !loc.Valid() {
		return false
	}
	g := e.grid(lb)
	k := keyOf(loc.Position)
	id := obj.GUID()

	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.slots[id]; ok && cur == k {
		return true
	}
	if g.full(k, e.capacity) {
		e.log.Debug("physics cell full",
			zap.String("landblock", lb.String()),
			zap.Int32("cx", k.cx),
			zap.Int32("cy", k.cy),
		)
		return false
	}
	g.remove(id)
	g.add(id, k)
	g.last[id] = e.now()
	return true
}

// ResolvePosition integrates the velocity of a Mover since it was last
// resolved. A move into a full cell is blocked and the object stays put. When
// the object leaves its landblock its slot is freed, its location is updated
// to the destination and true is returned; the caller re-places it there.
func (e *Engine) ResolvePosition(obj landblock.Entity, now time.Time) bool {
	m, ok := obj.(landblock.Mover)
	if !ok {
		return false
	}
	loc := obj.Location()
	g, ok := e.lookup(loc.Landblock)
	if !ok {
		return false
	}
	id := obj.GUID()

	g.mu.Lock()
	defer g.mu.Unlock()
	k, ok := g.slots[id]
	if !ok {
		return false
	}
	last := g.last[id]
	g.last[id] = now
	dt := now.Sub(last).Seconds()
	v := m.Velocity()
	if dt <= 0 || v.Len() == 0 {
		return false
	}

	next := landblock.Locate(loc.Global().Add(v.Mul(dt)), loc.Heading)
	if next.Landblock != loc.Landblock {
		g.remove(id)
		obj.SetLocation(next)
		return true
	}
	nk := keyOf(next.Position)
	if nk != k {
		if g.full(nk, e.capacity) {
			return false
		}
		g.remove(id)
		g.add(id, nk)
		g.last[id] = now
	}
	obj.SetLocation(next)
	return false
}

// Release frees the slot obj holds in lb. A slot the object has since taken
// in another landblock is left alone.
func (e *Engine) Release(lb landblock.ID, obj landblock.Entity) {
	g, ok := e.lookup(lb)
	if !ok {
		return
	}
	g.mu.Lock()
	g.remove(obj.GUID())
	g.mu.Unlock()
}

// Drop forgets the grid of an unloaded landblock.
func (e *Engine) Drop(lb landblock.ID) {
	e.mu.Lock()
	delete(e.grids, lb)
	e.mu.Unlock()
}

// Occupancy returns the number of slots held in lb.
func (e *Engine) Occupancy(lb landblock.ID) int {
	g, ok := e.lookup(lb)
	if !ok {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.slots)
}

// Holds reports whether obj holds a slot in lb.
func (e *Engine) Holds(lb landblock.ID, id ecs.EntityID) bool {
	g, ok := e.lookup(lb)
	if !ok {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	_, held := g.slots[id]
	return held
}

var _ landblock.Physics = (*Engine)(nil)
