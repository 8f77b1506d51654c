package landblock

import (
	"sync/atomic"

	"github.com/l1jgo/landblock/internal/core/ecs"
	"go.uber.org/zap"
)

// Group is a set of landblocks ticked together by one worker during the
// parallel phase of a single tick. Groups are built by the driver.
type Group struct {
	id     uint64
	blocks []*Landblock
}

var groupSeq atomic.Uint64

// NewGroup creates a group for the given landblocks. The group does not own
// them until the driver calls Assign.
func NewGroup(blocks ...*Landblock) *Group {
	return &Group{id: groupSeq.Add(1), blocks: blocks}
}

func (g *Group) ID() uint64           { return g.id }
func (g *Group) Blocks() []*Landblock { return g.blocks }
func (g *Group) Add(lb *Landblock)    { g.blocks = append(g.blocks, lb) }
func (g *Group) Len() int             { return len(g.blocks) }

// Assign makes g the current owner of every landblock in it. Only the driver
// calls this, before handing the group to a worker.
func (g *Group) Assign() {
	for _, lb := range g.blocks {
		lb.group.Store(g)
	}
}

// Release clears ownership on every landblock still held by g.
func (g *Group) Release() {
	for _, lb := range g.blocks {
		lb.group.CompareAndSwap(g, nil)
	}
}

// Run opens a Tx for g, calls fn with it and closes it again. Any Cell
// obtained from the Tx is dead once Run returns.
func (g *Group) Run(fn func(tx *Tx)) {
	tx := &Tx{group: g}
	defer tx.close()
	fn(tx)
}

// Tx is the capability to mutate landblocks. A group Tx covers the landblocks
// the group currently owns; a global Tx covers every landblock no group holds,
// so it is only useful to the driver between phases.
type Tx struct {
	group  *Group
	global bool
	closed atomic.Bool
}

// RunGlobal opens a Tx over every landblock for the single-threaded parts of
// the tick.
func RunGlobal(fn func(tx *Tx)) {
	tx := &Tx{global: true}
	defer tx.close()
	fn(tx)
}

func (tx *Tx) close() { tx.closed.Store(true) }

// Open reports whether the Tx is still inside its phase.
func (tx *Tx) Open() bool { return !tx.closed.Load() }

func (tx *Tx) owns(lb *Landblock) bool {
	if tx.closed.Load() || lb.destroyed.Load() {
		return false
	}
	if tx.global {
		return lb.group.Load() == nil
	}
	return lb.group.Load() == tx.group
}

// Cell returns the mutation handle for lb, or false when this Tx does not own it.
// A global Tx asking for a landblock a worker holds is a violation.
func (tx *Tx) Cell(lb *Landblock) (*Cell, bool) {
	if !tx.owns(lb) {
		if tx.global && !tx.closed.Load() && lb.group.Load() != nil {
			(&Cell{lb: lb, tx: tx}).violation("open", 0)
		}
		return nil, false
	}
	return &Cell{lb: lb, tx: tx}, true
}

// Cells returns handles for every landblock of the group.
func (tx *Tx) Cells() []*Cell {
	if tx.group == nil {
		return nil
	}
	out := make([]*Cell, 0, len(tx.group.blocks))
	for _, lb := range tx.group.blocks {
		if c, ok := tx.Cell(lb); ok {
			out = append(out, c)
		}
	}
	return out
}

func (tx *Tx) token() uint64 {
	if tx.global {
		return 0
	}
	return tx.group.id
}

// Cell is the only way to mutate a landblock. It is valid for as long as the
// Tx it came from is open and still owns the landblock.
type Cell struct {
	lb *Landblock
	tx *Tx
}

func (c *Cell) Landblock() *Landblock { return c.lb }
func (c *Cell) ID() ID                { return c.lb.id }

// check guards every mutation. A Cell used after its phase ended, or after
// the landblock moved to another group, is a concurrency bug in the caller:
// log it with full context and refuse the operation.
func (c *Cell) check(op string, guid ecs.EntityID) bool {
	if c.tx.owns(c.lb) {
		return true
	}
	c.violation(op, guid)
	return false
}

func (c *Cell) violation(op string, guid ecs.EntityID) {
	var holder uint64
	if g := c.lb.group.Load(); g != nil {
		holder = g.id
	}
	c.lb.violations.Add(1)
	c.lb.log.Error("landblock mutated outside its owning group",
		zap.String("op", op),
		zap.Uint64("guid", uint64(guid)),
		zap.Uint64("caller_group", c.tx.token()),
		zap.Uint64("holder_group", holder),
		zap.Bool("tx_closed", c.tx.closed.Load()),
		zap.Stack("stack"),
	)
}
