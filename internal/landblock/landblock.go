package landblock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/l1jgo/landblock/internal/core/ecs"
	"github.com/l1jgo/landblock/internal/core/event"
	"go.uber.org/zap"
)

// State is the lifecycle stage of a landblock.
type State uint8

const (
	StateLoading State = iota
	StateActive
	StateDormant
	StateUnloading
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	case StateDormant:
		return "dormant"
	case StateUnloading:
		return "unloading"
	case StateDestroyed:
		return "destroyed"
	}
	return "unknown"
}

// Settings are the timing knobs shared by every landblock.
type Settings struct {
	HeartbeatInterval time.Duration
	SaveInterval      time.Duration
	DormancyThreshold time.Duration
	UnloadThreshold   time.Duration
	CorpseCap         int // per owner; 0 disables the cap
	ActionQueueSize   int
}

// Deps are the collaborators a landblock calls out to.
type Deps struct {
	Physics   Physics
	Saver     Saver
	Unloader  Unloader
	Bus       *event.Bus
	Directory *ecs.Directory[ID]
	// Neighbor returns a loaded landblock, used for activity propagation.
	Neighbor func(id ID) (*Landblock, bool)
	Now      func() time.Time
	Log      *zap.Logger
}

// Action is deferred work run at the start of the parallel phase.
type Action func(c *Cell)

// Landblock is one spatial cell of the world and everything live inside it.
//
// objects and the event queues are only touched through a Cell. The staging
// buffers, the deferred action queue and the activity clock are safe to use
// from any goroutine.
type Landblock struct {
	id       ID
	settings Settings
	deps     Deps
	log      *zap.Logger

	objects map[ecs.EntityID]Entity
	players map[ecs.EntityID]Player
	queues  [numClasses]*EventQueue
	staging staging
	actions chan Action

	group atomic.Pointer[Group]

	permanent      bool
	dungeon        bool
	keepAlive      int
	environment    Environment
	populated      atomic.Bool
	dormant        atomic.Bool
	unloadPending  atomic.Bool
	unloading      atomic.Bool
	destroyed      atomic.Bool
	lastActive     atomic.Int64 // unix nanos
	lastHeartbeat  time.Time
	lastPersist    time.Time
	violations     atomic.Uint64
	lastTickLength atomic.Int64
	count          atomic.Int32
}

// Options describe the static properties of a landblock.
type Options struct {
	Permanent   bool
	Dungeon     bool
	Environment Environment
}

func New(id ID, opts Options, settings Settings, deps Deps) *Landblock {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Bus == nil {
		deps.Bus = event.NewBus()
	}
	size := settings.ActionQueueSize
	if size <= 0 {
		size = 64
	}
	now := deps.Now()
	lb := &Landblock{
		id:            id,
		settings:      settings,
		deps:          deps,
		log:           deps.Log.With(zap.String("landblock", id.String())),
		objects:       make(map[ecs.EntityID]Entity, 64),
		players:       make(map[ecs.EntityID]Player),
		actions:       make(chan Action, size),
		permanent:     opts.Permanent,
		dungeon:       opts.Dungeon,
		environment:   opts.Environment,
		lastHeartbeat: now,
		lastPersist:   now,
	}
	for c := EventClass(0); c < numClasses; c++ {
		lb.queues[c] = newEventQueue(c)
	}
	lb.lastActive.Store(now.UnixNano())
	return lb
}

func (lb *Landblock) ID() ID                  { return lb.id }
func (lb *Landblock) Permanent() bool         { return lb.permanent }
func (lb *Landblock) Dungeon() bool           { return lb.dungeon }
func (lb *Landblock) Dormant() bool           { return lb.dormant.Load() }
func (lb *Landblock) Populated() bool         { return lb.populated.Load() }
func (lb *Landblock) Violations() uint64      { return lb.violations.Load() }
func (lb *Landblock) HasKeepAlive() bool      { return lb.keepAlive > 0 }
func (lb *Landblock) UnloadPending() bool     { return lb.unloadPending.Load() }
func (lb *Landblock) LastTick() time.Duration { return time.Duration(lb.lastTickLength.Load()) }

func (lb *Landblock) LastActive() time.Time {
	return time.Unix(0, lb.lastActive.Load())
}

// Idle returns how long the landblock has gone without activity.
func (lb *Landblock) Idle(now time.Time) time.Duration {
	return now.Sub(lb.LastActive())
}

func (lb *Landblock) State() State {
	switch {
	case lb.destroyed.Load():
		return StateDestroyed
	case lb.unloading.Load():
		return StateUnloading
	case !lb.populated.Load():
		return StateLoading
	case lb.dormant.Load():
		return StateDormant
	}
	return StateActive
}

// CurrentGroup returns the group allowed to mutate the landblock right now.
func (lb *Landblock) CurrentGroup() (*Group, bool) {
	g := lb.group.Load()
	return g, g != nil
}

// Activate refreshes the activity clock and wakes a dormant landblock. With
// propagate set, loaded outdoor neighbours are refreshed too, one hop only.
func (lb *Landblock) Activate(propagate bool) {
	lb.touch(lb.deps.Now())
	if !propagate || lb.dungeon || lb.deps.Neighbor == nil {
		return
	}
	for _, nid := range lb.id.Neighbors() {
		n, ok := lb.deps.Neighbor(nid)
		if !ok || n.dungeon {
			continue
		}
		n.Activate(false)
	}
}

func (lb *Landblock) touch(now time.Time) {
	for {
		prev := lb.lastActive.Load()
		if now.UnixNano() <= prev {
			break
		}
		if lb.lastActive.CompareAndSwap(prev, now.UnixNano()) {
			break
		}
	}
	if lb.dormant.CompareAndSwap(true, false) {
		lb.unloadPending.Store(false)
		lb.log.Debug("landblock woke from dormancy")
	}
}

// EnqueueDeferred hands an action to the landblock's mailbox. It blocks
// while the mailbox is full, so it must not be called from a tick goroutine;
// use TryEnqueueDeferred there.
func (lb *Landblock) EnqueueDeferred(ctx context.Context, a Action) error {
	select {
	case lb.actions <- a:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueueDeferred queues a without blocking and reports whether it fit.
func (lb *Landblock) TryEnqueueDeferred(a Action) bool {
	select {
	case lb.actions <- a:
		return true
	default:
		return false
	}
}

// PendingActions returns the number of queued deferred actions.
func (lb *Landblock) PendingActions() int { return len(lb.actions) }

// Len returns the number of objects in the authoritative collection as of
// the last flush.
func (lb *Landblock) Len() int { return int(lb.count.Load()) }
