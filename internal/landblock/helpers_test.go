package landblock

import (
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/l1jgo/landblock/internal/core/ecs"
	"github.com/l1jgo/landblock/internal/core/event"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type testObject struct {
	id       ecs.EntityID
	loc      Location
	lb       ID
	attached bool
	fire     [numClasses]time.Time
	interval [numClasses]time.Duration
	invoked  [numClasses]int
	onInvoke func(class EventClass, c *Cell)

	decayable bool
	decayLeft time.Duration
	dirty     bool
	transient bool
	keepAlive bool
	stored    bool
	env       Environment
	hold      bool
}

func newObject(id uint32, lb ID) *testObject {
	return &testObject{
		id:  ecs.NewEntityID(id, 0),
		loc: Location{Landblock: lb, Position: mgl64.Vec3{10, 10, 0}},
	}
}

func (o *testObject) every(class EventClass, first time.Time, interval time.Duration) *testObject {
	o.fire[class] = first
	o.interval[class] = interval
	return o
}

func (o *testObject) GUID() ecs.EntityID           { return o.id }
func (o *testObject) Location() Location           { return o.loc }
func (o *testObject) SetLocation(l Location)       { o.loc = l }
func (o *testObject) Attach(id ID)                 { o.lb, o.attached = id, true }
func (o *testObject) Detach()                      { o.attached = false }
func (o *testObject) CurrentLandblock() (ID, bool) { return o.lb, o.attached }
func (o *testObject) NextFire(c EventClass) time.Time {
	return o.fire[c]
}

func (o *testObject) Invoke(class EventClass, now time.Time, c *Cell) {
	o.invoked[class]++
	if o.interval[class] > 0 {
		o.fire[class] = now.Add(o.interval[class])
	} else {
		o.fire[class] = Never
	}
	if o.onInvoke != nil {
		o.onInvoke(class, c)
	}
}

func (o *testObject) Decayable() bool { return o.decayable }
func (o *testObject) Decay(elapsed time.Duration) bool {
	o.decayLeft -= elapsed
	return o.decayLeft <= 0
}
func (o *testObject) Dirty() bool { return o.dirty }
func (o *testObject) Persist() Record {
	o.dirty = false
	return Record{GUID: o.id, Kind: "test", Landblock: o.loc.Landblock, Position: o.loc.Position}
}
func (o *testObject) IsTransient() bool            { return o.transient }
func (o *testObject) KeepsAlive() bool             { return o.keepAlive }
func (o *testObject) Stored() bool                 { return o.stored }
func (o *testObject) SetEnvironment(e Environment) { o.env = e }
func (o *testObject) ClearDecayHold()              { o.hold = false }

type testGenerator struct {
	*testObject
	failed []ecs.EntityID
}

func (g *testGenerator) NotifySpawnFailed(child ecs.EntityID) { g.failed = append(g.failed, child) }

type testChild struct {
	*testObject
	gen ecs.EntityID
}

func (c *testChild) GeneratorID() (ecs.EntityID, bool) { return c.gen, true }

type testCorpse struct {
	*testObject
	owner   ecs.EntityID
	created time.Time
	expired bool
}

func (c *testCorpse) CorpseOwner() ecs.EntityID { return c.owner }
func (c *testCorpse) CreatedAt() time.Time      { return c.created }
func (c *testCorpse) ExpireNow(now time.Time) {
	c.expired = true
	c.fire[Heartbeat] = now
}

type testPlayer struct {
	*testObject
	ticks int
}

func (p *testPlayer) TickPlayer(now time.Time, c *Cell) { p.ticks++ }

type testPhysics struct {
	mu       sync.Mutex
	reject   map[ecs.EntityID]bool
	placed   map[ecs.EntityID]ID
	released []ecs.EntityID
	releases map[ecs.EntityID]int // every Release call, effective or not
	movers   map[ecs.EntityID]Location
}

func newTestPhysics() *testPhysics {
	return &testPhysics{
		reject:   make(map[ecs.EntityID]bool),
		placed:   make(map[ecs.EntityID]ID),
		releases: make(map[ecs.EntityID]int),
		movers:   make(map[ecs.EntityID]Location),
	}
}

func (p *testPhysics) Place(lb ID, e Entity) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reject[e.GUID()] {
		return false
	}
	p.placed[e.GUID()] = lb
	return true
}

func (p *testPhysics) ResolvePosition(e Entity, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	to, ok := p.movers[e.GUID()]
	if !ok {
		return false
	}
	delete(p.movers, e.GUID())
	from := e.Location().Landblock
	e.SetLocation(to)
	return to.Landblock != from
}

func (p *testPhysics) Release(lb ID, e Entity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releases[e.GUID()]++
	if cur, ok := p.placed[e.GUID()]; ok && cur == lb {
		delete(p.placed, e.GUID())
		p.released = append(p.released, e.GUID())
	}
}

func (p *testPhysics) isPlaced(id ecs.EntityID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.placed[id]
	return ok
}

type testSaver struct {
	mu      sync.Mutex
	batches [][]Record
	deleted []ecs.EntityID
}

func (s *testSaver) Submit(lb ID, records []Record) {
	s.mu.Lock()
	s.batches = append(s.batches, records)
	s.mu.Unlock()
}

func (s *testSaver) Delete(lb ID, guids []ecs.EntityID) {
	s.mu.Lock()
	s.deleted = append(s.deleted, guids...)
	s.mu.Unlock()
}

type testUnloader struct {
	mu  sync.Mutex
	ids []ID
}

func (u *testUnloader) EnqueueDestroy(id ID) {
	u.mu.Lock()
	u.ids = append(u.ids, id)
	u.mu.Unlock()
}

type fixture struct {
	clock    *testClock
	physics  *testPhysics
	saver    *testSaver
	unloader *testUnloader
	bus      *event.Bus
	dir      *ecs.Directory[ID]
	log      *zap.Logger
	logs     *observer.ObservedLogs
	settings Settings
	blocks   map[ID]*Landblock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	f := &fixture{
		log:      zap.New(core),
		logs:     logs,
		clock:    &testClock{now: epoch},
		physics:  newTestPhysics(),
		saver:    &testSaver{},
		unloader: &testUnloader{},
		bus:      event.NewBus(),
		dir:      ecs.NewDirectory[ID](),
		blocks:   make(map[ID]*Landblock),
		settings: Settings{
			HeartbeatInterval: 5 * time.Second,
			SaveInterval:      time.Minute,
			DormancyThreshold: time.Minute,
			UnloadThreshold:   5 * time.Minute,
			CorpseCap:         2,
			ActionQueueSize:   8,
		},
	}
	return f
}

func (f *fixture) landblock(id ID, opts Options) *Landblock {
	lb := New(id, opts, f.settings, Deps{
		Physics:   f.physics,
		Saver:     f.saver,
		Unloader:  f.unloader,
		Bus:       f.bus,
		Directory: f.dir,
		Neighbor: func(id ID) (*Landblock, bool) {
			lb, ok := f.blocks[id]
			return lb, ok
		},
		Now: f.clock.Now,
		Log: f.log,
	})
	f.blocks[id] = lb
	return lb
}

// cell runs fn with a global Tx, like the driver does between phases.
func cell(lb *Landblock, fn func(c *Cell)) {
	RunGlobal(func(tx *Tx) {
		c, ok := tx.Cell(lb)
		if !ok {
			panic("landblock not owned by global tx")
		}
		fn(c)
	})
}

func ids(es []Entity) []ecs.EntityID {
	out := make([]ecs.EntityID, 0, len(es))
	for _, e := range es {
		out = append(out, e.GUID())
	}
	return out
}
