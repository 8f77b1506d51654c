package world

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/joeycumines/go-catrate"
	"github.com/l1jgo/landblock/internal/config"
	"github.com/l1jgo/landblock/internal/core/ecs"
	"github.com/l1jgo/landblock/internal/core/event"
	"github.com/l1jgo/landblock/internal/data"
	"github.com/l1jgo/landblock/internal/entity"
	"github.com/l1jgo/landblock/internal/landblock"
	"go.uber.org/zap"
)

// RegionLoader reads the stored objects of one landblock.
type RegionLoader interface {
	LoadRegion(ctx context.Context, id landblock.ID) ([]landblock.Record, error)
}

// Saver is the asynchronous writer landblocks hand their snapshots to.
type Saver interface {
	landblock.Saver
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

// Physics is the placement gateway plus per-landblock teardown.
type Physics interface {
	landblock.Physics
	Drop(id landblock.ID)
}

type Config struct {
	World       config.WorldConfig
	LoadTimeout time.Duration
}

type Deps struct {
	Store      RegionLoader
	Saver      Saver
	Physics    Physics
	Factory    *entity.Factory
	Landblocks *data.LandblockTable // optional metadata
	Bus        *event.Bus
	Directory  *ecs.Directory[landblock.ID]
	Now        func() time.Time
	Log        *zap.Logger
}

// Manager owns every loaded landblock and drives the tick: it builds the
// groups, runs the parallel phases on a bounded worker pool, moves objects
// across landblock edges between phases and destroys idle landblocks.
//
// Tick, Relocate, ProcessUnloads and Shutdown must be called from one
// goroutine. Load and Spawn are safe from anywhere.
type Manager struct {
	cfg      Config
	settings landblock.Settings
	deps     Deps
	log      *zap.Logger
	workers  int

	mu     sync.RWMutex // protects blocks
	blocks map[landblock.ID]*landblock.Landblock

	unloadMu sync.Mutex
	unloads  []landblock.ID

	loaders sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	slow     *catrate.Limiter
	lastTick time.Time
	ticks    uint64
	groups   int
}

func NewManager(cfg Config, deps Deps) *Manager {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Bus == nil {
		deps.Bus = event.NewBus()
	}
	if deps.Directory == nil {
		deps.Directory = ecs.NewDirectory[landblock.ID]()
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 10 * time.Second
	}
	workers := cfg.World.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg: cfg,
		settings: landblock.Settings{
			HeartbeatInterval: cfg.World.HeartbeatInterval,
			SaveInterval:      cfg.World.SaveInterval,
			DormancyThreshold: cfg.World.DormancyThreshold,
			UnloadThreshold:   cfg.World.UnloadThreshold,
			CorpseCap:         cfg.World.CorpseCap,
			ActionQueueSize:   cfg.World.ActionQueueSize,
		},
		deps:    deps,
		log:     deps.Log,
		workers: workers,
		blocks:  make(map[landblock.ID]*landblock.Landblock, 64),
		ctx:     ctx,
		cancel:  cancel,
	}
	if every := cfg.World.SlowTickWarnEvery; every > 0 {
		m.slow = catrate.NewLimiter(map[time.Duration]int{every: 1})
	}

	event.Subscribe(deps.Bus, m.onSpawnFailed)
	event.Subscribe(deps.Bus, func(ev event.LandblockLoaded) {
		m.log.Debug("landblock populated",
			zap.Uint16("landblock", ev.Landblock),
			zap.Int("objects", ev.Objects),
		)
	})
	event.Subscribe(deps.Bus, func(ev event.LandblockUnloaded) {
		m.log.Info("landblock unloaded", zap.Uint16("landblock", ev.Landblock))
	})
	return m
}

// Bus returns the event bus landblocks emit on.
func (m *Manager) Bus() *event.Bus { return m.deps.Bus }

// Get returns a loaded landblock.
func (m *Manager) Get(id landblock.ID) (*landblock.Landblock, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lb, ok := m.blocks[id]
	return lb, ok
}

// Loaded returns the number of loaded landblocks.
func (m *Manager) Loaded() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blocks)
}

// Load returns the landblock, creating it when it is not loaded. A new
// landblock starts out Loading; its stored objects are read on another
// goroutine and admitted through its deferred action queue.
func (m *Manager) Load(id landblock.ID) *landblock.Landblock {
	m.mu.Lock()
	if lb, ok := m.blocks[id]; ok {
		m.mu.Unlock()
		return lb
	}
	var info *data.LandblockInfo
	if m.deps.Landblocks != nil {
		info = m.deps.Landblocks.Get(uint16(id))
	}
	opts := landblock.Options{}
	if info != nil {
		opts.Permanent = info.Permanent
		opts.Dungeon = info.Dungeon
		opts.Environment = parseEnvironment(info.Environment)
	}
	lb := landblock.New(id, opts, m.settings, landblock.Deps{
		Physics:   m.deps.Physics,
		Saver:     m.deps.Saver,
		Unloader:  m,
		Bus:       m.deps.Bus,
		Directory: m.deps.Directory,
		Neighbor:  m.Get,
		Now:       m.deps.Now,
		Log:       m.log,
	})
	m.blocks[id] = lb
	m.loaders.Add(1)
	m.mu.Unlock()

	m.log.Debug("landblock loading", zap.String("landblock", id.String()))
	go m.populate(lb, info)
	return lb
}

// Preload loads landblocks by hex ID, plus every permanent landblock.
func (m *Manager) Preload(hexIDs []string) error {
	for _, s := range hexIDs {
		id, err := data.ParseLandblockID(s)
		if err != nil {
			return fmt.Errorf("preload %q: %w", s, err)
		}
		m.Load(landblock.ID(id))
	}
	if m.deps.Landblocks != nil {
		for _, id := range m.deps.Landblocks.Permanent() {
			m.Load(landblock.ID(id))
		}
	}
	return nil
}

func (m *Manager) populate(lb *landblock.Landblock, info *data.LandblockInfo) {
	defer m.loaders.Done()
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("landblock population panic",
				zap.String("landblock", lb.ID().String()),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.LoadTimeout)
	defer cancel()

	var records []landblock.Record
	var err error
	if m.deps.Store != nil {
		records, err = m.deps.Store.LoadRegion(ctx, lb.ID())
	}
	if err != nil {
		// Seeding now would duplicate whatever is stored; come up empty.
		m.log.Error("load landblock region", zap.String("landblock", lb.ID().String()), zap.Error(err))
	}

	now := m.deps.Now()
	objs := make([]landblock.Entity, 0, len(records))
	for _, rec := range records {
		e, rerr := m.deps.Factory.Restore(rec, now)
		if rerr != nil {
			m.log.Warn("skip stored object", zap.Error(rerr))
			continue
		}
		objs = append(objs, e)
	}
	if err == nil && len(records) == 0 && info != nil {
		for _, p := range info.Generators {
			loc := landblock.Location{Landblock: lb.ID(), Position: mgl64.Vec3{p.X, p.Y, p.Z}, Heading: p.Heading}
			e, cerr := m.deps.Factory.Create(p.Template, loc, now)
			if cerr != nil {
				m.log.Warn("skip seed object", zap.Int32("template", p.Template), zap.Error(cerr))
				continue
			}
			objs = append(objs, e)
		}
	}

	admit := func(c *landblock.Cell) {
		for _, e := range objs {
			if !c.Admit(e) {
				m.log.Warn("stored object could not be placed",
					zap.String("landblock", c.ID().String()),
					zap.Uint64("guid", uint64(e.GUID())),
				)
			}
		}
		c.MarkPopulated()
	}
	if err := lb.EnqueueDeferred(m.ctx, admit); err != nil {
		m.log.Warn("landblock population abandoned", zap.String("landblock", lb.ID().String()), zap.Error(err))
	}
}

// WaitLoaded blocks until every population started so far has been queued.
func (m *Manager) WaitLoaded() { m.loaders.Wait() }

// Spawn queues e for admission into the landblock its location names,
// loading that landblock if needed.
func (m *Manager) Spawn(ctx context.Context, e landblock.Entity) error {
	loc := e.Location()
	if !loc.Valid() {
		return fmt.Errorf("spawn %d: invalid location", e.GUID())
	}
	lb := m.Load(loc.Landblock)
	return lb.EnqueueDeferred(ctx, func(c *landblock.Cell) {
		if !c.Admit(e) {
			m.log.Warn("spawn refused", zap.Uint64("guid", uint64(e.GUID())), zap.String("landblock", c.ID().String()))
		}
	})
}

// Lookup returns the landblock currently holding guid.
func (m *Manager) Lookup(guid ecs.EntityID) (landblock.ID, bool) {
	return m.deps.Directory.Get(guid)
}

// WithObject runs fn on the object and its landblock. Only legal between
// phases, from the goroutine driving the tick.
func (m *Manager) WithObject(guid ecs.EntityID, fn func(c *landblock.Cell, e landblock.Entity)) bool {
	id, ok := m.Lookup(guid)
	if !ok {
		return false
	}
	lb, ok := m.Get(id)
	if !ok {
		return false
	}
	found := false
	landblock.RunGlobal(func(tx *landblock.Tx) {
		c, ok := tx.Cell(lb)
		if !ok {
			return
		}
		e, ok := c.Object(guid)
		if !ok {
			return
		}
		found = true
		fn(c, e)
	})
	return found
}

// onSpawnFailed hands a placement failure to a generator in another landblock.
func (m *Manager) onSpawnFailed(ev event.SpawnFailed) {
	m.WithObject(ev.Generator, func(_ *landblock.Cell, e landblock.Entity) {
		if t, ok := e.(landblock.SpawnTracker); ok {
			t.NotifySpawnFailed(ev.Child)
		}
	})
}

// EnqueueDestroy is called by landblocks idle past the unload threshold.
func (m *Manager) EnqueueDestroy(id landblock.ID) {
	m.unloadMu.Lock()
	m.unloads = append(m.unloads, id)
	m.unloadMu.Unlock()
}

func (m *Manager) snapshot() []*landblock.Landblock {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*landblock.Landblock, 0, len(m.blocks))
	for _, lb := range m.blocks {
		out = append(out, lb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func parseEnvironment(s string) landblock.Environment {
	switch s {
	case "fog":
		return landblock.EnvFog
	case "rain":
		return landblock.EnvRain
	case "storm":
		return landblock.EnvStorm
	}
	return landblock.EnvClear
}

var _ landblock.Unloader = (*Manager)(nil)
