package landblock

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/l1jgo/landblock/internal/core/ecs"
	"github.com/l1jgo/landblock/internal/core/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmitStagesUntilFlush(t *testing.T) {
	f := newFixture(t)
	lb := f.landblock(0x7F7F, Options{})
	o := newObject(1, 0x7F7F).every(Heartbeat, epoch.Add(time.Second), time.Second)

	cell(lb, func(c *Cell) {
		require.True(t, c.Admit(o))
		_, ok := c.Object(o.id)
		assert.False(t, ok, "admission is staged")
		adds, removes := lb.Staged()
		assert.Equal(t, 1, adds)
		assert.Equal(t, 0, removes)

		c.Flush()
		got, ok := c.Object(o.id)
		require.True(t, ok)
		assert.Same(t, o, got)
		assert.True(t, c.Queue(Heartbeat).Contains(o.id))
		assert.False(t, c.Queue(AITick).Contains(o.id))
	})

	cur, ok := o.CurrentLandblock()
	require.True(t, ok)
	assert.Equal(t, ID(0x7F7F), cur)
	assert.True(t, f.physics.isPlaced(o.id))
	owner, ok := f.dir.Get(o.id)
	require.True(t, ok)
	assert.Equal(t, ID(0x7F7F), owner)
	assert.Equal(t, 1, lb.Len())
}

func TestFlushIsIdempotent(t *testing.T) {
	f := newFixture(t)
	lb := f.landblock(0x7F7F, Options{})
	o := newObject(1, 0x7F7F).every(AITick, epoch, time.Second)

	cell(lb, func(c *Cell) {
		c.Admit(o)
		c.Flush()
		before := c.Objects()
		c.Flush()
		c.Flush()
		assert.ElementsMatch(t, ids(before), ids(c.Objects()))
		assert.Equal(t, 1, c.Queue(AITick).Len())
	})
}

func TestAdmitRejectsInvalidLocation(t *testing.T) {
	f := newFixture(t)
	lb := f.landblock(0x7F7F, Options{})

	elsewhere := newObject(1, 0x7F80)
	outside := newObject(2, 0x7F7F)
	outside.loc.Position = mgl64.Vec3{BlockLength + 1, 5, 0}
	broken := newObject(3, 0x7F7F)
	broken.loc.Position = mgl64.Vec3{math.NaN(), 5, 0}

	cell(lb, func(c *Cell) {
		assert.False(t, c.Admit(elsewhere))
		assert.False(t, c.Admit(outside))
		assert.False(t, c.Admit(broken))
		c.Flush()
	})
	assert.Equal(t, 0, lb.Len())
	assert.False(t, f.physics.isPlaced(elsewhere.id))
}

func TestAdmitTwiceIsRejected(t *testing.T) {
	f := newFixture(t)
	lb := f.landblock(0x7F7F, Options{})
	o := newObject(1, 0x7F7F)

	cell(lb, func(c *Cell) {
		require.True(t, c.Admit(o))
		assert.False(t, c.Admit(o), "already staged")
		c.Flush()
		assert.False(t, c.Admit(o), "already present")
	})
	assert.Equal(t, 1, lb.Len())
}

func TestRetireRemovesFromEveryQueue(t *testing.T) {
	f := newFixture(t)
	lb := f.landblock(0x7F7F, Options{})
	o := newObject(1, 0x7F7F).
		every(Heartbeat, epoch, time.Second).
		every(AITick, epoch, time.Second).
		every(GeneratorUpdate, epoch, time.Second)
	o.stored = true

	var removed []event.ObjectRemoved
	event.Subscribe(f.bus, func(ev event.ObjectRemoved) { removed = append(removed, ev) })

	cell(lb, func(c *Cell) {
		c.Admit(o)
		c.Flush()
		require.True(t, c.Retire(o.id, false, false))
		c.Flush()
		for class := EventClass(0); class < numClasses; class++ {
			assert.False(t, c.Queue(class).Contains(o.id), "class %d", class)
		}
		_, ok := c.Object(o.id)
		assert.False(t, ok)
	})

	_, attached := o.CurrentLandblock()
	assert.False(t, attached)
	assert.False(t, f.physics.isPlaced(o.id))
	assert.Equal(t, []ecs.EntityID{o.id}, f.saver.deleted)
	_, ok := f.dir.Get(o.id)
	assert.False(t, ok)

	f.bus.SwapBuffers()
	f.bus.DispatchAll()
	require.Len(t, removed, 1)
	assert.Equal(t, o.id, removed[0].GUID)
}

func TestRetireAbsentObject(t *testing.T) {
	f := newFixture(t)
	lb := f.landblock(0x7F7F, Options{})
	cell(lb, func(c *Cell) {
		assert.False(t, c.Retire(ecs.NewEntityID(42, 0), false, false))
	})
	assert.Equal(t, 1, f.logs.FilterMessage("retire of absent object").Len())
}

func TestStagedRemoveWinsOverPendingAdd(t *testing.T) {
	f := newFixture(t)
	lb := f.landblock(0x7F7F, Options{})
	o := newObject(1, 0x7F7F).every(AITick, epoch, time.Second)

	cell(lb, func(c *Cell) {
		require.True(t, c.Admit(o))
		require.True(t, c.Retire(o.id, false, false))
		c.Flush()
		_, ok := c.Object(o.id)
		assert.False(t, ok)
		assert.Equal(t, 0, c.Queue(AITick).Len())
	})
	assert.False(t, f.physics.isPlaced(o.id))
	adds, removes := lb.Staged()
	assert.Zero(t, adds)
	assert.Zero(t, removes)
}

func TestStageRemoveOfPlacedAddFreesSlotOnFlush(t *testing.T) {
	f := newFixture(t)
	lb := f.landblock(0x7F7F, Options{})
	o := newObject(1, 0x7F7F)

	cell(lb, func(c *Cell) {
		require.True(t, c.Admit(o))
		// A bare staged remove, as a relocation would issue, skips the
		// terminal release in Retire; flush still has to free the slot.
		lb.StageRemove(o.id)
		assert.True(t, f.physics.isPlaced(o.id))
		c.Flush()
	})
	assert.False(t, f.physics.isPlaced(o.id))
	assert.Equal(t, 0, lb.Len())
}

func TestRetireOfPendingAddReleasesOnce(t *testing.T) {
	f := newFixture(t)
	lb := f.landblock(0x7F7F, Options{})
	o := newObject(1, 0x7F7F)

	cell(lb, func(c *Cell) {
		require.True(t, c.Admit(o))
		require.True(t, c.Retire(o.id, false, false))
		c.Flush()
	})
	assert.False(t, f.physics.isPlaced(o.id))
	assert.Equal(t, 1, f.physics.releases[o.id])
	assert.Equal(t, 0, lb.Len())
}

func TestRetireOfCommittedObjectReleasesOnce(t *testing.T) {
	f := newFixture(t)
	lb := f.landblock(0x7F7F, Options{})
	o := newObject(1, 0x7F7F)

	cell(lb, func(c *Cell) {
		c.Admit(o)
		c.Flush()
		require.True(t, c.Retire(o.id, false, false))
		assert.False(t, f.physics.isPlaced(o.id))
		c.Flush()
	})
	assert.Equal(t, 1, f.physics.releases[o.id])
}

func TestAdjacencyMoveKeepsPhysicsAndStorage(t *testing.T) {
	f := newFixture(t)
	lb := f.landblock(0x7F7F, Options{})
	o := newObject(1, 0x7F7F)
	o.stored = true

	cell(lb, func(c *Cell) {
		c.Admit(o)
		c.Flush()
		require.True(t, c.Retire(o.id, true, false))
		c.Flush()
	})
	assert.True(t, f.physics.isPlaced(o.id))
	assert.Empty(t, f.saver.deleted)
}

func TestRetireFromPickupClearsDecayHold(t *testing.T) {
	f := newFixture(t)
	lb := f.landblock(0x7F7F, Options{})
	o := newObject(1, 0x7F7F)
	o.hold = true

	cell(lb, func(c *Cell) {
		c.Admit(o)
		c.Flush()
		c.Retire(o.id, false, true)
	})
	assert.False(t, o.hold)
}

func TestPlacementFailureNotifiesLocalGenerator(t *testing.T) {
	f := newFixture(t)
	lb := f.landblock(0x7F7F, Options{})
	gen := &testGenerator{testObject: newObject(1, 0x7F7F)}
	child := &testChild{testObject: newObject(2, 0x7F7F), gen: gen.id}
	f.physics.reject[child.id] = true

	cell(lb, func(c *Cell) {
		c.Admit(gen)
		c.Flush()
		assert.False(t, c.Admit(child))
		c.Flush()
		_, ok := c.Object(child.id)
		assert.False(t, ok)
	})
	assert.Equal(t, []ecs.EntityID{child.id}, gen.failed)
	_, attached := child.CurrentLandblock()
	assert.False(t, attached)
}

func TestPlacementFailureWithRemoteGeneratorEmitsEvent(t *testing.T) {
	f := newFixture(t)
	lb := f.landblock(0x7F7F, Options{})
	genID := ecs.NewEntityID(99, 0)
	child := &testChild{testObject: newObject(2, 0x7F7F), gen: genID}
	f.physics.reject[child.id] = true

	var failed []event.SpawnFailed
	event.Subscribe(f.bus, func(ev event.SpawnFailed) { failed = append(failed, ev) })

	cell(lb, func(c *Cell) { c.Admit(child) })
	f.bus.SwapBuffers()
	f.bus.DispatchAll()
	require.Len(t, failed, 1)
	assert.Equal(t, genID, failed[0].Generator)
	assert.Equal(t, child.id, failed[0].Child)
}

func TestStagedAddFailingPlacementRollsBack(t *testing.T) {
	f := newFixture(t)
	lb := f.landblock(0x7F7F, Options{})
	o := newObject(1, 0x7F7F)
	f.physics.reject[o.id] = true

	lb.StageAdd(o)
	cell(lb, func(c *Cell) { c.Flush() })
	assert.Equal(t, 0, lb.Len())
	_, attached := o.CurrentLandblock()
	assert.False(t, attached)
}

func TestCorpseCapExpiresOldest(t *testing.T) {
	f := newFixture(t)
	lb := f.landblock(0x7F7F, Options{})
	owner := ecs.NewEntityID(500, 0)

	var corpses []*testCorpse
	for i := 0; i < 3; i++ {
		c := &testCorpse{
			testObject: newObject(uint32(10+i), 0x7F7F).every(Heartbeat, epoch.Add(time.Hour), 0),
			owner:      owner,
			created:    epoch.Add(time.Duration(i) * time.Minute),
		}
		corpses = append(corpses, c)
	}
	other := &testCorpse{testObject: newObject(20, 0x7F7F), owner: ecs.NewEntityID(501, 0), created: epoch}

	cell(lb, func(c *Cell) {
		c.Admit(other)
		for _, corpse := range corpses {
			require.True(t, c.Admit(corpse))
			c.Flush()
		}
		head, ok := c.Queue(Heartbeat).Peek()
		require.True(t, ok)
		assert.Equal(t, corpses[0].id, head.GUID(), "expired corpse moves to the queue head")
		assert.True(t, c.Queue(Heartbeat).Sorted())
	})
	assert.True(t, corpses[0].expired)
	assert.False(t, corpses[1].expired)
	assert.False(t, corpses[2].expired)
	assert.False(t, other.expired)
}

func TestCorpseCapIgnoresCorpsesAlreadyLeaving(t *testing.T) {
	f := newFixture(t)
	lb := f.landblock(0x7F7F, Options{})
	owner := ecs.NewEntityID(500, 0)
	corpse := func(id uint32, age time.Duration) *testCorpse {
		return &testCorpse{
			testObject: newObject(id, 0x7F7F).every(Heartbeat, epoch.Add(time.Hour), 0),
			owner:      owner,
			created:    epoch.Add(age),
		}
	}
	oldest, looted, fresh := corpse(10, 0), corpse(11, time.Minute), corpse(12, 2*time.Minute)

	cell(lb, func(c *Cell) {
		c.Admit(oldest)
		c.Admit(looted)
		c.Flush()
		require.True(t, c.Retire(looted.id, false, true))
		require.True(t, c.Admit(fresh))
		c.Flush()
	})
	assert.False(t, oldest.expired, "only two corpses remain after the flush")
	assert.False(t, fresh.expired)
	assert.Equal(t, 2, lb.Len())
}

func TestAdmitAppliesEnvironment(t *testing.T) {
	f := newFixture(t)
	lb := f.landblock(0x7F7F, Options{Environment: EnvFog})
	o := newObject(1, 0x7F7F)

	cell(lb, func(c *Cell) {
		c.Admit(o)
		assert.Equal(t, EnvFog, o.env)
		c.Flush()
		c.SetEnvironment(EnvStorm)
	})
	assert.Equal(t, EnvStorm, o.env)
}

func TestMarkPopulatedEmitsOnce(t *testing.T) {
	f := newFixture(t)
	lb := f.landblock(0x7F7F, Options{})
	var loaded []event.LandblockLoaded
	event.Subscribe(f.bus, func(ev event.LandblockLoaded) { loaded = append(loaded, ev) })

	assert.Equal(t, StateLoading, lb.State())
	cell(lb, func(c *Cell) {
		c.Admit(newObject(1, 0x7F7F))
		c.MarkPopulated()
		c.MarkPopulated()
	})
	assert.Equal(t, StateActive, lb.State())
	f.bus.SwapBuffers()
	f.bus.DispatchAll()
	require.Len(t, loaded, 1)
	assert.Equal(t, 1, loaded[0].Objects)
}

func TestActivatePropagatesOneHop(t *testing.T) {
	f := newFixture(t)
	center := f.landblock(0x7F7F, Options{})
	near := f.landblock(0x807F, Options{})
	far := f.landblock(0x817F, Options{})
	dungeon := f.landblock(0x7F80, Options{Dungeon: true})

	f.clock.Advance(time.Minute)
	center.Activate(true)
	now := f.clock.Now()

	assert.Equal(t, time.Duration(0), center.Idle(now))
	assert.Equal(t, time.Duration(0), near.Idle(now))
	assert.Equal(t, time.Minute, far.Idle(now))
	assert.Equal(t, time.Minute, dungeon.Idle(now))
}

func TestActivateFromDungeonDoesNotPropagate(t *testing.T) {
	f := newFixture(t)
	dungeon := f.landblock(0x7F7F, Options{Dungeon: true})
	near := f.landblock(0x807F, Options{})

	f.clock.Advance(time.Minute)
	dungeon.Activate(true)
	assert.Equal(t, time.Minute, near.Idle(f.clock.Now()))
}

func TestDeferredActionsRunInOrderAtParallelPhase(t *testing.T) {
	f := newFixture(t)
	lb := f.landblock(0x7F7F, Options{})
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		require.NoError(t, lb.EnqueueDeferred(context.Background(), func(c *Cell) { order = append(order, i) }))
	}
	assert.Equal(t, 3, lb.PendingActions())

	cell(lb, func(c *Cell) { c.TickParallel(f.clock.Now()) })
	assert.Equal(t, []int{0, 1, 2}, order)
	assert.Equal(t, 0, lb.PendingActions())
}

func TestDeferredActionsQueuedWhileDrainingWait(t *testing.T) {
	f := newFixture(t)
	lb := f.landblock(0x7F7F, Options{})
	ran := 0
	var again Action = func(c *Cell) { ran++ }
	lb.TryEnqueueDeferred(func(c *Cell) {
		ran++
		lb.TryEnqueueDeferred(again)
	})

	cell(lb, func(c *Cell) { c.TickParallel(f.clock.Now()) })
	assert.Equal(t, 1, ran)
	cell(lb, func(c *Cell) { c.TickParallel(f.clock.Now()) })
	assert.Equal(t, 2, ran)
}

func TestEnqueueDeferredHonoursContext(t *testing.T) {
	f := newFixture(t)
	f.settings.ActionQueueSize = 1
	lb := f.landblock(0x7F7F, Options{})
	require.True(t, lb.TryEnqueueDeferred(func(c *Cell) {}))
	assert.False(t, lb.TryEnqueueDeferred(func(c *Cell) {}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, lb.EnqueueDeferred(ctx, func(c *Cell) {}), context.Canceled)
}

func TestDeferredActionAdmitsEntity(t *testing.T) {
	f := newFixture(t)
	lb := f.landblock(0x7F7F, Options{})
	o := newObject(1, 0x7F7F)
	lb.TryEnqueueDeferred(func(c *Cell) { c.Admit(o) })

	cell(lb, func(c *Cell) {
		c.TickParallel(f.clock.Now())
		c.Flush()
	})
	assert.Equal(t, 1, lb.Len())
}
