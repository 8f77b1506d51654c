package landblock

import (
	"sort"
	"time"

	"github.com/l1jgo/landblock/internal/core/ecs"
	"github.com/l1jgo/landblock/internal/core/event"
	"go.uber.org/zap"
)

// Admit places e in the landblock. e must already carry a valid location
// inside this landblock. Placement failure is an expected outcome: the
// entity is detached again, its generator is told, and Admit returns false.
func (c *Cell) Admit(e Entity) bool {
	id := e.GUID()
	if !c.check("admit", id) {
		return false
	}
	lb := c.lb
	loc := e.Location()
	if !loc.Valid() || loc.Landblock != lb.id {
		lb.log.Warn("admit with invalid location",
			zap.Uint64("guid", uint64(id)),
			zap.String("location_landblock", loc.Landblock.String()),
			zap.Float64s("position", loc.Position[:]),
		)
		return false
	}
	if _, ok := lb.objects[id]; ok {
		lb.log.Warn("admit of object already present", zap.Uint64("guid", uint64(id)))
		return false
	}
	if _, ok := lb.pendingAdd(id); ok {
		lb.log.Warn("admit of object already staged", zap.Uint64("guid", uint64(id)))
		return false
	}

	e.Attach(lb.id)
	if !lb.deps.Physics.Place(lb.id, e) {
		lb.placementFailed(e)
		return false
	}
	lb.stageAdd(e, true)

	lb.touch(lb.deps.Now())
	if ea, ok := e.(EnvironmentAware); ok {
		ea.SetEnvironment(lb.environment)
	}
	event.Emit(lb.deps.Bus, event.ObjectAdmitted{Landblock: uint16(lb.id), GUID: id})
	if corpse, ok := e.(Corpse); ok && lb.settings.CorpseCap > 0 {
		lb.enforceCorpseCap(corpse)
	}
	return true
}

// placementFailed rolls back the landblock association and, for spawned
// entities, tells the generator its slot is free again.
func (lb *Landblock) placementFailed(e Entity) {
	id := e.GUID()
	e.Detach()
	lb.log.Debug("placement failed", zap.Uint64("guid", uint64(id)))

	sp, ok := e.(Spawned)
	if !ok {
		return
	}
	genID, ok := sp.GeneratorID()
	if !ok {
		return
	}
	if gen, ok := lb.objects[genID]; ok {
		if t, ok := gen.(SpawnTracker); ok {
			t.NotifySpawnFailed(id)
			return
		}
	}
	// The generator lives elsewhere; let the driver route it.
	event.Emit(lb.deps.Bus, event.SpawnFailed{Landblock: uint16(lb.id), Generator: genID, Child: id})
}

// enforceCorpseCap expires the oldest corpses of the same owner beyond the cap.
func (lb *Landblock) enforceCorpseCap(added Corpse) {
	owner := added.CorpseOwner()
	var corpses []Corpse
	collect := func(e Entity) {
		if c, ok := e.(Corpse); ok && c.CorpseOwner() == owner {
			corpses = append(corpses, c)
		}
	}
	leaving := lb.pendingRemoves()
	for id, e := range lb.objects {
		if _, ok := leaving[id]; !ok {
			collect(e)
		}
	}
	for _, e := range lb.pendingAdds() {
		collect(e)
	}
	excess := len(corpses) - lb.settings.CorpseCap
	if excess <= 0 {
		return
	}
	sort.SliceStable(corpses, func(i, j int) bool {
		return corpses[i].CreatedAt().Before(corpses[j].CreatedAt())
	})
	now := lb.deps.Now()
	for _, c := range corpses[:excess] {
		c.ExpireNow(now)
		if e, ok := c.(Entity); ok {
			// The heartbeat fire time moved up; keep the queue ordered.
			if lb.queues[Heartbeat].Contains(e.GUID()) {
				lb.queues[Heartbeat].Resort(e)
			}
		}
	}
	lb.log.Debug("corpse cap reached",
		zap.Uint64("owner", uint64(owner)),
		zap.Int("expired", excess),
	)
}

// Retire stages the removal of id. A terminal removal tells dependents to
// stop tracking the object and frees its physics slot; an adjacency move does
// neither because the object is about to be admitted next door. fromPickup
// lifts the object's decay hold unless the landblock itself is unloading.
func (c *Cell) Retire(id ecs.EntityID, adjacencyMove, fromPickup bool) bool {
	if !c.check("retire", id) {
		return false
	}
	lb := c.lb
	e, ok := lb.objects[id]
	if !ok {
		e, ok = lb.pendingAdd(id)
	}
	if !ok {
		lb.log.Warn("retire of absent object", zap.Uint64("guid", uint64(id)))
		return false
	}

	droppedPlaced := lb.stageRemove(id)
	if !adjacencyMove {
		if !droppedPlaced {
			lb.deps.Physics.Release(lb.id, e)
		}
		event.Emit(lb.deps.Bus, event.ObjectRemoved{Landblock: uint16(lb.id), GUID: id})
		if st, ok := e.(Stored); ok && st.Stored() && lb.deps.Saver != nil && !lb.unloading.Load() {
			lb.deps.Saver.Delete(lb.id, []ecs.EntityID{id})
		}
	}
	if fromPickup && !lb.unloading.Load() {
		if p, ok := e.(Pickupable); ok {
			p.ClearDecayHold()
		}
	}
	return true
}

// Resort re-positions e in the queue for class after its interval changed.
func (c *Cell) Resort(e Entity, class EventClass) bool {
	if !c.check("resort", e.GUID()) {
		return false
	}
	if class >= numClasses {
		return false
	}
	if _, ok := c.lb.objects[e.GUID()]; !ok {
		return false
	}
	return c.lb.queues[class].Resort(e)
}

// StageAdd and StageRemove are available from a Cell too, for entity logic
// running inside a tick.
func (c *Cell) StageAdd(e Entity)           { c.lb.StageAdd(e) }
func (c *Cell) StageRemove(id ecs.EntityID) { c.lb.StageRemove(id) }

// Object returns the committed object with the given id.
func (c *Cell) Object(id ecs.EntityID) (Entity, bool) {
	e, ok := c.lb.objects[id]
	return e, ok
}

// Objects returns a snapshot of the committed objects.
func (c *Cell) Objects() []Entity {
	out := make([]Entity, 0, len(c.lb.objects))
	for _, e := range c.lb.objects {
		out = append(out, e)
	}
	return out
}

// Queue exposes one of the event queues, for inspection.
func (c *Cell) Queue(class EventClass) *EventQueue {
	return c.lb.queues[class]
}

// Now returns the landblock clock.
func (c *Cell) Now() time.Time { return c.lb.deps.Now() }

// Environment returns the ambient condition objects inherit on admission.
func (c *Cell) Environment() Environment { return c.lb.environment }

// SetEnvironment changes the ambient condition and pushes it to every object.
func (c *Cell) SetEnvironment(env Environment) {
	if !c.check("set_environment", 0) {
		return
	}
	c.lb.environment = env
	for _, e := range c.lb.objects {
		if ea, ok := e.(EnvironmentAware); ok {
			ea.SetEnvironment(env)
		}
	}
}

// MarkPopulated records that the initial region load has been admitted.
func (c *Cell) MarkPopulated() {
	if !c.check("mark_populated", 0) {
		return
	}
	if c.lb.populated.CompareAndSwap(false, true) {
		c.lb.touch(c.lb.deps.Now())
		adds, _ := c.lb.Staged()
		event.Emit(c.lb.deps.Bus, event.LandblockLoaded{Landblock: uint16(c.lb.id), Objects: len(c.lb.objects) + adds})
	}
}
