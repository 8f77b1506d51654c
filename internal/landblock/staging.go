package landblock

import (
	"sync"

	"github.com/l1jgo/landblock/internal/core/ecs"
	"go.uber.org/zap"
)

type stagedAdd struct {
	e      Entity
	placed bool // already placed by Admit
}

// staging holds additions and removals until the next flush.
type staging struct {
	mu      sync.Mutex
	adds    []stagedAdd
	removes []ecs.EntityID
	// placed adds cancelled by a later remove; their physics slot is freed
	// at the next flush.
	dropped []Entity
}

// StageAdd queues e to join the landblock at the next flush. Physics
// placement happens during that flush. Safe from any goroutine.
func (lb *Landblock) StageAdd(e Entity) {
	lb.stageAdd(e, false)
}

func (lb *Landblock) stageAdd(e Entity, placed bool) {
	lb.staging.mu.Lock()
	lb.staging.adds = append(lb.staging.adds, stagedAdd{e: e, placed: placed})
	lb.staging.mu.Unlock()
}

// StageRemove queues id to leave the landblock at the next flush. A pending
// add of the same id is cancelled outright, so an add followed by a remove
// within one tick never reaches the object collection. Safe from any goroutine.
func (lb *Landblock) StageRemove(id ecs.EntityID) {
	lb.stageRemove(id)
}

// stageRemove reports whether it cancelled an add that already holds a
// physics slot; flush frees that slot.
func (lb *Landblock) stageRemove(id ecs.EntityID) (droppedPlaced bool) {
	lb.staging.mu.Lock()
	defer lb.staging.mu.Unlock()
	for i := len(lb.staging.adds) - 1; i >= 0; i-- {
		a := lb.staging.adds[i]
		if a.e.GUID() != id {
			continue
		}
		lb.staging.adds = append(lb.staging.adds[:i], lb.staging.adds[i+1:]...)
		if a.placed {
			lb.staging.dropped = append(lb.staging.dropped, a.e)
		}
		return a.placed
	}
	lb.staging.removes = append(lb.staging.removes, id)
	return false
}

// pendingRemoves returns the ids staged to leave at the next flush.
func (lb *Landblock) pendingRemoves() map[ecs.EntityID]struct{} {
	lb.staging.mu.Lock()
	defer lb.staging.mu.Unlock()
	out := make(map[ecs.EntityID]struct{}, len(lb.staging.removes))
	for _, id := range lb.staging.removes {
		out[id] = struct{}{}
	}
	return out
}

// pendingAdd reports whether id is staged to be added.
func (lb *Landblock) pendingAdd(id ecs.EntityID) (Entity, bool) {
	lb.staging.mu.Lock()
	defer lb.staging.mu.Unlock()
	for _, a := range lb.staging.adds {
		if a.e.GUID() == id {
			return a.e, true
		}
	}
	return nil, false
}

func (lb *Landblock) pendingAdds() []Entity {
	lb.staging.mu.Lock()
	defer lb.staging.mu.Unlock()
	out := make([]Entity, 0, len(lb.staging.adds))
	for _, a := range lb.staging.adds {
		out = append(out, a.e)
	}
	return out
}

// Staged returns the number of pending additions and removals.
func (lb *Landblock) Staged() (adds, removes int) {
	lb.staging.mu.Lock()
	defer lb.staging.mu.Unlock()
	return len(lb.staging.adds), len(lb.staging.removes)
}

func (lb *Landblock) takeStaged() ([]stagedAdd, []ecs.EntityID, []Entity) {
	lb.staging.mu.Lock()
	defer lb.staging.mu.Unlock()
	if len(lb.staging.adds) == 0 && len(lb.staging.removes) == 0 && len(lb.staging.dropped) == 0 {
		return nil, nil, nil
	}
	adds, removes, dropped := lb.staging.adds, lb.staging.removes, lb.staging.dropped
	lb.staging.adds, lb.staging.removes, lb.staging.dropped = nil, nil, nil
	return adds, removes, dropped
}

// Flush merges the staging buffers into the object collection: additions
// first, then removals. It only registers queue membership; no entity logic
// runs here. Flushing empty buffers changes nothing.
func (c *Cell) Flush() {
	if !c.check("flush", 0) {
		return
	}
	c.lb.flush()
}

func (lb *Landblock) flush() {
	adds, removes, dropped := lb.takeStaged()
	for _, e := range dropped {
		lb.deps.Physics.Release(lb.id, e)
		if cur, ok := e.CurrentLandblock(); ok && cur == lb.id {
			e.Detach()
		}
	}
	for _, a := range adds {
		e := a.e
		id := e.GUID()
		if _, dup := lb.objects[id]; dup {
			lb.log.Warn("staged add of object already present", zap.Uint64("guid", uint64(id)))
			continue
		}
		if !a.placed {
			e.Attach(lb.id)
			if !lb.deps.Physics.Place(lb.id, e) {
				lb.placementFailed(e)
				continue
			}
		}
		e.Attach(lb.id)
		lb.objects[id] = e
		lb.register(e)
		if lb.deps.Directory != nil {
			lb.deps.Directory.Set(id, lb.id)
		}
	}
	for _, id := range removes {
		e, ok := lb.objects[id]
		if !ok {
			lb.log.Debug("staged remove of absent object", zap.Uint64("guid", uint64(id)))
			continue
		}
		delete(lb.objects, id)
		lb.unregister(e)
		if cur, ok := e.CurrentLandblock(); ok && cur == lb.id {
			e.Detach()
		}
		if lb.deps.Directory != nil {
			lb.deps.Directory.Remove(id, lb.id)
		}
	}
	lb.count.Store(int32(len(lb.objects)))
}

func (lb *Landblock) register(e Entity) {
	for _, q := range lb.queues {
		q.Insert(e)
	}
	if k, ok := e.(KeepAlive); ok && k.KeepsAlive() {
		lb.keepAlive++
	}
	if p, ok := e.(Player); ok {
		lb.players[e.GUID()] = p
	}
}

func (lb *Landblock) unregister(e Entity) {
	id := e.GUID()
	for _, q := range lb.queues {
		q.Remove(id)
	}
	if k, ok := e.(KeepAlive); ok && k.KeepsAlive() && lb.keepAlive > 0 {
		lb.keepAlive--
	}
	delete(lb.players, id)
}
