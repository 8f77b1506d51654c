package landblock

import (
	"time"

	"github.com/l1jgo/landblock/internal/core/event"
	"go.uber.org/zap"
)

// TickPhysics flushes staging and resolves every object's position. Objects
// that crossed into another landblock are returned for the driver to move;
// nothing is moved here. Dormant landblocks skip the phase.
func (c *Cell) TickPhysics(now time.Time) []Entity {
	if !c.check("tick_physics", 0) {
		return nil
	}
	lb := c.lb
	if lb.dormant.Load() {
		return nil
	}
	lb.flush()
	var moved []Entity
	for _, e := range lb.objects {
		if lb.deps.Physics.ResolvePosition(e, now) {
			moved = append(moved, e)
		}
	}
	return moved
}

// TickParallel runs the part of the tick that may overlap with landblocks of
// other groups.
func (c *Cell) TickParallel(now time.Time) {
	if !c.check("tick_parallel", 0) {
		return
	}
	start := time.Now()
	lb := c.lb

	c.runActions()
	lb.flush()

	if !lb.dormant.Load() {
		lb.queues[AITick].DrainReady(now, func(e Entity) { e.Invoke(AITick, now, c) })
		lb.queues[GeneratorUpdate].DrainReady(now, func(e Entity) { e.Invoke(GeneratorUpdate, now, c) })
		lb.queues[GeneratorRegen].DrainReady(now, func(e Entity) { e.Invoke(GeneratorRegen, now, c) })
	}

	if now.Sub(lb.lastHeartbeat) >= lb.settings.HeartbeatInterval {
		c.heartbeat(now)
	}
	if now.Sub(lb.lastPersist) >= lb.settings.SaveInterval {
		c.persist(now)
	}
	lb.lastTickLength.Store(int64(time.Since(start)))
}

// TickSingle runs the part of the tick that needs the whole world to itself.
func (c *Cell) TickSingle(now time.Time) {
	if !c.check("tick_single", 0) {
		return
	}
	lb := c.lb
	lb.flush()
	if len(lb.players) > 0 {
		lb.Activate(true)
		for _, p := range lb.players {
			p.TickPlayer(now, c)
		}
	}
	lb.queues[Heartbeat].DrainReady(now, func(e Entity) { e.Invoke(Heartbeat, now, c) })
}

// runActions drains the mailbox as it stood on entry; actions queued while
// draining wait for the next tick.
func (c *Cell) runActions() {
	n := len(c.lb.actions)
	for i := 0; i < n; i++ {
		select {
		case a := <-c.lb.actions:
			a(c)
		default:
			return
		}
	}
}

func (c *Cell) heartbeat(now time.Time) {
	lb := c.lb
	elapsed := now.Sub(lb.lastHeartbeat)
	lb.lastHeartbeat = now

	lb.flush()
	for id, e := range lb.objects {
		if !e.Decayable() {
			continue
		}
		if e.Decay(elapsed) {
			c.Retire(id, false, false)
		}
	}

	keep := 0
	for _, e := range lb.objects {
		if k, ok := e.(KeepAlive); ok && k.KeepsAlive() {
			keep++
		}
	}
	lb.keepAlive = keep

	c.evaluateDormancy(now)
}

// evaluateDormancy puts an idle landblock to sleep and, once it has been idle
// long enough, hands it to the driver for unloading.
func (c *Cell) evaluateDormancy(now time.Time) {
	lb := c.lb
	if lb.permanent || lb.keepAlive > 0 || !lb.populated.Load() {
		return
	}
	idle := lb.Idle(now)
	if idle >= lb.settings.DormancyThreshold && !lb.dormant.Load() {
		destroyed := 0
		for id, e := range lb.objects {
			if t, ok := e.(Transient); ok && t.IsTransient() {
				c.Retire(id, false, false)
				destroyed++
			}
		}
		lb.dormant.Store(true)
		event.Emit(lb.deps.Bus, event.LandblockDormant{Landblock: uint16(lb.id)})
		lb.log.Debug("landblock went dormant",
			zap.Duration("idle", idle),
			zap.Int("transients_destroyed", destroyed),
		)
	}
	if idle >= lb.settings.UnloadThreshold && lb.unloadPending.CompareAndSwap(false, true) {
		if lb.deps.Unloader != nil {
			lb.deps.Unloader.EnqueueDestroy(lb.id)
		}
	}
}

func (c *Cell) persist(now time.Time) {
	lb := c.lb
	lb.lastPersist = now
	lb.flush()
	records := lb.snapshot(true)
	if len(records) == 0 || lb.deps.Saver == nil {
		return
	}
	lb.deps.Saver.Submit(lb.id, records)
}

func (lb *Landblock) snapshot(dirtyOnly bool) []Record {
	var records []Record
	for _, e := range lb.objects {
		if dirtyOnly && !e.Dirty() {
			continue
		}
		records = append(records, e.Persist())
	}
	return records
}

// Destroy tears the landblock down: final flush, final save of every dirty
// object, physics release. The landblock is unusable afterwards.
func (c *Cell) Destroy() {
	if !c.check("destroy", 0) {
		return
	}
	lb := c.lb
	lb.unloading.Store(true)
	c.runActions()
	lb.flush()

	if records := lb.snapshot(true); len(records) > 0 && lb.deps.Saver != nil {
		lb.deps.Saver.Submit(lb.id, records)
	}
	for id, e := range lb.objects {
		lb.deps.Physics.Release(lb.id, e)
		e.Detach()
		if lb.deps.Directory != nil {
			lb.deps.Directory.Remove(id, lb.id)
		}
	}
	clear(lb.objects)
	clear(lb.players)
	for _, q := range lb.queues {
		q.clear()
	}
	lb.count.Store(0)
	lb.keepAlive = 0
	lb.destroyed.Store(true)
	event.Emit(lb.deps.Bus, event.LandblockUnloaded{Landblock: uint16(lb.id)})
	lb.log.Debug("landblock destroyed")
}

// CancelUnload clears a pending unload request after renewed activity.
func (c *Cell) CancelUnload() {
	if !c.check("cancel_unload", 0) {
		return
	}
	c.lb.unloadPending.Store(false)
}
