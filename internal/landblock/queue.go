package landblock

import (
	"time"

	"github.com/l1jgo/landblock/internal/core/ecs"
)

type queueEntry struct {
	e   Entity
	seq uint64
}

// EventQueue keeps entities ordered by ascending next fire time for one event
// class. Fire times are read live from the entities; ties keep insertion order.
// Owned by a single landblock and only touched through its Cell.
type EventQueue struct {
	class   EventClass
	entries []queueEntry
	members map[ecs.EntityID]struct{}
	seq     uint64
}

func newEventQueue(class EventClass) *EventQueue {
	return &EventQueue{
		class:   class,
		entries: make([]queueEntry, 0, 32),
		members: make(map[ecs.EntityID]struct{}, 32),
	}
}

func (q *EventQueue) Class() EventClass { return q.class }
func (q *EventQueue) Len() int          { return len(q.entries) }

func (q *EventQueue) Contains(id ecs.EntityID) bool {
	_, ok := q.members[id]
	return ok
}

// Peek returns the head entity without removing it.
func (q *EventQueue) Peek() (Entity, bool) {
	if len(q.entries) == 0 {
		return nil, false
	}
	return q.entries[0].e, true
}

// Insert places e by its current fire time. Entities firing Never and
// entities already queued are not inserted.
func (q *EventQueue) Insert(e Entity) bool {
	id := e.GUID()
	if _, ok := q.members[id]; ok {
		return false
	}
	fire := e.NextFire(q.class)
	if fire.IsZero() {
		return false
	}
	q.seq++
	ent := queueEntry{e: e, seq: q.seq}

	// Most classes reschedule on a fixed interval, so the new entry usually
	// belongs at the tail.
	i := len(q.entries)
	for i > 0 && q.entries[i-1].e.NextFire(q.class).After(fire) {
		i--
	}
	q.entries = append(q.entries, queueEntry{})
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = ent
	q.members[id] = struct{}{}
	return true
}

func (q *EventQueue) Remove(id ecs.EntityID) bool {
	if _, ok := q.members[id]; !ok {
		return false
	}
	delete(q.members, id)
	for i := range q.entries {
		if q.entries[i].e.GUID() == id {
			copy(q.entries[i:], q.entries[i+1:])
			q.entries[len(q.entries)-1] = queueEntry{}
			q.entries = q.entries[:len(q.entries)-1]
			return true
		}
	}
	return true
}

// Resort re-reads e's fire time after an external change to its interval.
func (q *EventQueue) Resort(e Entity) bool {
	q.Remove(e.GUID())
	return q.Insert(e)
}

// DrainReady pops every entry whose fire time is at or before now, in order,
// calls fn on it and re-inserts it at its new fire time once the drain is
// over. Each entity fires at most once per call, so an entity that
// reschedules into the past waits for the next drain. Entries inserted while
// draining are held back the same way.
func (q *EventQueue) DrainReady(now time.Time, fn func(Entity)) int {
	last := q.seq
	var done []Entity
	fired := 0
	for len(q.entries) > 0 {
		head := q.entries[0]
		fire := head.e.NextFire(q.class)
		if !fire.IsZero() && fire.After(now) {
			break
		}
		q.popFront()
		if fire.IsZero() {
			continue
		}
		if head.seq > last {
			done = append(done, head.e)
			continue
		}
		fn(head.e)
		fired++
		done = append(done, head.e)
	}
	for _, e := range done {
		q.Insert(e)
	}
	return fired
}

// Sorted reports whether every adjacent pair is in non-decreasing fire order.
func (q *EventQueue) Sorted() bool {
	for i := 1; i < len(q.entries); i++ {
		if q.entries[i-1].e.NextFire(q.class).After(q.entries[i].e.NextFire(q.class)) {
			return false
		}
	}
	return true
}

// Each visits the queued entities in fire order.
func (q *EventQueue) Each(fn func(Entity)) {
	for _, ent := range q.entries {
		fn(ent.e)
	}
}

func (q *EventQueue) popFront() {
	delete(q.members, q.entries[0].e.GUID())
	q.entries[0] = queueEntry{}
	q.entries = q.entries[1:]
	if len(q.entries) == 0 {
		q.entries = q.entries[:0:0]
	}
}

func (q *EventQueue) clear() {
	clear(q.entries)
	q.entries = q.entries[:0]
	clear(q.members)
}
