package entity

import (
	"encoding/json"
	"time"

	"github.com/l1jgo/landblock/internal/core/ecs"
	"github.com/l1jgo/landblock/internal/landblock"
)

const numClasses = landblock.GeneratorRegen + 1

// Object carries the state every world object shares. Concrete kinds embed
// it and override Invoke and the optional capability methods.
//
// An Object is only touched by the goroutine ticking its landblock, so it
// holds no locks.
type Object struct {
	guid     ecs.EntityID
	kind     string
	template int32
	loc      landblock.Location

	lb       landblock.ID
	attached bool

	fire [numClasses]time.Time

	persistent bool // written to world_objects at all
	dirty      bool
	stored     bool // a row exists
	env        landblock.Environment

	generator ecs.EntityID
}

func newObject(guid ecs.EntityID, kind string, template int32, loc landblock.Location) Object {
	return Object{guid: guid, kind: kind, template: template, loc: loc, persistent: true, dirty: true}
}

func (o *Object) GUID() ecs.EntityID                 { return o.guid }
func (o *Object) Kind() string                       { return o.kind }
func (o *Object) Template() int32                    { return o.template }
func (o *Object) Location() landblock.Location       { return o.loc }
func (o *Object) Environment() landblock.Environment { return o.env }

func (o *Object) SetLocation(loc landblock.Location) {
	if loc != o.loc {
		o.loc = loc
		o.dirty = true
	}
}

func (o *Object) Attach(id landblock.ID) {
	o.lb = id
	o.attached = true
}

func (o *Object) Detach() { o.attached = false }

func (o *Object) CurrentLandblock() (landblock.ID, bool) { return o.lb, o.attached }

func (o *Object) NextFire(class landblock.EventClass) time.Time {
	if class >= numClasses {
		return landblock.Never
	}
	return o.fire[class]
}

// schedule sets the next fire time of class. Callers already inside the
// queue's drain need nothing else; anyone else must Resort.
func (o *Object) schedule(class landblock.EventClass, at time.Time) {
	o.fire[class] = at
}

func (o *Object) Invoke(landblock.EventClass, time.Time, *landblock.Cell) {}

func (o *Object) Decayable() bool                          { return false }
func (o *Object) Decay(time.Duration) bool                 { return false }
func (o *Object) SetEnvironment(env landblock.Environment) { o.env = env }

func (o *Object) Dirty() bool  { return o.persistent && o.dirty }
func (o *Object) Stored() bool { return o.stored }

// MarkDirty queues the object for the next periodic save.
func (o *Object) MarkDirty() { o.dirty = true }

// record builds the persisted form around a kind-specific state value.
func (o *Object) record(state any) landblock.Record {
	var blob []byte
	if state != nil {
		blob, _ = json.Marshal(state)
	}
	o.dirty = false
	o.stored = o.persistent
	return landblock.Record{
		GUID:      o.guid,
		Kind:      o.kind,
		Template:  o.template,
		Landblock: o.loc.Landblock,
		Position:  o.loc.Position,
		Heading:   o.loc.Heading,
		State:     blob,
	}
}

func (o *Object) Persist() landblock.Record { return o.record(nil) }

// restored marks an object loaded from storage as clean and already stored.
func (o *Object) restored() {
	o.dirty = false
	o.stored = true
}

// GeneratorID names the generator that spawned the object, if any.
func (o *Object) GeneratorID() (ecs.EntityID, bool) {
	return o.generator, o.generator != 0
}

func (o *Object) spawnedBy(generator ecs.EntityID) {
	o.generator = generator
	o.persistent = false
	o.dirty = false
}
