package landblock

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/l1jgo/landblock/internal/core/ecs"
)

// EventClass selects one of the four per-landblock event queues.
type EventClass uint8

const (
	Heartbeat EventClass = iota
	AITick
	GeneratorUpdate
	GeneratorRegen

	numClasses
)

func (c EventClass) String() string {
	switch c {
	case Heartbeat:
		return "heartbeat"
	case AITick:
		return "ai_tick"
	case GeneratorUpdate:
		return "generator_update"
	case GeneratorRegen:
		return "generator_regen"
	}
	return "unknown"
}

// Never is the fire time of an event class an entity does not take part in.
var Never = time.Time{}

// Entity is a live simulated object. The landblock drives it but does not
// implement any of its behaviour.
type Entity interface {
	GUID() ecs.EntityID
	Location() Location
	SetLocation(loc Location)

	// Attach / Detach record which landblock currently holds the entity.
	Attach(id ID)
	Detach()
	CurrentLandblock() (ID, bool)

	// NextFire is read live on every queue comparison. Never excludes the
	// entity from that queue.
	NextFire(class EventClass) time.Time
	Invoke(class EventClass, now time.Time, c *Cell)

	Decayable() bool
	// Decay advances the decay timer and reports whether the entity expired.
	Decay(elapsed time.Duration) bool

	Dirty() bool
	Persist() Record
}

// Transient entities (projectiles) are destroyed when their landblock goes
// dormant.
type Transient interface {
	IsTransient() bool
}

// KeepAlive entities stop their landblock from going dormant or unloading.
type KeepAlive interface {
	KeepsAlive() bool
}

// Player entities are ticked in the single-threaded phase.
type Player interface {
	Entity
	TickPlayer(now time.Time, c *Cell)
}

// Spawned entities know which generator created them.
type Spawned interface {
	GeneratorID() (ecs.EntityID, bool)
}

// SpawnTracker is a generator that accounts for its children.
type SpawnTracker interface {
	NotifySpawnFailed(child ecs.EntityID)
}

// Corpse entities are capped per owner in each landblock.
type Corpse interface {
	CorpseOwner() ecs.EntityID
	CreatedAt() time.Time
	ExpireNow(now time.Time)
}

// Pickupable entities carry a "do not decay" hold while somebody owns them.
type Pickupable interface {
	ClearDecayHold()
}

// EnvironmentAware entities inherit the landblock's ambient condition.
type EnvironmentAware interface {
	SetEnvironment(env Environment)
}

// Mover entities have a velocity the physics gateway integrates.
type Mover interface {
	Velocity() mgl64.Vec3
}

// Environment is the ambient visual condition of a landblock.
type Environment uint8

const (
	EnvClear Environment = iota
	EnvFog
	EnvRain
	EnvStorm
)

func (e Environment) String() string {
	switch e {
	case EnvClear:
		return "clear"
	case EnvFog:
		return "fog"
	case EnvRain:
		return "rain"
	case EnvStorm:
		return "storm"
	}
	return "unknown"
}

// Record is the persisted form of an entity.
type Record struct {
	GUID      ecs.EntityID
	Kind      string
	Template  int32
	Landblock ID
	Position  mgl64.Vec3
	Heading   float64
	State     []byte
}

// Physics is the placement and movement gateway.
type Physics interface {
	Place(lb ID, e Entity) bool
	// ResolvePosition moves e and reports whether it left its landblock.
	// The entity's Location already names the new landblock when it did.
	ResolvePosition(e Entity, now time.Time) bool
	// Release frees the slot e holds in lb, if any.
	Release(lb ID, e Entity)
}

// Stored entities have a persisted row that must go when they are destroyed.
type Stored interface {
	Stored() bool
}

// Saver accepts batches of records to write off the tick goroutine.
type Saver interface {
	Submit(lb ID, records []Record)
	Delete(lb ID, guids []ecs.EntityID)
}

// Unloader receives landblocks that have been idle past the unload threshold.
type Unloader interface {
	EnqueueDestroy(id ID)
}
