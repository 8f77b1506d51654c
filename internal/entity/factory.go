package entity

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/l1jgo/landblock/internal/core/ecs"
	"github.com/l1jgo/landblock/internal/data"
	"github.com/l1jgo/landblock/internal/landblock"
	"github.com/l1jgo/landblock/internal/scripting"
	"go.uber.org/zap"
)

var (
	ErrUnknownTemplate = errors.New("unknown template")
	ErrKindMismatch    = errors.New("record kind does not match template")
	ErrNoCorpse        = errors.New("no corpse template loaded")
)

// AI decides what a creature does until its next AI tick. *scripting.Pool
// implements it.
type AI interface {
	RunAI(ctx scripting.AIContext) scripting.AICommand
}

// Env is what live objects need from the rest of the server.
type Env struct {
	Templates *data.TemplateTable
	IDs       *ecs.EntityPool
	// Directory answers whether a generator's child is still in the world.
	// Nil treats every child as alive.
	Directory *ecs.Directory[landblock.ID]
	AI        AI
	Seed      uint64 // generator placement randomness
	Log       *zap.Logger
}

// Factory builds world objects from templates and stored records.
type Factory struct {
	env Env
	log *zap.Logger
}

func NewFactory(env Env) *Factory {
	if env.IDs == nil {
		env.IDs = ecs.NewEntityPool()
	}
	if env.Log == nil {
		env.Log = zap.NewNop()
	}
	return &Factory{env: env, log: env.Log}
}

// IDs returns the GUID pool objects are allocated from.
func (f *Factory) IDs() *ecs.EntityPool { return f.env.IDs }

// Create builds a new object of the given template at loc with a fresh GUID.
func (f *Factory) Create(template int32, loc landblock.Location, now time.Time) (landblock.Entity, error) {
	tpl := f.env.Templates.Get(template)
	if tpl == nil {
		return nil, fmt.Errorf("%w %d", ErrUnknownTemplate, template)
	}
	return f.build(f.env.IDs.Create(), tpl, loc, now), nil
}

// Restore rebuilds an object from its stored record, keeping its GUID.
func (f *Factory) Restore(rec landblock.Record, now time.Time) (landblock.Entity, error) {
	tpl := f.env.Templates.Get(rec.Template)
	if tpl == nil {
		return nil, fmt.Errorf("object %d: %w %d", rec.GUID, ErrUnknownTemplate, rec.Template)
	}
	if rec.Kind != tpl.Kind {
		return nil, fmt.Errorf("object %d: %w: %q vs %q", rec.GUID, ErrKindMismatch, rec.Kind, tpl.Kind)
	}
	loc := landblock.Location{Landblock: rec.Landblock, Position: rec.Position, Heading: rec.Heading}
	e := f.build(rec.GUID, tpl, loc, now)
	if r, ok := e.(restorable); ok && len(rec.State) > 0 {
		if err := r.restore(rec.State); err != nil {
			return nil, fmt.Errorf("object %d: decode %s state: %w", rec.GUID, rec.Kind, err)
		}
	}
	e.(interface{ restored() }).restored()
	f.env.IDs.Reserve(rec.GUID)
	return e, nil
}

// NewCorpse builds the corpse left behind by a death. owner is who may loot
// it and whose corpses count against the per-landblock cap.
func (f *Factory) NewCorpse(owner ecs.EntityID, name string, loc landblock.Location, now time.Time) (*Corpse, error) {
	tpl := f.env.Templates.FirstOfKind(data.KindCorpse)
	if tpl == nil {
		return nil, ErrNoCorpse
	}
	c := newCorpse(f.env.IDs.Create(), tpl, loc, now)
	c.owner = owner
	c.name = name
	return c, nil
}

// NewPlayer builds a player character. Players are persisted elsewhere.
func (f *Factory) NewPlayer(name string, loc landblock.Location) *Player {
	return newPlayer(f, f.env.IDs.Create(), name, loc)
}

// spawn builds a child for a generator. Spawned objects are regenerated
// rather than stored.
func (f *Factory) spawn(template int32, loc landblock.Location, generator ecs.EntityID, now time.Time) (landblock.Entity, error) {
	e, err := f.Create(template, loc, now)
	if err != nil {
		return nil, err
	}
	if s, ok := e.(spawnable); ok {
		s.spawnedBy(generator)
	}
	return e, nil
}

func (f *Factory) build(guid ecs.EntityID, tpl *data.ObjectTemplate, loc landblock.Location, now time.Time) landblock.Entity {
	switch tpl.Kind {
	case data.KindCreature:
		return newCreature(f, guid, tpl, loc, now)
	case data.KindGenerator:
		return newGenerator(f, guid, tpl, loc, now)
	case data.KindItem:
		return newItem(guid, tpl, loc, now)
	case data.KindCorpse:
		return newCorpse(guid, tpl, loc, now)
	case data.KindProjectile:
		return newProjectile(guid, tpl, loc, now)
	case data.KindAnchor:
		return newAnchor(guid, tpl, loc)
	}
	// Templates are validated at load; an unknown kind is a plain object.
	o := newObject(guid, tpl.Kind, tpl.ID, loc)
	return &o
}

func (f *Factory) alive(id ecs.EntityID) bool {
	if f.env.Directory == nil {
		return true
	}
	_, ok := f.env.Directory.Get(id)
	return ok
}

func (f *Factory) rng(guid ecs.EntityID) *rand.Rand {
	return rand.New(rand.NewPCG(f.env.Seed, uint64(guid)))
}

type restorable interface {
	restore(state []byte) error
}

type spawnable interface {
	spawnedBy(generator ecs.EntityID)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// after returns now+d, or Never when d is not positive.
func after(now time.Time, d time.Duration) time.Time {
	if d <= 0 {
		return landblock.Never
	}
	return now.Add(d)
}
