package entity

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/l1jgo/landblock/internal/core/ecs"
	"github.com/l1jgo/landblock/internal/data"
	"github.com/l1jgo/landblock/internal/landblock"
	"go.uber.org/zap"
)

// Player is a connected character. Character data is saved by the account
// layer, so players never write world_objects rows.
type Player struct {
	Object
	f    *Factory
	name string
	vel  mgl64.Vec3

	ticks    uint64
	lastTick time.Time
	dead     bool
}

func newPlayer(f *Factory, guid ecs.EntityID, name string, loc landblock.Location) *Player {
	p := &Player{
		Object: newObject(guid, "player", 0, loc),
		f:      f,
		name:   name,
	}
	p.persistent = false
	p.dirty = false
	return p
}

func (p *Player) Name() string             { return p.name }
func (p *Player) Ticks() uint64            { return p.ticks }
func (p *Player) LastTick() time.Time      { return p.lastTick }
func (p *Player) Velocity() mgl64.Vec3     { return p.vel }
func (p *Player) SetVelocity(v mgl64.Vec3) { p.vel = v }

// TickPlayer runs once per tick while the player is in the world.
func (p *Player) TickPlayer(now time.Time, cell *landblock.Cell) {
	p.ticks++
	p.lastTick = now
	if p.dead {
		p.vel = mgl64.Vec3{}
	}
}

// Die leaves a corpse owned by the player. The player stays in the world.
func (p *Player) Die(cell *landblock.Cell) {
	if p.dead {
		return
	}
	p.dead = true
	corpse, err := p.f.NewCorpse(p.guid, p.name, p.loc, cell.Now())
	if err != nil {
		p.f.log.Warn("player died without corpse", zap.String("player", p.name), zap.Error(err))
		return
	}
	if !cell.Admit(corpse) {
		p.f.env.IDs.Destroy(corpse.GUID())
	}
}

// Revive brings a dead player back.
func (p *Player) Revive() { p.dead = false }

func (p *Player) Dead() bool { return p.dead }

// Anchor pins its landblock in memory, as a lifestone or a house does.
type Anchor struct {
	Object
}

func newAnchor(guid ecs.EntityID, tpl *data.ObjectTemplate, loc landblock.Location) *Anchor {
	return &Anchor{Object: newObject(guid, tpl.Kind, tpl.ID, loc)}
}

func (a *Anchor) KeepsAlive() bool { return true }
