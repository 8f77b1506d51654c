package entity

import (
	"encoding/json"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/l1jgo/landblock/internal/core/ecs"
	"github.com/l1jgo/landblock/internal/data"
	"github.com/l1jgo/landblock/internal/landblock"
	"github.com/l1jgo/landblock/internal/scripting"
	"go.uber.org/zap"
)

// Creature is a monster driven by Lua AI. It wanders around its home point
// and drifts across landblock borders like any other mover.
type Creature struct {
	Object
	f   *Factory
	tpl *data.ObjectTemplate

	hp   int
	home mgl64.Vec3 // world coordinates
	vel  mgl64.Vec3
	dead bool
}

type creatureState struct {
	HP   int        `json:"hp"`
	Home [3]float64 `json:"home"`
}

func newCreature(f *Factory, guid ecs.EntityID, tpl *data.ObjectTemplate, loc landblock.Location, now time.Time) *Creature {
	c := &Creature{
		Object: newObject(guid, tpl.Kind, tpl.ID, loc),
		f:      f,
		tpl:    tpl,
		hp:     tpl.HP,
		home:   loc.Global(),
	}
	c.schedule(landblock.AITick, after(now, tpl.AIEvery()))
	c.schedule(landblock.Heartbeat, after(now, tpl.HeartbeatEvery()))
	return c
}

func (c *Creature) Name() string             { return c.tpl.Name }
func (c *Creature) HP() int                  { return c.hp }
func (c *Creature) Home() mgl64.Vec3         { return c.home }
func (c *Creature) Dead() bool               { return c.dead }
func (c *Creature) Velocity() mgl64.Vec3     { return c.vel }
func (c *Creature) SetVelocity(v mgl64.Vec3) { c.vel = v }

func (c *Creature) Invoke(class landblock.EventClass, now time.Time, cell *landblock.Cell) {
	switch class {
	case landblock.AITick:
		c.think(now, cell)
	case landblock.Heartbeat:
		c.regen(now)
	}
}

func (c *Creature) think(now time.Time, cell *landblock.Cell) {
	cmd := scripting.Idle
	if c.f.env.AI != nil {
		pos := c.loc.Global()
		cmd = c.f.env.AI.RunAI(scripting.AIContext{
			GUID:        uint64(c.guid),
			Template:    int(c.template),
			Landblock:   uint16(c.loc.Landblock),
			X:           pos[0],
			Y:           pos[1],
			Z:           pos[2],
			HomeX:       c.home[0],
			HomeY:       c.home[1],
			Wander:      c.tpl.Wander,
			HP:          c.hp,
			MaxHP:       c.tpl.HP,
			Aggressive:  c.tpl.Aggressive,
			Environment: c.env.String(),
			Nearby:      cell.Landblock().Len(),
		})
	}

	switch cmd.Type {
	case "move", "home":
		c.vel = mgl64.Vec3{cmd.DirX, cmd.DirY, 0}.Mul(cmd.Speed)
	default:
		c.vel = mgl64.Vec3{}
	}

	next := c.tpl.AIEvery()
	if cmd.Next > 0 {
		next = seconds(cmd.Next)
	}
	if next <= 0 {
		next = time.Second
	}
	c.schedule(landblock.AITick, now.Add(next))
}

func (c *Creature) regen(now time.Time) {
	if c.hp < c.tpl.HP {
		c.hp++
		c.dirty = true
	}
	c.schedule(landblock.Heartbeat, after(now, c.tpl.HeartbeatEvery()))
}

// Damage lowers HP and kills the creature when it reaches zero. killer owns
// the corpse. Reports whether the creature died.
func (c *Creature) Damage(amount int, killer ecs.EntityID, cell *landblock.Cell) bool {
	if c.dead || amount <= 0 {
		return false
	}
	c.hp -= amount
	c.dirty = true
	if c.hp > 0 {
		return false
	}
	c.hp = 0
	c.Kill(killer, cell)
	return true
}

// Kill leaves a corpse where the creature stands and retires it.
func (c *Creature) Kill(killer ecs.EntityID, cell *landblock.Cell) {
	if c.dead {
		return
	}
	c.dead = true
	c.vel = mgl64.Vec3{}
	now := cell.Now()
	corpse, err := c.f.NewCorpse(killer, c.tpl.Name, c.loc, now)
	if err != nil {
		c.f.log.Warn("creature died without corpse", zap.Uint64("guid", uint64(c.guid)), zap.Error(err))
	} else if !cell.Admit(corpse) {
		c.f.env.IDs.Destroy(corpse.GUID())
	}
	cell.Retire(c.guid, false, false)
}

func (c *Creature) Persist() landblock.Record {
	return c.record(creatureState{HP: c.hp, Home: c.home})
}

func (c *Creature) restore(state []byte) error {
	var s creatureState
	if err := json.Unmarshal(state, &s); err != nil {
		return err
	}
	c.hp = s.HP
	c.home = s.Home
	return nil
}
