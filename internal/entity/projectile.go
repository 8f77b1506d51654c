package entity

import (
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/l1jgo/landblock/internal/core/ecs"
	"github.com/l1jgo/landblock/internal/data"
	"github.com/l1jgo/landblock/internal/landblock"
)

// Projectile flies in a straight line until its lifetime runs out. It is
// never stored and does not survive its landblock going dormant.
type Projectile struct {
	Object
	tpl     *data.ObjectTemplate
	vel     mgl64.Vec3
	expires time.Time
}

func newProjectile(guid ecs.EntityID, tpl *data.ObjectTemplate, loc landblock.Location, now time.Time) *Projectile {
	p := &Projectile{
		Object:  newObject(guid, tpl.Kind, tpl.ID, loc),
		tpl:     tpl,
		expires: after(now, tpl.Lifetime()),
	}
	p.persistent = false
	p.dirty = false
	rad := mgl64.DegToRad(loc.Heading)
	p.vel = mgl64.Vec3{mgl64.Round(math.Cos(rad), 9), mgl64.Round(math.Sin(rad), 9), 0}.Mul(tpl.Speed)
	p.schedule(landblock.Heartbeat, p.expires)
	return p
}

func (p *Projectile) IsTransient() bool        { return true }
func (p *Projectile) Velocity() mgl64.Vec3     { return p.vel }
func (p *Projectile) SetVelocity(v mgl64.Vec3) { p.vel = v }
func (p *Projectile) Expires() time.Time       { return p.expires }

func (p *Projectile) Invoke(class landblock.EventClass, now time.Time, cell *landblock.Cell) {
	if class != landblock.Heartbeat {
		return
	}
	if p.expires.IsZero() || now.Before(p.expires) {
		p.schedule(landblock.Heartbeat, p.expires)
		return
	}
	p.schedule(landblock.Heartbeat, landblock.Never)
	cell.Retire(p.guid, false, false)
}
