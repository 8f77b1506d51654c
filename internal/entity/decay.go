package entity

import (
	"encoding/json"
	"time"

	"github.com/l1jgo/landblock/internal/core/ecs"
	"github.com/l1jgo/landblock/internal/data"
	"github.com/l1jgo/landblock/internal/landblock"
)

// Item is a loose object lying in the world. It rots unless somebody holds
// it; picking it up and dropping it again clears the hold.
type Item struct {
	Object
	tpl  *data.ObjectTemplate
	left time.Duration
	hold bool
}

type decayState struct {
	Left  int64        `json:"left_ms"`
	Hold  bool         `json:"hold,omitempty"`
	Owner ecs.EntityID `json:"owner,omitempty"`
	Name  string       `json:"name,omitempty"`
	Born  int64        `json:"born,omitempty"`
}

func newItem(guid ecs.EntityID, tpl *data.ObjectTemplate, loc landblock.Location, now time.Time) *Item {
	return &Item{
		Object: newObject(guid, tpl.Kind, tpl.ID, loc),
		tpl:    tpl,
		left:   tpl.DecayAfter(),
	}
}

// Hold stops the item from decaying, as while it sits in an inventory.
func (i *Item) Hold() {
	i.hold = true
	i.dirty = true
}

func (i *Item) Held() bool               { return i.hold }
func (i *Item) Remaining() time.Duration { return i.left }

func (i *Item) ClearDecayHold() {
	if i.hold {
		i.hold = false
		i.left = i.tpl.DecayAfter()
		i.dirty = true
	}
}

func (i *Item) Decayable() bool { return !i.hold && i.tpl.Decay > 0 }

func (i *Item) Decay(elapsed time.Duration) bool {
	i.left -= elapsed
	i.dirty = true
	return i.left <= 0
}

func (i *Item) Persist() landblock.Record {
	return i.record(decayState{Left: i.left.Milliseconds(), Hold: i.hold})
}

func (i *Item) restore(state []byte) error {
	var s decayState
	if err := json.Unmarshal(state, &s); err != nil {
		return err
	}
	i.left = time.Duration(s.Left) * time.Millisecond
	i.hold = s.Hold
	return nil
}

// Corpse is what a death leaves behind. Corpses rot on the landblock
// heartbeat and are capped per owner in each landblock.
type Corpse struct {
	Object
	tpl     *data.ObjectTemplate
	owner   ecs.EntityID
	name    string
	created time.Time
	left    time.Duration
}

func newCorpse(guid ecs.EntityID, tpl *data.ObjectTemplate, loc landblock.Location, now time.Time) *Corpse {
	c := &Corpse{
		Object:  newObject(guid, tpl.Kind, tpl.ID, loc),
		tpl:     tpl,
		created: now,
		left:    tpl.DecayAfter(),
	}
	c.schedule(landblock.Heartbeat, after(now, tpl.HeartbeatEvery()))
	return c
}

func (c *Corpse) CorpseOwner() ecs.EntityID { return c.owner }
func (c *Corpse) CreatedAt() time.Time      { return c.created }
func (c *Corpse) Name() string              { return c.name }
func (c *Corpse) Expired() bool             { return c.left <= 0 }

// ExpireNow makes the corpse rot at its next heartbeat.
func (c *Corpse) ExpireNow(now time.Time) {
	c.left = 0
	c.schedule(landblock.Heartbeat, now)
}

func (c *Corpse) Decayable() bool { return true }

func (c *Corpse) Decay(elapsed time.Duration) bool {
	c.left -= elapsed
	c.dirty = true
	return c.left <= 0
}

func (c *Corpse) Invoke(class landblock.EventClass, now time.Time, cell *landblock.Cell) {
	if class != landblock.Heartbeat {
		return
	}
	if c.left <= 0 {
		cell.Retire(c.guid, false, false)
		c.schedule(landblock.Heartbeat, landblock.Never)
		return
	}
	c.schedule(landblock.Heartbeat, after(now, c.tpl.HeartbeatEvery()))
}

func (c *Corpse) Persist() landblock.Record {
	return c.record(decayState{
		Left:  c.left.Milliseconds(),
		Owner: c.owner,
		Name:  c.name,
		Born:  c.created.UnixMilli(),
	})
}

func (c *Corpse) restore(state []byte) error {
	var s decayState
	if err := json.Unmarshal(state, &s); err != nil {
		return err
	}
	c.left = time.Duration(s.Left) * time.Millisecond
	c.owner = s.Owner
	c.name = s.Name
	if s.Born != 0 {
		c.created = time.UnixMilli(s.Born)
	}
	return nil
}
