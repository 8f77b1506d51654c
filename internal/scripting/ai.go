package scripting

import (
	"context"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// AIContext holds pre-packed data for a creature AI decision.
type AIContext struct {
	GUID        uint64
	Template    int
	Landblock   uint16
	X, Y, Z     float64 // landblock-local
	HomeX       float64
	HomeY       float64
	Wander      float64 // max distance from home
	HP, MaxHP   int
	Aggressive  bool
	Environment string
	Nearby      int // objects sharing the landblock
}

// AICommand is the action returned by Lua AI.
type AICommand struct {
	Type  string  // "idle", "move", "home"
	DirX  float64 // unit direction for "move"
	DirY  float64
	Speed float64 // units per second
	Next  float64 // seconds until the next decision; 0 = template default
}

// Idle is returned whenever the script cannot be consulted.
var Idle = AICommand{Type: "idle"}

// RunAI calls Lua creature_ai(ctx) on a pooled engine.
func (p *Pool) RunAI(ctx AIContext) AICommand {
	e, err := p.Acquire(context.Background())
	if err != nil {
		return Idle
	}
	defer p.Release(e)
	return e.RunAI(ctx)
}

// RunAI calls Lua creature_ai(ctx) and parses the returned command table.
func (e *Engine) RunAI(ctx AIContext) AICommand {
	fn := e.vm.GetGlobal("creature_ai")
	if fn == lua.LNil {
		return Idle
	}

	// Build context table
	t := e.vm.NewTable()
	t.RawSetString("guid", lua.LNumber(ctx.GUID))
	t.RawSetString("template", lua.LNumber(ctx.Template))
	t.RawSetString("landblock", lua.LNumber(ctx.Landblock))
	t.RawSetString("x", lua.LNumber(ctx.X))
	t.RawSetString("y", lua.LNumber(ctx.Y))
	t.RawSetString("z", lua.LNumber(ctx.Z))
	t.RawSetString("home_x", lua.LNumber(ctx.HomeX))
	t.RawSetString("home_y", lua.LNumber(ctx.HomeY))
	t.RawSetString("wander", lua.LNumber(ctx.Wander))
	t.RawSetString("hp", lua.LNumber(ctx.HP))
	t.RawSetString("max_hp", lua.LNumber(ctx.MaxHP))
	t.RawSetString("aggressive", lua.LBool(ctx.Aggressive))
	t.RawSetString("environment", lua.LString(ctx.Environment))
	t.RawSetString("nearby", lua.LNumber(ctx.Nearby))

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, t); err != nil {
		e.log.Error("lua creature_ai error", zap.Error(err), zap.Uint64("guid", ctx.GUID))
		return Idle
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	rt, ok := result.(*lua.LTable)
	if !ok {
		return Idle
	}
	cmd := AICommand{
		Type:  lStr(rt, "type"),
		DirX:  lFloat(rt, "dx"),
		DirY:  lFloat(rt, "dy"),
		Speed: lFloat(rt, "speed"),
		Next:  lFloat(rt, "next"),
	}
	if cmd.Type == "" {
		cmd.Type = "idle"
	}
	return cmd
}

// lStr reads a string field from a Lua table.
func lStr(t *lua.LTable, key string) string {
	return lua.LVAsString(t.RawGetString(key))
}

// lFloat reads a number field from a Lua table.
func lFloat(t *lua.LTable, key string) float64 {
	return float64(lua.LVAsNumber(t.RawGetString(key)))
}
