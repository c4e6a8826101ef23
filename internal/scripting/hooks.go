package scripting

import lua "github.com/yuin/gopher-lua"

// Cast is the action an NPC picks for its combat phase.
type Cast uint8

const (
	CastNone Cast = iota
	CastMelee
	CastRanged
	CastHeal
)

func (c Cast) String() string {
	switch c {
	case CastNone:
		return "none"
	case CastMelee:
		return "melee"
	case CastRanged:
		return "ranged"
	case CastHeal:
		return "heal"
	}
	return "unknown"
}

// ParseCast maps the script spelling to a Cast. ok is false for anything
// unknown.
func ParseCast(s string) (Cast, bool) {
	switch s {
	case "none":
		return CastNone, true
	case "melee":
		return CastMelee, true
	case "ranged":
		return CastRanged, true
	case "heal":
		return CastHeal, true
	}
	return CastNone, false
}

// BehaviourContext is what npc_behaviour sees.
type BehaviourContext struct {
	Mode     string
	HP       int32
	MaxHP    int32
	Distance int64
	Range    int32
	TargetHP int32
}

// DamageContext is what calc_damage sees.
type DamageContext struct {
	AttackerLevel  int32
	AttackerDamage int32
	TargetLevel    int32
	TargetDefense  int32
	Ranged         bool
}

// NpcBehaviour asks npc_behaviour(ctx) which cast to use. ok is false when
// the hook is missing, fails or returns an unknown cast.
func (e *Engine) NpcBehaviour(ctx BehaviourContext) (Cast, bool) {
	t := e.vm.NewTable()
	t.RawSetString("mode", lua.LString(ctx.Mode))
	t.RawSetString("hp", lua.LNumber(ctx.HP))
	t.RawSetString("max_hp", lua.LNumber(ctx.MaxHP))
	t.RawSetString("distance", lua.LNumber(ctx.Distance))
	t.RawSetString("range", lua.LNumber(ctx.Range))
	t.RawSetString("target_hp", lua.LNumber(ctx.TargetHP))

	ret, ok := e.call("npc_behaviour", t)
	if !ok {
		return CastNone, false
	}
	s, isStr := ret.(lua.LString)
	if !isStr {
		e.log.Warn("npc_behaviour 回傳非字串")
		return CastNone, false
	}
	return ParseCast(string(s))
}

// CalcDamage asks calc_damage(ctx) for the damage of one hit. ok is false
// when the hook is missing or fails.
func (e *Engine) CalcDamage(ctx DamageContext) (int32, bool) {
	t := e.vm.NewTable()
	atk := e.vm.NewTable()
	atk.RawSetString("level", lua.LNumber(ctx.AttackerLevel))
	atk.RawSetString("damage", lua.LNumber(ctx.AttackerDamage))
	t.RawSetString("attacker", atk)

	tgt := e.vm.NewTable()
	tgt.RawSetString("level", lua.LNumber(ctx.TargetLevel))
	tgt.RawSetString("defense", lua.LNumber(ctx.TargetDefense))
	t.RawSetString("target", tgt)
	t.RawSetString("ranged", lua.LBool(ctx.Ranged))

	ret, ok := e.call("calc_damage", t)
	if !ok {
		return 0, false
	}
	n, isNum := ret.(lua.LNumber)
	if !isNum {
		return 0, false
	}
	if n < 0 {
		n = 0
	}
	return int32(n), true
}
