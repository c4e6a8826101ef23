package system

import (
	"fmt"
	"time"

	"github.com/l1jgo/worldmesh/internal/config"
	"github.com/l1jgo/worldmesh/internal/scripting"
	"github.com/l1jgo/worldmesh/internal/world"
)

// NpcStageKind tags an NpcStage. The first block is the targeting machine,
// the second the combat machine.
type NpcStageKind uint8

const (
	// NpcNone ends the chain.
	NpcNone NpcStageKind = iota
	NpcCheckTarget
	NpcDeTargetChance
	NpcCheckDistance
	NpcClearTarget
	NpcGetTargetMaps
	NpcGetTargetFromMaps
	NpcSetTarget
	NpcMoveToMovement
	NpcMovement

	NpcBehaviourCheck
	NpcCombat
)

func (k NpcStageKind) String() string {
	switch k {
	case NpcNone:
		return "None"
	case NpcCheckTarget:
		return "CheckTarget"
	case NpcDeTargetChance:
		return "NpcDeTargetChance"
	case NpcCheckDistance:
		return "CheckDistance"
	case NpcClearTarget:
		return "ClearTarget"
	case NpcGetTargetMaps:
		return "GetTargetMaps"
	case NpcGetTargetFromMaps:
		return "GetTargetFromMaps"
	case NpcSetTarget:
		return "SetTarget"
	case NpcMoveToMovement:
		return "MoveToMovement"
	case NpcMovement:
		return "Movement"
	case NpcBehaviourCheck:
		return "BehaviourCheck"
	case NpcCombat:
		return "CombatCheckTarget"
	}
	return fmt.Sprintf("NpcStageKind(%d)", uint8(k))
}

// NpcStage is one step of an NPC's AI chain. Everything the chain needs
// across ticks travels in the value.
type NpcStage struct {
	Kind      NpcStageKind        `msgpack:"k"`
	Key       world.GlobalKey     `msgpack:"key"`
	Target    world.GlobalKey     `msgpack:"t,omitempty"`
	TargetPos world.Position      `msgpack:"tp"`
	Maps      []world.MapPosition `msgpack:"maps,omitempty"`
	Mode      world.NpcMode       `msgpack:"mode"`
	Cast      scripting.Cast      `msgpack:"c"`
	Move      Movement            `msgpack:"mv"`
}

func (s NpcStage) String() string {
	return fmt.Sprintf("%s %s", s.Kind, s.Key)
}

// npcEnv is everything an NPC phase may look at or change.
type npcEnv interface {
	now() time.Time
	roll() float64
	ai() config.AIConfig
	mapSize() (width, height int32)

	spatial(k world.GlobalKey) (world.Spatial, error)
	currentTarget(k world.GlobalKey) world.Target
	// validTarget reports where target is if it can still be fought.
	validTarget(target world.GlobalKey) (world.Position, bool)
	targetExpired(k world.GlobalKey) bool
	mapExists(m world.MapPosition) bool
	// findTarget looks for a player on m within r tiles of from.
	findTarget(m world.MapPosition, from world.Position, r int32) (world.GlobalKey, world.Position, bool)

	setTarget(k, target world.GlobalKey, pos world.Position)
	clearTarget(k world.GlobalKey)
	classify(k, target world.GlobalKey) scripting.Cast
	// engage performs cast against target. It returns false when target is
	// out of reach for cast, so the NPC should close in.
	engage(k, target world.GlobalKey, cast scripting.Cast) bool
	randomDir() world.Dir
	walkable(p world.Position) bool
	stepNpc(k world.GlobalKey, to world.Position, dir world.Dir)
}

func aggressive(m world.NpcMode) bool {
	return m == world.ModeAggressive || m == world.ModeGuard
}

// nextNpcStage runs one phase of s and returns the stage that follows.
// NpcNone ends the chain.
func nextNpcStage(env npcEnv, s NpcStage) (NpcStage, error) {
	next := func(kind NpcStageKind) NpcStage {
		return NpcStage{Kind: kind, Key: s.Key, Mode: s.Mode}
	}
	cfg := env.ai()

	switch s.Kind {
	case NpcCheckTarget:
		t := env.currentTarget(s.Key)
		if t.Key.IsZero() {
			if aggressive(s.Mode) {
				return next(NpcGetTargetMaps), nil
			}
			return next(NpcMoveToMovement), nil
		}
		pos, ok := env.validTarget(t.Key)
		if !ok {
			return next(NpcClearTarget), nil
		}
		n := next(NpcDeTargetChance)
		n.Target, n.TargetPos = t.Key, pos
		return n, nil

	case NpcDeTargetChance:
		if env.roll() < cfg.DeTargetChance && env.targetExpired(s.Key) {
			return next(NpcClearTarget), nil
		}
		n := next(NpcCheckDistance)
		n.Target, n.TargetPos = s.Target, s.TargetPos
		return n, nil

	case NpcCheckDistance:
		sp, err := env.spatial(s.Key)
		if err != nil {
			return next(NpcNone), err
		}
		w, h := env.mapSize()
		d := world.Distance(sp.Pos, s.TargetPos, w, h)
		if d < 0 || d > int64(cfg.MaxTargetDistance) {
			return next(NpcClearTarget), nil
		}
		n := next(NpcBehaviourCheck)
		n.Target, n.TargetPos = s.Target, s.TargetPos
		return n, nil

	case NpcClearTarget:
		env.clearTarget(s.Key)
		if aggressive(s.Mode) {
			return next(NpcGetTargetMaps), nil
		}
		return next(NpcMoveToMovement), nil

	case NpcGetTargetMaps:
		sp, err := env.spatial(s.Key)
		if err != nil {
			return next(NpcNone), err
		}
		maps := []world.MapPosition{sp.Pos.Map}
		for _, m := range sp.Pos.Map.Surrounding() {
			if env.mapExists(m) {
				maps = append(maps, m)
			}
		}
		n := next(NpcGetTargetFromMaps)
		n.Maps = maps
		return n, nil

	case NpcGetTargetFromMaps:
		if len(s.Maps) == 0 {
			return next(NpcMoveToMovement), nil
		}
		sp, err := env.spatial(s.Key)
		if err != nil {
			return next(NpcNone), err
		}
		head, rest := s.Maps[0], s.Maps[1:]
		if target, pos, ok := env.findTarget(head, sp.Pos, cfg.SightRange); ok {
			n := next(NpcSetTarget)
			n.Target, n.TargetPos = target, pos
			return n, nil
		}
		if len(rest) == 0 {
			return next(NpcMoveToMovement), nil
		}
		n := next(NpcGetTargetFromMaps)
		n.Maps = append([]world.MapPosition(nil), rest...)
		return n, nil

	case NpcSetTarget:
		env.setTarget(s.Key, s.Target, s.TargetPos)
		n := next(NpcBehaviourCheck)
		n.Target, n.TargetPos = s.Target, s.TargetPos
		return n, nil

	case NpcBehaviourCheck:
		n := next(NpcCombat)
		n.Target, n.TargetPos = s.Target, s.TargetPos
		n.Cast = env.classify(s.Key, s.Target)
		return n, nil

	case NpcCombat:
		if s.Cast == scripting.CastNone {
			n := next(NpcMoveToMovement)
			n.Target, n.TargetPos = s.Target, s.TargetPos
			return n, nil
		}
		if env.engage(s.Key, s.Target, s.Cast) {
			return next(NpcNone), nil
		}
		n := next(NpcMoveToMovement)
		n.Target, n.TargetPos = s.Target, s.TargetPos
		return n, nil

	case NpcMoveToMovement:
		return moveToMovement(env, s)

	case NpcMovement:
		if s.Move.Sub != MoveStart {
			return next(NpcNone), nil
		}
		sp, err := env.spatial(s.Key)
		if err != nil {
			return next(NpcNone), err
		}
		w, h := env.mapSize()
		to := world.Step(sp.Pos, s.Move.Dir, w, h)
		// NPCs never leave the map they spawned on
		if to.Map != sp.Pos.Map || !env.walkable(to) {
			return next(NpcNone), nil
		}
		env.stepNpc(s.Key, to, s.Move.Dir)
		return next(NpcNone), nil
	}
	return next(NpcNone), nil
}

func moveToMovement(env npcEnv, s NpcStage) (NpcStage, error) {
	none := NpcStage{Kind: NpcNone, Key: s.Key, Mode: s.Mode}
	sp, err := env.spatial(s.Key)
	if err != nil {
		return none, err
	}

	var dir world.Dir
	switch {
	case !s.Target.IsZero():
		w, h := env.mapSize()
		if world.Distance(sp.Pos, s.TargetPos, w, h) <= 1 {
			return none, nil
		}
		dir = world.Toward(sp.Pos, s.TargetPos, w, h)
	case env.roll() < env.ai().WanderChance:
		dir = env.randomDir()
	default:
		return none, nil
	}
	return NpcStage{
		Kind:      NpcMovement,
		Key:       s.Key,
		Mode:      s.Mode,
		Target:    s.Target,
		TargetPos: s.TargetPos,
		Move:      Movement{Sub: MoveStart, Dir: dir},
	}, nil
}

// classifyFallback picks a cast when no npc_behaviour hook is loaded.
func classifyFallback(ctx scripting.BehaviourContext) scripting.Cast {
	switch {
	case ctx.Mode == world.ModeHealer.String():
		if ctx.HP*2 < ctx.MaxHP {
			return scripting.CastHeal
		}
		return scripting.CastNone
	case ctx.Distance >= 0 && ctx.Distance <= 1:
		return scripting.CastMelee
	case ctx.Range > 1 && ctx.Distance >= 0 && ctx.Distance <= int64(ctx.Range):
		return scripting.CastRanged
	}
	return scripting.CastNone
}
