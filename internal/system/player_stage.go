package system

import (
	"time"

	"github.com/l1jgo/worldmesh/internal/world"
)

// playerEnv is everything a player phase may look at or change. The map
// actor implements it for the entities it owns.
type playerEnv interface {
	now() time.Time
	mapSize() (width, height int32)
	spatial(k world.GlobalKey) (world.Spatial, error)
	alive(k world.GlobalKey) bool
	walkable(p world.Position) bool

	// moveReady consumes the move cooldown when it has elapsed.
	moveReady(k world.GlobalKey) bool
	// place makes pos authoritative and announces it. pos is on this map.
	place(k world.GlobalKey, pos world.Position, dir world.Dir)
	face(k world.GlobalKey, dir world.Dir)
	correct(k world.GlobalKey)

	selectTarget(k, target world.GlobalKey) bool
	clearTarget(k world.GlobalKey)
	targetOf(k world.GlobalKey) world.GlobalKey
	facing(k world.GlobalKey) world.GlobalKey
	strike(k, target world.GlobalKey) bool

	warpAt(p world.Position) (world.Position, bool)
	showSign(k world.GlobalKey, p world.Position)
}

// playerStageMap is the map whose actor must run s. current is the map the
// entity is on now.
func playerStageMap(s PlayerStage, current world.MapPosition) world.MapPosition {
	switch {
	case s.Kind == PlayerNone:
		return s.Resume.Map
	case s.Kind == PlayerMovement && s.Move.Sub == MoveFinish:
		return s.Move.To.Map
	}
	return current
}

// relocates reports whether running s moves the entity onto another map's
// authority, so the sender must forget it.
func relocates(s PlayerStage) bool {
	return s.Kind == PlayerNone || (s.Kind == PlayerMovement && s.Move.Sub == MoveFinish)
}

// nextPlayerStage runs one phase of s and returns the stage that follows.
// PlayerContinue ends the pipeline.
func nextPlayerStage(env playerEnv, s PlayerStage) (PlayerStage, error) {
	done := PlayerStage{Kind: PlayerContinue, Key: s.Key}

	switch s.Kind {
	case PlayerNone:
		dir := world.DirDown
		if sp, err := env.spatial(s.Key); err == nil {
			dir = sp.Dir
		}
		env.place(s.Key, s.Resume, dir)
		return done, nil

	case PlayerTargeting:
		if s.Flag == TargetClear {
			env.clearTarget(s.Key)
			return done, nil
		}
		if !env.selectTarget(s.Key, s.Target) {
			return done, nil
		}
		if s.Flag == TargetAttack {
			return PlayerStage{Kind: PlayerCombat, Key: s.Key, Target: s.Target}, nil
		}
		return done, nil

	case PlayerCombat:
		if !env.alive(s.Key) {
			return done, nil
		}
		target := s.Target
		if target.IsZero() {
			target = env.targetOf(s.Key)
		}
		if target.IsZero() {
			target = env.facing(s.Key)
		}
		if !target.IsZero() {
			env.strike(s.Key, target)
		}
		return done, nil

	case PlayerMovement:
		return nextMovement(env, s)
	}
	return done, nil
}

func nextMovement(env playerEnv, s PlayerStage) (PlayerStage, error) {
	done := PlayerStage{Kind: PlayerContinue, Key: s.Key}
	if !env.alive(s.Key) {
		env.correct(s.Key)
		return done, nil
	}

	switch s.Move.Sub {
	case MoveStart:
		sp, err := env.spatial(s.Key)
		if err != nil {
			return done, err
		}
		if !s.Move.Dir.Valid() {
			env.correct(s.Key)
			return done, nil
		}
		if !env.moveReady(s.Key) {
			env.correct(s.Key)
			return done, nil
		}
		w, h := env.mapSize()
		to := world.Step(sp.Pos, s.Move.Dir, w, h)
		if !env.walkable(to) {
			env.face(s.Key, s.Move.Dir)
			env.correct(s.Key)
			return done, nil
		}
		return PlayerStage{
			Kind: PlayerMovement,
			Key:  s.Key,
			Move: Movement{Sub: MoveFinish, Dir: s.Move.Dir, To: to},
		}, nil

	case MoveFinish:
		env.place(s.Key, s.Move.To, s.Move.Dir)
		if dest, ok := env.warpAt(s.Move.To); ok {
			return PlayerStage{Kind: PlayerNone, Key: s.Key, Resume: dest}, nil
		}
		env.showSign(s.Key, s.Move.To)
		return done, nil
	}
	return done, nil
}
