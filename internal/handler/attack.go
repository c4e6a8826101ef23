package handler

import (
	"github.com/l1jgo/worldmesh/internal/net"
	"github.com/l1jgo/worldmesh/internal/net/packet"
	"github.com/l1jgo/worldmesh/internal/system"
	"github.com/l1jgo/worldmesh/internal/world"
)

// HandleAttack swings at Target, or at whatever stands in front of the
// player when Target is 0.
func HandleAttack(sess *net.Session, cmd packet.Attack, deps *Deps) {
	k, ok := player(sess, deps)
	if !ok {
		return
	}
	turn(sess, deps, k, world.Dir(cmd.Dir))

	target := world.GlobalKey(cmd.Target)
	if target.IsZero() {
		act(sess, deps, system.PlayerStage{Kind: system.PlayerCombat, Key: k})
		return
	}
	act(sess, deps, system.PlayerStage{
		Kind:   system.PlayerTargeting,
		Key:    k,
		Flag:   system.TargetAttack,
		Target: target,
	})
}

// HandleSetTarget selects Target, or clears the selection when it is 0.
func HandleSetTarget(sess *net.Session, cmd packet.SetTarget, deps *Deps) {
	k, ok := player(sess, deps)
	if !ok {
		return
	}
	s := system.PlayerStage{Kind: system.PlayerTargeting, Key: k, Flag: system.TargetSelect, Target: world.GlobalKey(cmd.Target)}
	if s.Target.IsZero() {
		s.Flag = system.TargetClear
	}
	act(sess, deps, s)
}
