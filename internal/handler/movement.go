package handler

import (
	"github.com/l1jgo/worldmesh/internal/net"
	"github.com/l1jgo/worldmesh/internal/net/packet"
	"github.com/l1jgo/worldmesh/internal/system"
	"github.com/l1jgo/worldmesh/internal/world"
	"go.uber.org/zap"
)

// HandleMove starts a one-tile step. The client sends the tile it believes
// it stands on; the step is always taken from the server's position and a
// drifted client is corrected first.
func HandleMove(sess *net.Session, cmd packet.Move, deps *Deps) {
	k, ok := player(sess, deps)
	if !ok {
		return
	}
	sp, ok := deps.Store.Spatial.Get(k)
	if !ok {
		return
	}
	dir := world.Dir(cmd.Dir)
	if !dir.Valid() {
		sess.Send(system.PosCorrection(sess.Endian(), sp))
		return
	}
	if sp.Pos.X != cmd.X || sp.Pos.Y != cmd.Y {
		sess.Logger().Debug("客戶端座標偏移",
			zap.Int32("client_x", cmd.X), zap.Int32("client_y", cmd.Y),
			zap.Stringer("server", sp.Pos),
		)
		sess.Send(system.PosCorrection(sess.Endian(), sp))
	}
	act(sess, deps, system.PlayerStage{
		Kind: system.PlayerMovement,
		Key:  k,
		Move: system.Movement{Sub: system.MoveStart, Dir: dir},
	})
}

func HandleDir(sess *net.Session, cmd packet.Dir, deps *Deps) {
	k, ok := player(sess, deps)
	if !ok {
		return
	}
	turn(sess, deps, k, world.Dir(cmd.Dir))
}

// turn changes the player's facing and shows it to the map.
func turn(sess *net.Session, deps *Deps, k world.GlobalKey, dir world.Dir) {
	if !dir.Valid() {
		return
	}
	var m world.MapPosition
	changed := false
	err := deps.Store.Spatial.Update(k, func(sp *world.Spatial) {
		m = sp.Pos.Map
		if sp.Dir != dir {
			sp.Dir = dir
			changed = true
		}
	})
	if err != nil || !changed {
		return
	}
	if err := toMap(deps, m, system.PlayerDir(sess.Endian(), k, dir), k); err != nil {
		sess.Logger().Debug("轉向廣播失敗", zap.Error(err))
	}
}
