package handler

import (
	"github.com/l1jgo/worldmesh/internal/net"
	"github.com/l1jgo/worldmesh/internal/net/packet"
	"github.com/l1jgo/worldmesh/internal/system"
	"go.uber.org/zap"
)

// HandleLogout acknowledges and closes the session. Cleanup happens on
// socket close.
func HandleLogout(sess *net.Session, _ packet.Logout, _ *Deps) {
	sess.Logger().Info("玩家登出", zap.String("account", sess.AccountName))
	sess.Send(system.LogoutReply(sess.Endian()))
	sess.Close()
}

// HandleSync resends everything the client shows about its own player.
func HandleSync(sess *net.Session, _ packet.SyncRequest, deps *Deps) {
	k, ok := player(sess, deps)
	if !ok {
		return
	}
	e := sess.Endian()
	if sp, ok := deps.Store.Spatial.Get(k); ok {
		sess.Send(system.PosCorrection(e, sp))
	}
	if v, ok := deps.Store.Vitals.Get(k); ok {
		sess.Send(system.PlayerVitals(e, k, v))
	}
	inv, _ := deps.Store.Inventory.Get(k)
	sess.Send(system.PlayerInv(e, inv))
	eq, _ := deps.Store.Equipment.Get(k)
	sess.Send(system.PlayerEquipment(e, eq))
	sess.Send(system.SyncDone(e))
}
