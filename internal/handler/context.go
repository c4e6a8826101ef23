package handler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/l1jgo/worldmesh/internal/config"
	"github.com/l1jgo/worldmesh/internal/mesh"
	"github.com/l1jgo/worldmesh/internal/net"
	"github.com/l1jgo/worldmesh/internal/net/packet"
	"github.com/l1jgo/worldmesh/internal/persist"
	"github.com/l1jgo/worldmesh/internal/system"
	"github.com/l1jgo/worldmesh/internal/world"
	"go.uber.org/zap"
)

// SaveQueue accepts asynchronous writes. persist.Saver implements it.
type SaveQueue interface {
	Enqueue(job persist.SaveJob)
}

// Deps holds shared dependencies injected into all packet handlers.
type Deps struct {
	Config *config.Config
	Store  *world.Store
	Mesh   mesh.Mesh
	Repos  *persist.Repos
	Saves  SaveQueue
	Log    *zap.Logger

	loginMu sync.Mutex // one live player per account
}

// stageTimeout bounds how long a handler waits on a full map inbox.
const stageTimeout = 2 * time.Second

// bind registers fn for id, asserting the session and command types.
func bind[C packet.Command](rt *packet.Router, id packet.ClientPacket, deps *Deps, fn func(*net.Session, C, *Deps)) {
	rt.Register(id, func(sess any, cmd packet.Command) {
		fn(sess.(*net.Session), cmd.(C), deps)
	})
}

// RegisterAll registers all packet handlers into the router.
func RegisterAll(rt *packet.Router, deps *Deps) {
	// Login phase
	bind(rt, packet.CHandShake, deps, HandleHandShake)
	bind(rt, packet.COnlineCheck, deps, HandleOnlineCheck)
	bind(rt, packet.CRegister, deps, HandleRegister)
	bind(rt, packet.CLogin, deps, HandleLogin)
	bind(rt, packet.CPing, deps, HandlePing)

	// In-world phase
	bind(rt, packet.CMove, deps, HandleMove)
	bind(rt, packet.CDir, deps, HandleDir)
	bind(rt, packet.CAttack, deps, HandleAttack)
	bind(rt, packet.CSetTarget, deps, HandleSetTarget)
	bind(rt, packet.CMessage, deps, HandleMessage)
	bind(rt, packet.CUseEmote, deps, HandleEmote)
	bind(rt, packet.CAdminCommand, deps, HandleAdminCommand)
	bind(rt, packet.COnlineList, deps, HandleOnlineList)
	bind(rt, packet.CSyncRequest, deps, HandleSync)
	bind(rt, packet.CLogout, deps, HandleLogout)

	bind(rt, packet.CSwitchInvSlot, deps, HandleSwitchInvSlot)
	bind(rt, packet.CDeleteItem, deps, HandleDeleteItem)
	bind(rt, packet.CDropItem, deps, HandleDropItem)
	bind(rt, packet.CUnequip, deps, HandleUnequip)
	bind(rt, packet.CUseItem, deps, HandleUseItem)
	bind(rt, packet.CPickUp, deps, HandlePickUp)

	// Trade, shop and storage are decoded but not offered by this server.
	for _, id := range []packet.ClientPacket{
		packet.CTradeRequest, packet.CAcceptTrade, packet.CDeclineTrade,
		packet.CAddTradeItem, packet.CRemoveTradeItem, packet.CSubmitTrade,
	} {
		rt.Register(id, unavailable("trading is unavailable"))
	}
	for _, id := range []packet.ClientPacket{packet.CBuyItem, packet.CSellItem, packet.CCloseShop} {
		rt.Register(id, unavailable("shops are unavailable"))
	}
	for _, id := range []packet.ClientPacket{
		packet.CSwitchStorageSlot, packet.CDepositItem, packet.CWithdrawItem, packet.CCloseStorage,
	} {
		rt.Register(id, unavailable("storage is unavailable"))
	}
}

// player returns the entity bound to sess, if it is still in the store.
func player(sess *net.Session, deps *Deps) (world.GlobalKey, bool) {
	k := world.GlobalKey(sess.Player())
	if k.IsZero() || !deps.Store.Alive(k) {
		return world.NoKey, false
	}
	return k, true
}

// submit hands a player stage to the map actor that owns the player.
func submit(deps *Deps, s system.PlayerStage) error {
	var target world.MapPosition
	if s.Kind == system.PlayerNone {
		target = s.Resume.Map
	} else {
		sp, err := deps.Store.Spatial.GetOrFail(s.Key)
		if err != nil {
			return err
		}
		target = sp.Pos.Map
	}
	payload, err := system.EncodeStage(s)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), stageTimeout)
	defer cancel()
	return deps.Mesh.Send(ctx, target, mesh.Incoming{Kind: mesh.PlayerStage, Stage: payload})
}

// act submits s for the session's player. A refused stage leaves the player
// where it is and resyncs the client.
func act(sess *net.Session, deps *Deps, s system.PlayerStage) {
	err := submit(deps, s)
	if err == nil {
		return
	}
	if errors.Is(err, mesh.ErrMapUnavailable) {
		sess.Logger().Warn("地圖不可用，動作已取消", zap.Stringer("stage", s), zap.Error(err))
	} else {
		sess.Logger().Debug("動作提交失敗", zap.Stringer("stage", s), zap.Error(err))
	}
	if sp, ok := deps.Store.Spatial.Get(s.Key); ok {
		sess.Send(system.PosCorrection(sess.Endian(), sp))
	}
}

// toMap broadcasts a finished frame to every player on m.
func toMap(deps *Deps, m world.MapPosition, frame *packet.Buffer, exclude world.GlobalKey) error {
	ctx, cancel := context.WithTimeout(context.Background(), stageTimeout)
	defer cancel()
	return deps.Mesh.Send(ctx, m, mesh.Incoming{Kind: mesh.Broadcast, Frame: frame, Exclude: exclude})
}

func unavailable(text string) packet.HandlerFunc {
	return func(sess any, _ packet.Command) {
		s := sess.(*net.Session)
		s.Send(system.AlertMsg(s.Endian(), text))
	}
}
