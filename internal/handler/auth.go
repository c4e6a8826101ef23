package handler

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/l1jgo/worldmesh/internal/config"
	"github.com/l1jgo/worldmesh/internal/mesh"
	"github.com/l1jgo/worldmesh/internal/net"
	"github.com/l1jgo/worldmesh/internal/net/packet"
	"github.com/l1jgo/worldmesh/internal/persist"
	"github.com/l1jgo/worldmesh/internal/system"
	"github.com/l1jgo/worldmesh/internal/world"
	"go.uber.org/zap"
)

// New players start with these.
const (
	playerHP = 100
	playerMP = 50
	playerSP = 50
)

var playerStats = world.Stats{Level: 1, Damage: 10, Defense: 2, Range: 1}

const loginTimeout = 5 * time.Second

func HandleHandShake(sess *net.Session, cmd packet.HandShake, deps *Deps) {
	if cmd.Handshake != deps.Config.Server.Handshake {
		sess.Logger().Info("握手驗證失敗", zap.String("ip", sess.IP))
		sess.Send(system.AlertMsg(sess.Endian(), "client version mismatch"))
		sess.Close()
		return
	}
	sess.Send(system.HandShakeReply(sess.Endian(), deps.Config.Server.Name))
}

func HandleOnlineCheck(sess *net.Session, _ packet.OnlineCheck, _ *Deps) {
	sess.Send(system.OnlineCheckReply(sess.Endian(), true))
}

func HandlePing(sess *net.Session, _ packet.Ping, _ *Deps) {
	sess.Send(system.Pong(sess.Endian()))
}

// HandleRegister creates an account and logs it straight in.
func HandleRegister(sess *net.Session, cmd packet.Register, deps *Deps) {
	username := normalizeName(cmd.Username)
	if n := utf8.RuneCountInString(username); n < 3 || n > 20 {
		sess.Send(system.AlertMsg(sess.Endian(), "username must be 3 to 20 characters"))
		return
	}
	if cmd.Password == "" {
		sess.Send(system.AlertMsg(sess.Endian(), "password is required"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
	defer cancel()

	account, err := deps.Repos.Accounts.Create(ctx, username, cmd.Password, sess.IP)
	if errors.Is(err, persist.ErrAccountExists) {
		sess.Send(system.AlertMsg(sess.Endian(), "username is taken"))
		return
	}
	if err != nil {
		sess.Logger().Error("建立帳號資料庫錯誤", zap.String("account", username), zap.Error(err))
		sess.Send(system.AlertMsg(sess.Endian(), "registration failed, try again later"))
		return
	}
	sess.Logger().Info("建立帳號", zap.String("account", username), zap.String("ip", sess.IP))
	enterWorld(ctx, sess, deps, account)
}

func HandleLogin(sess *net.Session, cmd packet.Login, deps *Deps) {
	username := normalizeName(cmd.Username)

	ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
	defer cancel()

	account, err := deps.Repos.Accounts.Load(ctx, username)
	if err != nil {
		sess.Logger().Error("載入帳號資料庫錯誤", zap.String("account", username), zap.Error(err))
		sess.Send(system.AlertMsg(sess.Endian(), "login failed, try again later"))
		return
	}
	if account == nil || !deps.Repos.Accounts.ValidatePassword(account.PasswordHash, cmd.Password) {
		sess.Send(system.AlertMsg(sess.Endian(), "wrong username or password"))
		return
	}
	enterWorld(ctx, sess, deps, account)
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// spawnPoint is where players without a saved location start.
func spawnPoint(cfg *config.Config) world.Position {
	w := cfg.World
	return world.Position{
		Map: world.MapPosition{X: w.SpawnMapX, Y: w.SpawnMapY, Group: w.SpawnGroup},
		X:   w.SpawnX,
		Y:   w.SpawnY,
	}
}

// enterWorld loads the player's saved state, creates its entity and asks
// the owning map to place it. Any load failure denies entry.
func enterWorld(ctx context.Context, sess *net.Session, deps *Deps, account *persist.AccountRow) {
	e := sess.Endian()
	loc, saved, err := deps.Repos.Locations.Load(ctx, account.ID)
	var inv world.Inventory
	var eq world.Equipment
	if err == nil {
		inv, err = deps.Repos.Items.LoadInventory(ctx, account.ID)
	}
	if err == nil {
		eq, err = deps.Repos.Items.LoadEquipment(ctx, account.ID)
	}
	if err != nil {
		sess.Logger().Error("載入角色資料失敗，拒絕進入", zap.String("account", account.Username), zap.Error(err))
		sess.Send(system.AlertMsg(e, "could not load your character, try again later"))
		return
	}
	if !saved {
		loc = persist.Location{Pos: spawnPoint(deps.Config), Dir: world.DirDown}
	}

	k, ok := spawnPlayer(sess, deps, account, inv, eq)
	if !ok {
		sess.Send(system.AlertMsg(e, "account already online"))
		return
	}

	err = submit(deps, system.PlayerStage{Kind: system.PlayerNone, Key: k, Resume: loc.Pos})
	if errors.Is(err, mesh.ErrMapUnavailable) && saved {
		sess.Logger().Warn("存檔地圖不可用，改用出生點", zap.Stringer("pos", loc.Pos), zap.Error(err))
		loc.Pos = spawnPoint(deps.Config)
		err = submit(deps, system.PlayerStage{Kind: system.PlayerNone, Key: k, Resume: loc.Pos})
	}
	if err != nil {
		sess.Logger().Error("無法放置玩家，拒絕進入", zap.Stringer("pos", loc.Pos), zap.Error(err))
		deps.Store.Remove(k)
		sess.SetPlayer(0)
		sess.Send(system.AlertMsg(e, "the world is unavailable, try again later"))
		sess.Close()
		return
	}

	sess.Send(system.LoginOk(e, k))
	sess.Send(system.PlayerInv(e, inv))
	sess.Send(system.PlayerEquipment(e, eq))
	deps.Saves.Enqueue(persist.SaveJob{Kind: persist.SaveLogin, AccountID: account.ID, IP: sess.IP, At: time.Now()})

	sess.Logger().Info("登入成功",
		zap.String("account", account.Username),
		zap.String("ip", sess.IP),
		zap.Stringer("key", k),
		zap.Stringer("pos", loc.Pos),
	)
}

// spawnPlayer creates the player entity and promotes the session. It
// fails when the account already has a live player.
func spawnPlayer(sess *net.Session, deps *Deps, account *persist.AccountRow, inv world.Inventory, eq world.Equipment) (world.GlobalKey, bool) {
	deps.loginMu.Lock()
	defer deps.loginMu.Unlock()

	if _, online := deps.Store.FindPlayer(account.Username); online {
		return world.NoKey, false
	}
	if !sess.Promote(packet.OnlineOnline) {
		return world.NoKey, false
	}

	s := deps.Store
	k := s.Spawn(world.KindPlayer)
	s.Vitals.Set(k, world.NewVitals(playerHP, playerMP, playerSP))
	s.Stats.Set(k, playerStats)
	s.Flags.Set(k, world.Flags{})
	s.Timers.Set(k, world.Timers{})
	s.Target.Set(k, world.Target{})
	s.Inventory.Set(k, inv)
	s.Equipment.Set(k, eq)
	s.Client.Set(k, world.Client{
		Conn:      sess,
		SessionID: sess.ID,
		AccountID: account.ID,
		Username:  account.Username,
		Online:    packet.OnlineOnline,
		Endian:    sess.Endian(),
	})

	sess.SetPlayer(uint64(k))
	sess.AccountID = account.ID
	sess.AccountName = account.Username
	return k, true
}
