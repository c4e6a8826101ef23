package handler

import (
	"context"
	"fmt"
	gonet "net"
	"sync"
	"testing"
	"time"

	"github.com/bmizerany/assert"
	"github.com/l1jgo/worldmesh/internal/config"
	"github.com/l1jgo/worldmesh/internal/mesh"
	"github.com/l1jgo/worldmesh/internal/net"
	"github.com/l1jgo/worldmesh/internal/net/packet"
	"github.com/l1jgo/worldmesh/internal/persist"
	"github.com/l1jgo/worldmesh/internal/system"
	"github.com/l1jgo/worldmesh/internal/world"
	"go.uber.org/zap"
)

type fakeMesh struct {
	mu   sync.Mutex
	sent []mesh.Incoming
	err  error
	down map[world.MapPosition]bool
}

func (m *fakeMesh) Send(_ context.Context, pos world.MapPosition, msg mesh.Incoming) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.down[pos] {
		return fmt.Errorf("%w: %s", mesh.ErrMapUnavailable, pos)
	}
	msg.Map = pos
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMesh) Broadcast(mesh.Incoming) int                  { return 0 }
func (m *fakeMesh) Notify(world.MapPosition, mesh.Incoming) bool { return false }

func (m *fakeMesh) messages(kind mesh.IncomingKind) []mesh.Incoming {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mesh.Incoming
	for _, msg := range m.sent {
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}
	return out
}

func (m *fakeMesh) stages(t *testing.T) []system.PlayerStage {
	t.Helper()
	var out []system.PlayerStage
	for _, msg := range m.messages(mesh.PlayerStage) {
		s, err := system.DecodePlayerStage(msg.Stage)
		if err != nil {
			t.Fatalf("decode stage: %v", err)
		}
		out = append(out, s)
	}
	return out
}

type fakeSaves struct {
	mu   sync.Mutex
	jobs []persist.SaveJob
}

func (s *fakeSaves) Enqueue(job persist.SaveJob) {
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
}

func (s *fakeSaves) of(kind persist.SaveKind) []persist.SaveJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []persist.SaveJob
	for _, j := range s.jobs {
		if j.Kind == kind {
			out = append(out, j)
		}
	}
	return out
}

type fixture struct {
	deps  *Deps
	mesh  *fakeMesh
	saves *fakeSaves
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := persist.Open(ctx, config.DatabaseConfig{Driver: persist.DialectSQLite, DSN: ":memory:"}, zap.NewNop())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := persist.RunMigrations(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	fx := &fixture{mesh: &fakeMesh{down: map[world.MapPosition]bool{}}, saves: &fakeSaves{}}
	fx.deps = &Deps{
		Config: config.Defaults(),
		Store:  world.NewStore(),
		Mesh:   fx.mesh,
		Repos:  persist.NewRepos(db),
		Saves:  fx.saves,
		Log:    zap.NewNop(),
	}
	return fx
}

func (fx *fixture) session(t *testing.T) *net.Session {
	t.Helper()
	a, b := gonet.Pipe()
	t.Cleanup(func() { _ = b.Close() })
	sess := net.NewSession(a, net.Options{Endian: packet.LittleEndian, OutQueueSize: 64}, zap.NewNop())
	t.Cleanup(sess.Close)
	sess.Promote(packet.OnlineAccepted)
	return sess
}

func (fx *fixture) account(t *testing.T, name, password string) *persist.AccountRow {
	t.Helper()
	row, err := fx.deps.Repos.Accounts.Create(context.Background(), name, password, "")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return row
}

// online puts a logged-in player on pos without going through a map actor.
func (fx *fixture) online(t *testing.T, name string, id int64, pos world.Position) (*net.Session, world.GlobalKey) {
	t.Helper()
	sess := fx.session(t)
	k, ok := spawnPlayer(sess, fx.deps, &persist.AccountRow{ID: id, Username: name}, world.Inventory{}, world.Equipment{})
	if !ok {
		t.Fatalf("spawn %s", name)
	}
	fx.deps.Store.Place(k, pos, world.DirDown)
	return sess, k
}

// frames drains the session's outbound queue and returns the packet ids.
func frames(t *testing.T, sess *net.Session) []packet.ServerPacket {
	t.Helper()
	var ids []packet.ServerPacket
	for {
		select {
		case data := <-sess.OutQueue:
			b, err := packet.Wrap(data, packet.LittleEndian)
			if err != nil {
				t.Fatalf("wrap: %v", err)
			}
			id, err := b.ReadU16()
			if err != nil {
				t.Fatalf("read id: %v", err)
			}
			ids = append(ids, packet.ServerPacket(id))
		default:
			return ids
		}
	}
}

var home = world.Position{Map: world.MapPosition{X: 2, Y: 3}, X: 10, Y: 11}

func TestLoginPlacesPlayerAtSpawn(t *testing.T) {
	fx := newFixture(t)
	row := fx.account(t, "alice", "pw")
	sess := fx.session(t)

	HandleLogin(sess, packet.Login{Username: " Alice ", Password: "pw"}, fx.deps)

	assert.Equal(t, packet.OnlineOnline, sess.State())
	k := world.GlobalKey(sess.Player())
	assert.T(t, !k.IsZero())
	assert.Equal(t, row.ID, sess.AccountID)
	assert.Equal(t, []packet.ServerPacket{packet.SLoginOk, packet.SPlayerInv, packet.SPlayerEquipment}, frames(t, sess))

	spawn := spawnPoint(fx.deps.Config)
	assert.Equal(t, []system.PlayerStage{{Kind: system.PlayerNone, Key: k, Resume: spawn}}, fx.mesh.stages(t))
	assert.Equal(t, spawn.Map, fx.mesh.messages(mesh.PlayerStage)[0].Map)

	c, ok := fx.deps.Store.Client.Get(k)
	assert.T(t, ok)
	assert.Equal(t, "alice", c.Username)
	assert.Equal(t, packet.OnlineOnline, c.Online)

	logins := fx.saves.of(persist.SaveLogin)
	assert.Equal(t, 1, len(logins))
	assert.Equal(t, row.ID, logins[0].AccountID)
}

func TestLoginResumesSavedState(t *testing.T) {
	fx := newFixture(t)
	row := fx.account(t, "bob", "pw")
	ctx := context.Background()
	assert.Equal(t, nil, fx.deps.Repos.Locations.Save(ctx, row.ID, persist.Location{Pos: home, Dir: world.DirLeft}))
	assert.Equal(t, nil, fx.deps.Repos.Items.SaveInventorySlot(ctx, row.ID, 4, world.Item{ID: 9, Count: 2}))

	sess := fx.session(t)
	HandleLogin(sess, packet.Login{Username: "bob", Password: "pw"}, fx.deps)

	k := world.GlobalKey(sess.Player())
	assert.Equal(t, []system.PlayerStage{{Kind: system.PlayerNone, Key: k, Resume: home}}, fx.mesh.stages(t))
	inv, _ := fx.deps.Store.Inventory.Get(k)
	assert.Equal(t, world.Item{ID: 9, Count: 2}, inv.Slots[4])
}

func TestLoginFallsBackToSpawnWhenSavedMapIsDown(t *testing.T) {
	fx := newFixture(t)
	row := fx.account(t, "carol", "pw")
	assert.Equal(t, nil, fx.deps.Repos.Locations.Save(context.Background(), row.ID, persist.Location{Pos: home}))
	fx.mesh.down[home.Map] = true

	sess := fx.session(t)
	HandleLogin(sess, packet.Login{Username: "carol", Password: "pw"}, fx.deps)

	stages := fx.mesh.stages(t)
	assert.Equal(t, 1, len(stages))
	assert.Equal(t, spawnPoint(fx.deps.Config), stages[0].Resume)
	assert.Equal(t, packet.OnlineOnline, sess.State())
}

func TestLoginWithWrongPasswordIsDenied(t *testing.T) {
	fx := newFixture(t)
	fx.account(t, "dave", "pw")
	sess := fx.session(t)

	HandleLogin(sess, packet.Login{Username: "dave", Password: "nope"}, fx.deps)
	HandleLogin(sess, packet.Login{Username: "nobody", Password: "pw"}, fx.deps)

	assert.Equal(t, packet.OnlineAccepted, sess.State())
	assert.Equal(t, uint64(0), sess.Player())
	assert.Equal(t, []packet.ServerPacket{packet.SAlertMsg, packet.SAlertMsg}, frames(t, sess))
	assert.Equal(t, 0, len(fx.mesh.stages(t)))
	assert.Equal(t, 0, len(fx.saves.of(persist.SaveLogin)))
}

func TestSecondLoginForOnlineAccountIsRefused(t *testing.T) {
	fx := newFixture(t)
	fx.account(t, "erin", "pw")
	first, second := fx.session(t), fx.session(t)

	HandleLogin(first, packet.Login{Username: "erin", Password: "pw"}, fx.deps)
	HandleLogin(second, packet.Login{Username: "erin", Password: "pw"}, fx.deps)

	assert.Equal(t, packet.OnlineOnline, first.State())
	assert.Equal(t, packet.OnlineAccepted, second.State())
	assert.Equal(t, []packet.ServerPacket{packet.SAlertMsg}, frames(t, second))
	assert.Equal(t, 1, len(fx.mesh.stages(t)))
}

func TestLoginDeniedWhenWorldIsUnavailable(t *testing.T) {
	fx := newFixture(t)
	fx.account(t, "frank", "pw")
	fx.mesh.err = mesh.ErrMapUnavailable
	sess := fx.session(t)

	HandleLogin(sess, packet.Login{Username: "frank", Password: "pw"}, fx.deps)

	assert.T(t, sess.IsClosed())
	assert.Equal(t, uint64(0), sess.Player())
	assert.Equal(t, 0, len(fx.deps.Store.Players()))
	assert.Equal(t, 0, len(fx.saves.of(persist.SaveLogin)))
}

func TestRegisterCreatesAccountAndEntersWorld(t *testing.T) {
	fx := newFixture(t)
	sess := fx.session(t)

	HandleRegister(sess, packet.Register{Username: "Grace", Password: "pw"}, fx.deps)

	assert.Equal(t, packet.OnlineOnline, sess.State())
	row, err := fx.deps.Repos.Accounts.Load(context.Background(), "grace")
	assert.Equal(t, nil, err)
	assert.Equal(t, row.ID, sess.AccountID)
	assert.Equal(t, 1, len(fx.mesh.stages(t)))

	again := fx.session(t)
	HandleRegister(again, packet.Register{Username: "grace", Password: "pw"}, fx.deps)
	HandleRegister(again, packet.Register{Username: "gr", Password: "pw"}, fx.deps)
	HandleRegister(again, packet.Register{Username: "heidi", Password: ""}, fx.deps)
	assert.Equal(t, packet.OnlineAccepted, again.State())
	assert.Equal(t, []packet.ServerPacket{packet.SAlertMsg, packet.SAlertMsg, packet.SAlertMsg}, frames(t, again))
}

func TestMoveSubmitsStepToPlayersMap(t *testing.T) {
	fx := newFixture(t)
	sess, k := fx.online(t, "ivan", 1, home)

	HandleMove(sess, packet.Move{Dir: uint8(world.DirRight), X: home.X, Y: home.Y}, fx.deps)
	assert.Equal(t, 0, len(frames(t, sess)))

	HandleMove(sess, packet.Move{Dir: uint8(world.DirUp), X: home.X + 3, Y: home.Y}, fx.deps)
	assert.Equal(t, []packet.ServerPacket{packet.SPlayerPosCorrection}, frames(t, sess))

	HandleMove(sess, packet.Move{Dir: 9, X: home.X, Y: home.Y}, fx.deps)
	assert.Equal(t, []packet.ServerPacket{packet.SPlayerPosCorrection}, frames(t, sess))

	want := []system.PlayerStage{
		{Kind: system.PlayerMovement, Key: k, Move: system.Movement{Sub: system.MoveStart, Dir: world.DirRight}},
		{Kind: system.PlayerMovement, Key: k, Move: system.Movement{Sub: system.MoveStart, Dir: world.DirUp}},
	}
	assert.Equal(t, want, fx.mesh.stages(t))
	for _, msg := range fx.mesh.messages(mesh.PlayerStage) {
		assert.Equal(t, home.Map, msg.Map)
	}
}

func TestRefusedMoveCorrectsClient(t *testing.T) {
	fx := newFixture(t)
	sess, _ := fx.online(t, "judy", 1, home)
	fx.mesh.down[home.Map] = true

	HandleMove(sess, packet.Move{Dir: uint8(world.DirRight), X: home.X, Y: home.Y}, fx.deps)
	assert.Equal(t, []packet.ServerPacket{packet.SPlayerPosCorrection}, frames(t, sess))
}

func TestAttackTargetsOrSwingsForward(t *testing.T) {
	fx := newFixture(t)
	sess, k := fx.online(t, "ken", 1, home)

	HandleAttack(sess, packet.Attack{Dir: uint8(world.DirDown), Target: 77}, fx.deps)
	HandleAttack(sess, packet.Attack{Dir: uint8(world.DirLeft)}, fx.deps)

	want := []system.PlayerStage{
		{Kind: system.PlayerTargeting, Key: k, Flag: system.TargetAttack, Target: world.GlobalKey(77)},
		{Kind: system.PlayerCombat, Key: k},
	}
	assert.Equal(t, want, fx.mesh.stages(t))

	// only the second attack turned the player
	turns := fx.mesh.messages(mesh.Broadcast)
	assert.Equal(t, 1, len(turns))
	assert.Equal(t, k, turns[0].Exclude)
	sp, _ := fx.deps.Store.Spatial.Get(k)
	assert.Equal(t, world.DirLeft, sp.Dir)
}

func TestSetTargetSelectsOrClears(t *testing.T) {
	fx := newFixture(t)
	sess, k := fx.online(t, "liz", 1, home)

	HandleSetTarget(sess, packet.SetTarget{Target: 5}, fx.deps)
	HandleSetTarget(sess, packet.SetTarget{}, fx.deps)

	want := []system.PlayerStage{
		{Kind: system.PlayerTargeting, Key: k, Flag: system.TargetSelect, Target: world.GlobalKey(5)},
		{Kind: system.PlayerTargeting, Key: k, Flag: system.TargetClear},
	}
	assert.Equal(t, want, fx.mesh.stages(t))
}

func TestInventoryChangesAreSentAndSaved(t *testing.T) {
	fx := newFixture(t)
	sess, k := fx.online(t, "mia", 42, home)
	fx.deps.Store.Inventory.Set(k, world.Inventory{Slots: [world.InventorySlots]world.Item{0: {ID: 5, Count: 10}}})

	HandleSwitchInvSlot(sess, packet.SwitchInvSlot{Old: 0, New: 3}, fx.deps)
	HandleDropItem(sess, packet.DropItem{Slot: 3, Amount: 4}, fx.deps)
	HandleDeleteItem(sess, packet.DeleteItem{Slot: 20}, fx.deps)

	inv, _ := fx.deps.Store.Inventory.Get(k)
	assert.Equal(t, world.Item{}, inv.Slots[0])
	assert.Equal(t, world.Item{ID: 5, Count: 6}, inv.Slots[3])
	assert.Equal(t, []packet.ServerPacket{packet.SPlayerInvSlot, packet.SPlayerInvSlot, packet.SPlayerInvSlot}, frames(t, sess))

	want := []persist.SaveJob{
		{Kind: persist.SaveInventorySlot, AccountID: 42, Slot: 0},
		{Kind: persist.SaveInventorySlot, AccountID: 42, Slot: 3, Item: world.Item{ID: 5, Count: 10}},
		{Kind: persist.SaveInventorySlot, AccountID: 42, Slot: 3, Item: world.Item{ID: 5, Count: 6}},
	}
	assert.Equal(t, want, fx.saves.of(persist.SaveInventorySlot))
}

func TestUnequipMovesItemIntoBag(t *testing.T) {
	fx := newFixture(t)
	sess, k := fx.online(t, "ned", 7, home)
	fx.deps.Store.Equipment.Set(k, world.Equipment{Slots: [world.EquipmentSlots]world.Item{2: {ID: 30, Count: 1}}})

	HandleUnequip(sess, packet.Unequip{Slot: 2}, fx.deps)
	HandleUnequip(sess, packet.Unequip{Slot: 2}, fx.deps)

	eq, _ := fx.deps.Store.Equipment.Get(k)
	inv, _ := fx.deps.Store.Inventory.Get(k)
	assert.Equal(t, world.Item{}, eq.Slots[2])
	assert.Equal(t, world.Item{ID: 30, Count: 1}, inv.Slots[0])
	assert.Equal(t, []packet.ServerPacket{packet.SPlayerEquipment, packet.SPlayerInvSlot, packet.SAlertMsg}, frames(t, sess))
	assert.Equal(t, []persist.SaveJob{{Kind: persist.SaveEquipmentSlot, AccountID: 7, Slot: 2}}, fx.saves.of(persist.SaveEquipmentSlot))
	assert.Equal(t, 1, len(fx.saves.of(persist.SaveInventorySlot)))
}

func TestChatChannels(t *testing.T) {
	fx := newFixture(t)
	olive, _ := fx.online(t, "olive", 1, home)
	pat, _ := fx.online(t, "pat", 2, world.Position{Map: world.MapPosition{X: 9, Y: 9}})

	HandleMessage(olive, packet.Message{Channel: ChatMap, Text: "hello map"}, fx.deps)
	said := fx.mesh.messages(mesh.Broadcast)
	assert.Equal(t, 1, len(said))
	assert.Equal(t, home.Map, said[0].Map)
	assert.T(t, said[0].Frame != nil)

	HandleMessage(olive, packet.Message{Channel: ChatGlobal, Text: "hello world"}, fx.deps)
	assert.Equal(t, []packet.ServerPacket{packet.SChatMsg}, frames(t, olive))
	assert.Equal(t, []packet.ServerPacket{packet.SChatMsg}, frames(t, pat))

	HandleMessage(olive, packet.Message{Channel: ChatWhisper, Text: "psst", Target: "Pat"}, fx.deps)
	assert.Equal(t, []packet.ServerPacket{packet.SChatMsg}, frames(t, olive))
	assert.Equal(t, []packet.ServerPacket{packet.SChatMsg}, frames(t, pat))

	HandleMessage(olive, packet.Message{Channel: ChatWhisper, Text: "psst", Target: "nobody"}, fx.deps)
	assert.Equal(t, []packet.ServerPacket{packet.SAlertMsg}, frames(t, olive))

	HandleMessage(olive, packet.Message{Channel: ChatMap, Text: ".online"}, fx.deps)
	assert.Equal(t, []packet.ServerPacket{packet.SAdminResult}, frames(t, olive))
	assert.Equal(t, 1, len(fx.mesh.messages(mesh.Broadcast)))
}

func TestDisconnectSavesLocationAndLeavesMap(t *testing.T) {
	fx := newFixture(t)
	sess, k := fx.online(t, "quinn", 9, home)
	sess.AccountID = 9

	Disconnect(sess, fx.deps)

	assert.Equal(t, uint64(0), sess.Player())
	assert.Equal(t, []persist.SaveJob{{
		Kind:      persist.SaveLocation,
		AccountID: 9,
		Location:  persist.Location{Pos: home, Dir: world.DirDown},
	}}, fx.saves.of(persist.SaveLocation))
	leaves := fx.mesh.messages(mesh.EntityLeave)
	assert.Equal(t, 1, len(leaves))
	assert.Equal(t, k, leaves[0].Key)
	assert.Equal(t, home.Map, leaves[0].Map)
	// the map actor removes it
	assert.T(t, fx.deps.Store.Alive(k))

	Disconnect(sess, fx.deps)
	assert.Equal(t, 1, len(fx.mesh.messages(mesh.EntityLeave)))
}

func TestDisconnectWithoutMapRemovesPlayer(t *testing.T) {
	fx := newFixture(t)
	sess, k := fx.online(t, "rita", 3, home)
	fx.mesh.down[home.Map] = true

	Disconnect(sess, fx.deps)

	assert.T(t, !fx.deps.Store.Alive(k))
	assert.Equal(t, 0, len(fx.deps.Store.Players()))
}

func dispatch(t *testing.T, rt *packet.Router, sess *net.Session, cmd packet.Command) error {
	t.Helper()
	out := packet.Encode(packet.LittleEndian, cmd)
	in, err := packet.Wrap(out.Bytes(), packet.LittleEndian)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	return rt.Dispatch(sess, sess.State(), in)
}

func TestRouterDrivesHandlers(t *testing.T) {
	fx := newFixture(t)
	rt := packet.NewRouter(zap.NewNop())
	RegisterAll(rt, fx.deps)

	sess := fx.session(t)
	assert.Equal(t, nil, dispatch(t, rt, sess, packet.HandShake{Handshake: fx.deps.Config.Server.Handshake}))
	assert.Equal(t, nil, dispatch(t, rt, sess, packet.Ping{}))
	assert.Equal(t, []packet.ServerPacket{packet.SHandShake, packet.SPing}, frames(t, sess))

	p, _ := fx.online(t, "sam", 1, home)
	for _, cmd := range []packet.Command{packet.AcceptTrade{}, packet.BuyItem{Slot: 1}, packet.DepositItem{}} {
		assert.Equal(t, nil, dispatch(t, rt, p, cmd))
	}
	assert.Equal(t, []packet.ServerPacket{packet.SAlertMsg, packet.SAlertMsg, packet.SAlertMsg}, frames(t, p))

	assert.Equal(t, nil, dispatch(t, rt, p, packet.OnlineList{}))
	assert.Equal(t, []packet.ServerPacket{packet.SOnlineList}, frames(t, p))

	assert.Equal(t, nil, dispatch(t, rt, p, packet.SyncRequest{}))
	assert.Equal(t, []packet.ServerPacket{
		packet.SPlayerPosCorrection, packet.SPlayerVitals, packet.SPlayerInv, packet.SPlayerEquipment, packet.SSyncDone,
	}, frames(t, p))
}

func TestBadHandshakeClosesSession(t *testing.T) {
	fx := newFixture(t)
	sess := fx.session(t)

	HandleHandShake(sess, packet.HandShake{Handshake: "other"}, fx.deps)

	assert.T(t, sess.IsClosed())
}

func TestAcceptClosesSessionsOnShutdown(t *testing.T) {
	fx := newFixture(t)
	rt := packet.NewRouter(zap.NewNop())
	RegisterAll(rt, fx.deps)

	ready := make(chan *net.Session, 1)
	sess := fx.session(t)
	ready <- sess

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Accept(ctx, ready, rt, fx.deps) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.Equal(t, nil, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Accept did not return")
	}
	assert.T(t, sess.IsClosed())
}
