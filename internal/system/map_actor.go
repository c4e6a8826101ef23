package system

import (
	"context"
	"math/rand"
	"time"

	"github.com/l1jgo/worldmesh/internal/config"
	"github.com/l1jgo/worldmesh/internal/core/event"
	coresys "github.com/l1jgo/worldmesh/internal/core/system"
	"github.com/l1jgo/worldmesh/internal/data"
	"github.com/l1jgo/worldmesh/internal/mesh"
	"github.com/l1jgo/worldmesh/internal/net/packet"
	"github.com/l1jgo/worldmesh/internal/scripting"
	"github.com/l1jgo/worldmesh/internal/world"
	"go.uber.org/zap"
)

// Retirer removes an idle map from the directory. See mesh.Directory.Retire.
type Retirer interface {
	Retire(pos world.MapPosition, inbox chan mesh.Incoming) bool
}

// Deps holds what every map actor shares.
type Deps struct {
	Config  *config.Config
	Store   *world.Store
	Mesh    mesh.Mesh
	Retirer Retirer
	Maps    *data.MapTable
	Npcs    *data.NpcTable
	Log     *zap.Logger
}

// queued is one entry of the local stage queue. Exactly one field is set.
type queued struct {
	player *PlayerStage
	npc    *NpcStage
}

// MapActor is the single authority for one map: it owns the entities on it,
// their stage queues and its inbox. All of its state is touched only from
// the goroutine running Run.
type MapActor struct {
	pos  world.MapPosition
	rec  *data.MapRecord
	deps Deps
	cfg  *config.Config
	lua  *scripting.Engine // nil: Go fallbacks

	inbox   chan mesh.Incoming
	queue   []queued
	members map[world.GlobalKey]struct{}
	aoi     *world.AOIGrid

	runner *coresys.Runner
	bus    *event.Bus

	time        world.GameTime
	rng         *rand.Rand
	clock       func() time.Time
	sendTimeout time.Duration
	lastTick    time.Time
	idle        int
	stopped     bool

	log *zap.Logger
}

// NewMapActor builds the actor for rec. inbox must already be registered
// with the directory.
func NewMapActor(deps Deps, rec *data.MapRecord, inbox chan mesh.Incoming, lua *scripting.Engine) *MapActor {
	pos := rec.Pos()
	a := &MapActor{
		pos:         pos,
		rec:         rec,
		deps:        deps,
		cfg:         deps.Config,
		lua:         lua,
		inbox:       inbox,
		members:     make(map[world.GlobalKey]struct{}),
		aoi:         world.NewAOIGrid(8),
		runner:      coresys.NewRunner(),
		bus:         event.NewBus(),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(pos.X)<<20 ^ int64(pos.Y))),
		clock:       time.Now,
		sendTimeout: 10 * deps.Config.World.TickRate,
		log:         deps.Log.With(zap.Stringer("map", pos)),
	}

	a.runner.Register(coresys.Func(coresys.PhaseInput, a.drainInbox))
	a.runner.Register(coresys.Func(coresys.PhasePreUpdate, a.dispatchEvents))
	a.runner.Register(coresys.Func(coresys.PhaseUpdate, a.runQueue))
	a.runner.Register(coresys.Func(coresys.PhaseUpdate, a.scheduleAI))
	a.runner.Register(coresys.Func(coresys.PhasePostUpdate, a.regenerate))
	a.runner.Register(coresys.Func(coresys.PhasePostUpdate, a.lifecycle))
	a.runner.Register(coresys.Func(coresys.PhaseCleanup, a.checkIdle))

	event.Subscribe(a.bus, a.onDied)
	event.Subscribe(a.bus, a.onRespawned)
	event.Subscribe(a.bus, a.onEntered)
	return a
}

func (a *MapActor) Pos() world.MapPosition { return a.pos }

// Run spawns the map's NPCs and ticks until the map retires or ctx ends.
func (a *MapActor) Run(ctx context.Context) error {
	a.spawnNpcs()
	defer a.shutdown()
	a.log.Info("地圖已啟動", zap.Int("npcs", len(a.members)))

	ticker := time.NewTicker(a.cfg.World.TickRate)
	defer ticker.Stop()
	a.lastTick = a.clock()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.tick()
			if a.stopped {
				a.log.Info("地圖閒置，已卸載", zap.Uint64("ticks", a.runner.Ticks()))
				return nil
			}
		}
	}
}

func (a *MapActor) tick() {
	now := a.clock()
	dt := now.Sub(a.lastTick)
	a.lastTick = now
	a.runner.Tick(dt)
}

func (a *MapActor) shutdown() {
	for k := range a.members {
		if kind, ok := a.deps.Store.Kind.Get(k); ok && kind == world.KindNpc {
			a.deps.Store.Remove(k)
		}
	}
	if a.lua != nil {
		a.lua.Close()
	}
}

// ---------- Input ----------

func (a *MapActor) drainInbox(_ time.Duration) {
	for i := 0; i < a.cfg.World.MaxMessagesPerTick; i++ {
		select {
		case msg := <-a.inbox:
			a.handle(msg)
		default:
			return
		}
	}
}

// handle processes one inbox message immediately.
func (a *MapActor) handle(msg mesh.Incoming) {
	switch msg.Kind {
	case mesh.PlayerStage:
		s, err := DecodePlayerStage(msg.Stage)
		if err != nil {
			a.log.Warn("玩家階段解碼失敗", zap.Error(err))
			return
		}
		a.advancePlayer(s)

	case mesh.NpcStage:
		s, err := DecodeNpcStage(msg.Stage)
		if err != nil {
			a.log.Warn("NPC 階段解碼失敗", zap.Error(err))
			return
		}
		a.advanceNpc(s)

	case mesh.GameTime:
		a.time = msg.Time
		a.eachPlayer(func(k world.GlobalKey) {
			a.sendTo(k, func(e packet.Endian) *packet.Buffer { return GameTime(e, a.time) })
		})

	case mesh.EntityDied:
		a.forgetTarget(msg.Key)

	case mesh.EntityLeave:
		if _, ok := a.members[msg.Key]; ok {
			a.leave(msg.Key)
		}
		a.forgetTarget(msg.Key)
		a.deps.Store.Remove(msg.Key)

	case mesh.Broadcast:
		if msg.Frame == nil {
			return
		}
		a.eachPlayer(func(k world.GlobalKey) {
			if k != msg.Exclude {
				a.deps.Store.Send(k, msg.Frame)
			}
		})
	}
}

func (a *MapActor) dispatchEvents(_ time.Duration) {
	a.bus.SwapBuffers()
	a.bus.DispatchAll()
}

// ---------- Update ----------

// runQueue advances the stages queued before this tick. Stages they produce
// wait for the next tick.
func (a *MapActor) runQueue(_ time.Duration) {
	batch := a.queue
	a.queue = nil
	for _, q := range batch {
		switch {
		case q.player != nil:
			a.advancePlayer(*q.player)
		case q.npc != nil:
			a.advanceNpc(*q.npc)
		}
	}
}

// EnqueuePlayer adds s to the local queue. Actor goroutine only.
func (a *MapActor) EnqueuePlayer(s PlayerStage) {
	a.queue = append(a.queue, queued{player: &s})
}

func (a *MapActor) enqueueNpc(s NpcStage) {
	a.queue = append(a.queue, queued{npc: &s})
}

// advancePlayer runs one phase of s here, or hands s to the map that owns it.
func (a *MapActor) advancePlayer(s PlayerStage) {
	if s.Kind == PlayerContinue {
		return
	}
	current := a.pos
	sp, err := a.deps.Store.Spatial.GetOrFail(s.Key)
	switch {
	case err == nil:
		current = sp.Pos.Map
	case s.Kind != PlayerNone || !a.deps.Store.Alive(s.Key):
		// removed while the stage was in flight
		a.log.Debug("玩家階段對應的實體不存在", zap.Stringer("stage", s), zap.Error(err))
		return
	}

	target := playerStageMap(s, current)
	if target != a.pos {
		a.handoffPlayer(target, s)
		return
	}
	if _, member := a.members[s.Key]; !member && !relocates(s) {
		// already handed off; this stage lost its authority
		a.log.Debug("丟棄非本地圖玩家的階段", zap.Stringer("stage", s))
		return
	}

	next, err := nextPlayerStage(a, s)
	if err != nil {
		a.log.Warn("玩家階段失敗", zap.Stringer("stage", s), zap.Error(err))
		a.correct(s.Key)
		return
	}
	if next.Kind != PlayerContinue {
		a.EnqueuePlayer(next)
	}
}

// handoffPlayer sends s unchanged to the actor for target. On failure the
// player stays where it is.
func (a *MapActor) handoffPlayer(target world.MapPosition, s PlayerStage) {
	// the receiver may place the player before Send returns
	last, _ := a.deps.Store.Spatial.Get(s.Key)
	payload, err := EncodeStage(s)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.sendTimeout)
		err = a.deps.Mesh.Send(ctx, target, mesh.Incoming{Kind: mesh.PlayerStage, Stage: payload})
		cancel()
	}
	if err != nil {
		a.log.Warn("玩家交接失敗，保持原位",
			zap.Stringer("stage", s),
			zap.Stringer("to", target),
			zap.Error(err),
		)
		a.correct(s.Key)
		return
	}
	if _, member := a.members[s.Key]; member && relocates(s) {
		a.leaveAt(s.Key, last.Pos)
	}
}

func (a *MapActor) advanceNpc(s NpcStage) {
	if s.Kind == NpcNone {
		a.endChain(s.Key)
		return
	}
	sp, err := a.deps.Store.Spatial.GetOrFail(s.Key)
	if err != nil {
		return
	}
	if sp.Pos.Map != a.pos {
		a.handoffNpc(sp.Pos.Map, s)
		return
	}
	if !a.alive(s.Key) {
		a.endChain(s.Key)
		return
	}

	next, err := nextNpcStage(a, s)
	if err != nil {
		a.log.Warn("NPC 階段失敗", zap.Stringer("stage", s), zap.Error(err))
		a.endChain(s.Key)
		return
	}
	if next.Kind == NpcNone {
		a.endChain(s.Key)
		return
	}
	a.enqueueNpc(next)
}

func (a *MapActor) handoffNpc(target world.MapPosition, s NpcStage) {
	payload, err := EncodeStage(s)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.sendTimeout)
		err = a.deps.Mesh.Send(ctx, target, mesh.Incoming{Kind: mesh.NpcStage, Stage: payload})
		cancel()
	}
	if err != nil {
		a.log.Warn("NPC 交接失敗", zap.Stringer("stage", s), zap.Error(err))
		a.endChain(s.Key)
	}
}

func (a *MapActor) endChain(k world.GlobalKey) {
	_ = a.deps.Store.Brain.Update(k, func(b *world.Brain) { b.Active = false })
}

// scheduleAI starts a new chain for every idle living NPC whose AI timer has
// elapsed, as long as a player is on this map or a neighbour.
func (a *MapActor) scheduleAI(_ time.Duration) {
	if !a.playersAround() {
		return
	}
	now := a.clock()
	for k := range a.members {
		br, ok := a.deps.Store.Brain.Get(k)
		if !ok || br.Active || !a.alive(k) {
			continue
		}
		t, _ := a.deps.Store.Timers.Get(k)
		if now.Before(t.AI) {
			continue
		}
		_ = a.deps.Store.Timers.Update(k, func(t *world.Timers) { t.AI = now.Add(a.cfg.AI.Interval) })
		_ = a.deps.Store.Brain.Update(k, func(b *world.Brain) { b.Active = true })
		a.enqueueNpc(NpcStage{Kind: NpcCheckTarget, Key: k, Mode: br.Mode})
	}
}

func (a *MapActor) playersAround() bool {
	if a.hasPlayers() {
		return true
	}
	for _, m := range a.pos.Surrounding() {
		if len(a.deps.Store.PlayersOnMap(m)) > 0 {
			return true
		}
	}
	return false
}

// ---------- Cleanup ----------

func (a *MapActor) hasPlayers() bool {
	for k := range a.members {
		if kind, ok := a.deps.Store.Kind.Get(k); ok && kind == world.KindPlayer {
			return true
		}
	}
	return false
}

func (a *MapActor) playerStagesQueued() bool {
	for _, q := range a.queue {
		if q.player != nil {
			return true
		}
	}
	return false
}

// checkIdle retires the map after enough ticks with no players, no player
// stages and an empty inbox.
func (a *MapActor) checkIdle(_ time.Duration) {
	if a.hasPlayers() || a.playerStagesQueued() || len(a.inbox) > 0 {
		a.idle = 0
		return
	}
	a.idle++
	if a.idle < a.cfg.World.IdleTicksBeforeUnload {
		return
	}
	if a.deps.Retirer != nil && a.deps.Retirer.Retire(a.pos, a.inbox) {
		a.stopped = true
		return
	}
	a.idle = 0
}
