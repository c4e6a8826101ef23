package system

import (
	"time"

	"github.com/l1jgo/worldmesh/internal/config"
	"github.com/l1jgo/worldmesh/internal/core/event"
	"github.com/l1jgo/worldmesh/internal/net/packet"
	"github.com/l1jgo/worldmesh/internal/scripting"
	"github.com/l1jgo/worldmesh/internal/world"
	"go.uber.org/zap"
)

// Stage environment shared by players and NPCs.

func (a *MapActor) now() time.Time { return a.clock() }

func (a *MapActor) mapSize() (int32, int32) {
	return a.cfg.World.MapWidth, a.cfg.World.MapHeight
}

func (a *MapActor) spatial(k world.GlobalKey) (world.Spatial, error) {
	return a.deps.Store.Spatial.GetOrFail(k)
}

func (a *MapActor) alive(k world.GlobalKey) bool {
	v, err := a.deps.Store.Vitals.GetOrFail(k)
	return err == nil && v.IsAlive()
}

func (a *MapActor) walkable(p world.Position) bool {
	return a.deps.Maps.Walkable(p)
}

func (a *MapActor) clearTarget(k world.GlobalKey) {
	a.deps.Store.Target.Set(k, world.Target{})
	if a.isPlayer(k) {
		a.sendTo(k, ClearTarget)
	}
}

func (a *MapActor) isPlayer(k world.GlobalKey) bool {
	kind, ok := a.deps.Store.Kind.Get(k)
	return ok && kind == world.KindPlayer
}

// ---------- player environment ----------

func (a *MapActor) moveReady(k world.GlobalKey) bool {
	now := a.clock()
	ready := false
	_ = a.deps.Store.Timers.Update(k, func(t *world.Timers) {
		if now.Before(t.Move) {
			return
		}
		t.Move = now.Add(a.cfg.World.MoveCooldown)
		ready = true
	})
	return ready
}

func (a *MapActor) place(k world.GlobalKey, pos world.Position, dir world.Dir) {
	if _, member := a.members[k]; !member {
		a.join(k, pos, dir)
		return
	}
	old, _ := a.deps.Store.Spatial.Get(k)
	a.deps.Store.Place(k, pos, dir)
	a.aoi.Move(k, old.Pos.X, old.Pos.Y, pos.X, pos.Y)
	sp := world.Spatial{Pos: pos, Dir: dir}

	jumped := world.Distance(old.Pos, pos, a.cfg.World.MapWidth, a.cfg.World.MapHeight) > 1
	if jumped {
		a.sendTo(k, func(e packet.Endian) *packet.Buffer { return PosCorrection(e, sp) })
		a.sendNear(pos, k, func(e packet.Endian) *packet.Buffer { return PlayerWarp(e, k, pos) })
		return
	}
	a.sendNear(pos, k, func(e packet.Endian) *packet.Buffer { return PlayerMove(e, k, sp) })
}

// join makes k a member of this map at pos.
func (a *MapActor) join(k world.GlobalKey, pos world.Position, dir world.Dir) {
	a.deps.Store.Place(k, pos, dir)
	a.members[k] = struct{}{}
	a.aoi.Add(k, pos.X, pos.Y)
	sp := world.Spatial{Pos: pos, Dir: dir}

	if a.isPlayer(k) {
		c, _ := a.deps.Store.Client.Get(k)
		v, _ := a.deps.Store.Vitals.Get(k)
		st, _ := a.deps.Store.Stats.Get(k)
		w, h := a.mapSize()
		a.sendTo(k, func(e packet.Endian) *packet.Buffer { return MapData(e, a.pos, a.rec.Name, w, h) })
		a.sendTo(k, func(e packet.Endian) *packet.Buffer { return PlayerData(e, k, c.Username, sp, v, st) })
		a.sendNear(pos, k, func(e packet.Endian) *packet.Buffer { return PlayerSpawn(e, k, c.Username, sp) })
		for _, other := range a.aoi.Nearby(pos.X, pos.Y) {
			if other != k {
				a.showTo(k, other)
			}
		}
		a.sendTo(k, MapDone)
		event.Emit(a.bus, event.PlayerEntered{Key: k})
	}
	a.log.Debug("實體進入地圖", zap.Stringer("key", k), zap.Stringer("pos", pos))
}

// leave drops k from this map without touching its store position; the
// next owner places it.
func (a *MapActor) leave(k world.GlobalKey) {
	sp, _ := a.deps.Store.Spatial.Get(k)
	a.leaveAt(k, sp.Pos)
}

// leaveAt is leave for an entity last seen here at pos. After a handoff the
// store position may already belong to the receiving map.
func (a *MapActor) leaveAt(k world.GlobalKey, pos world.Position) {
	delete(a.members, k)
	a.aoi.Remove(k, pos.X, pos.Y)
	a.sendNear(pos, k, func(e packet.Endian) *packet.Buffer { return EntityUnload(e, k) })
}

// showTo sends viewer the spawn packet of other.
func (a *MapActor) showTo(viewer, other world.GlobalKey) {
	sp, ok := a.deps.Store.Spatial.Get(other)
	if !ok {
		return
	}
	if br, isNpc := a.deps.Store.Brain.Get(other); isNpc {
		v, _ := a.deps.Store.Vitals.Get(other)
		if v.Death == world.Spawning {
			return
		}
		a.sendTo(viewer, func(e packet.Endian) *packet.Buffer { return NpcSpawn(e, other, br, sp, v) })
		return
	}
	if c, ok := a.deps.Store.Client.Get(other); ok {
		a.sendTo(viewer, func(e packet.Endian) *packet.Buffer { return PlayerSpawn(e, other, c.Username, sp) })
	}
}

func (a *MapActor) face(k world.GlobalKey, dir world.Dir) {
	var pos world.Position
	_ = a.deps.Store.Spatial.Update(k, func(sp *world.Spatial) {
		sp.Dir = dir
		pos = sp.Pos
	})
	a.sendNear(pos, k, func(e packet.Endian) *packet.Buffer { return PlayerDir(e, k, dir) })
}

func (a *MapActor) correct(k world.GlobalKey) {
	sp, ok := a.deps.Store.Spatial.Get(k)
	if !ok {
		return
	}
	a.sendTo(k, func(e packet.Endian) *packet.Buffer { return PosCorrection(e, sp) })
}

func (a *MapActor) selectTarget(k, target world.GlobalKey) bool {
	if target == k {
		return false
	}
	sp, err := a.spatial(k)
	if err != nil {
		return false
	}
	pos, ok := a.validTarget(target)
	if !ok || !world.Within(sp.Pos, pos, int64(a.cfg.AI.SightRange), a.cfg.World.MapWidth, a.cfg.World.MapHeight) {
		return false
	}
	a.deps.Store.Target.Set(k, world.Target{Key: target, Pos: pos})
	a.sendTo(k, func(e packet.Endian) *packet.Buffer { return SetTarget(e, target) })
	return true
}

func (a *MapActor) targetOf(k world.GlobalKey) world.GlobalKey {
	t, _ := a.deps.Store.Target.Get(k)
	return t.Key
}

// facing returns a living entity on the tile in front of k.
func (a *MapActor) facing(k world.GlobalKey) world.GlobalKey {
	sp, err := a.spatial(k)
	if err != nil {
		return world.NoKey
	}
	front := world.Step(sp.Pos, sp.Dir, a.cfg.World.MapWidth, a.cfg.World.MapHeight)
	if front.Map != a.pos {
		return world.NoKey
	}
	for _, other := range a.aoi.Nearby(front.X, front.Y) {
		if other == k || !a.alive(other) {
			continue
		}
		if osp, ok := a.deps.Store.Spatial.Get(other); ok && osp.Pos == front {
			return other
		}
	}
	return world.NoKey
}

// strike is a player's melee swing at target.
func (a *MapActor) strike(k, target world.GlobalKey) bool {
	if k == target || !a.alive(target) {
		return false
	}
	sp, err := a.spatial(k)
	if err != nil {
		return false
	}
	tsp, err := a.spatial(target)
	if err != nil || tsp.Pos.Map != a.pos {
		return false
	}
	st, _ := a.deps.Store.Stats.Get(k)
	reach := int64(st.Range)
	if reach < 1 {
		reach = 1
	}
	if !world.Within(sp.Pos, tsp.Pos, reach, a.cfg.World.MapWidth, a.cfg.World.MapHeight) {
		return false
	}
	if !a.attackReady(k) {
		return false
	}
	a.hit(k, target, false)
	return true
}

func (a *MapActor) attackReady(k world.GlobalKey) bool {
	now := a.clock()
	ready := false
	_ = a.deps.Store.Timers.Update(k, func(t *world.Timers) {
		if now.Before(t.Attack) {
			return
		}
		t.Attack = now.Add(a.cfg.World.AttackCooldown)
		t.Combat = now.Add(a.cfg.AI.TargetHold)
		ready = true
	})
	return ready
}

// hit resolves one attack from attacker on target and announces it.
func (a *MapActor) hit(attacker, target world.GlobalKey, ranged bool) {
	ast, _ := a.deps.Store.Stats.Get(attacker)
	tst, _ := a.deps.Store.Stats.Get(target)
	dmg := a.damage(ast, tst, ranged)

	var died bool
	var after world.Vitals
	if err := a.deps.Store.Vitals.Update(target, func(v *world.Vitals) {
		died = v.Damage(world.VitalHP, dmg)
		after = *v
	}); err != nil {
		return
	}
	_ = a.deps.Store.Flags.Update(attacker, func(f *world.Flags) { f.InCombat = true })
	_ = a.deps.Store.Flags.Update(target, func(f *world.Flags) { f.InCombat = true })

	tsp, _ := a.deps.Store.Spatial.Get(target)
	hp := after.Get(world.VitalHP)
	if a.isPlayer(attacker) {
		a.sendNear(tsp.Pos, world.NoKey, func(e packet.Endian) *packet.Buffer { return Attack(e, attacker, target, dmg) })
	} else {
		a.sendNear(tsp.Pos, world.NoKey, func(e packet.Endian) *packet.Buffer { return NpcAttack(e, attacker, target, dmg) })
	}
	a.sendNear(tsp.Pos, world.NoKey, func(e packet.Endian) *packet.Buffer { return EntityDamage(e, target, dmg, hp) })
	if a.isPlayer(target) {
		a.sendTo(target, func(e packet.Endian) *packet.Buffer { return PlayerVitals(e, target, after) })
	} else if t, _ := a.deps.Store.Target.Get(target); t.Key.IsZero() && !died {
		// NPCs fight back
		asp, _ := a.deps.Store.Spatial.Get(attacker)
		a.setTarget(target, attacker, asp.Pos)
	}
	if died {
		event.Emit(a.bus, event.EntityDied{Key: target, Killer: attacker, Pos: tsp.Pos})
	}
}

func (a *MapActor) damage(atk, def world.Stats, ranged bool) int32 {
	if a.lua != nil {
		if dmg, ok := a.lua.CalcDamage(scripting.DamageContext{
			AttackerLevel:  atk.Level,
			AttackerDamage: atk.Damage,
			TargetLevel:    def.Level,
			TargetDefense:  def.Defense,
			Ranged:         ranged,
		}); ok {
			return dmg
		}
	}
	dmg := atk.Damage - def.Defense
	if dmg < 1 {
		dmg = 1
	}
	return dmg
}

func (a *MapActor) warpAt(p world.Position) (world.Position, bool) {
	if p.Map != a.pos {
		return world.Position{}, false
	}
	w, ok := a.rec.WarpAt(p.X, p.Y)
	if !ok {
		return world.Position{}, false
	}
	return w.Dest(), true
}

func (a *MapActor) showSign(k world.GlobalKey, p world.Position) {
	if p.Map != a.pos {
		return
	}
	if s, ok := a.rec.SignAt(p.X, p.Y); ok {
		a.sendTo(k, func(e packet.Endian) *packet.Buffer { return SignText(e, s.Text) })
	}
}

// ---------- npc environment ----------

func (a *MapActor) roll() float64 { return a.rng.Float64() }

func (a *MapActor) ai() config.AIConfig { return a.cfg.AI }

func (a *MapActor) currentTarget(k world.GlobalKey) world.Target {
	t, _ := a.deps.Store.Target.Get(k)
	return t
}

func (a *MapActor) validTarget(target world.GlobalKey) (world.Position, bool) {
	if target.IsZero() || !a.deps.Store.Alive(target) || !a.alive(target) {
		return world.Position{}, false
	}
	if f, _ := a.deps.Store.Flags.Get(target); f.Hidden {
		return world.Position{}, false
	}
	sp, err := a.spatial(target)
	if err != nil {
		return world.Position{}, false
	}
	return sp.Pos, true
}

func (a *MapActor) targetExpired(k world.GlobalKey) bool {
	t, _ := a.deps.Store.Timers.Get(k)
	return !a.clock().Before(t.Target)
}

func (a *MapActor) mapExists(m world.MapPosition) bool {
	return a.deps.Maps.Exists(m)
}

// findTarget returns the nearest fightable player on m within r of from.
func (a *MapActor) findTarget(m world.MapPosition, from world.Position, r int32) (world.GlobalKey, world.Position, bool) {
	w, h := a.mapSize()
	best, bestDist := world.NoKey, int64(-1)
	var bestPos world.Position
	for _, k := range a.deps.Store.PlayersOnMap(m) {
		pos, ok := a.validTarget(k)
		if !ok {
			continue
		}
		d := world.Distance(from, pos, w, h)
		if d < 0 || d > int64(r) {
			continue
		}
		if bestDist < 0 || d < bestDist {
			best, bestDist, bestPos = k, d, pos
		}
	}
	return best, bestPos, !best.IsZero()
}

func (a *MapActor) setTarget(k, target world.GlobalKey, pos world.Position) {
	a.deps.Store.Target.Set(k, world.Target{Key: target, Pos: pos})
	hold := a.clock().Add(a.cfg.AI.TargetHold)
	_ = a.deps.Store.Timers.Update(k, func(t *world.Timers) { t.Target = hold })
	if sp, ok := a.deps.Store.Spatial.Get(k); ok {
		a.sendNear(sp.Pos, world.NoKey, func(e packet.Endian) *packet.Buffer { return NpcTarget(e, k, target) })
	}
}

func (a *MapActor) classify(k, target world.GlobalKey) scripting.Cast {
	br, _ := a.deps.Store.Brain.Get(k)
	v, _ := a.deps.Store.Vitals.Get(k)
	st, _ := a.deps.Store.Stats.Get(k)
	ctx := scripting.BehaviourContext{
		Mode:     br.Mode.String(),
		HP:       v.Get(world.VitalHP),
		MaxHP:    v.V[world.VitalHP].Cap(),
		Distance: -1,
		Range:    st.Range,
	}
	if tv, ok := a.deps.Store.Vitals.Get(target); ok {
		ctx.TargetHP = tv.Get(world.VitalHP)
	}
	sp, err1 := a.spatial(k)
	tsp, err2 := a.spatial(target)
	if err1 == nil && err2 == nil {
		ctx.Distance = world.Distance(sp.Pos, tsp.Pos, a.cfg.World.MapWidth, a.cfg.World.MapHeight)
	}

	if a.lua != nil {
		if c, ok := a.lua.NpcBehaviour(ctx); ok {
			return c
		}
	}
	return classifyFallback(ctx)
}

func (a *MapActor) engage(k, target world.GlobalKey, cast scripting.Cast) bool {
	sp, err := a.spatial(k)
	if err != nil {
		return true
	}
	if cast == scripting.CastHeal {
		st, _ := a.deps.Store.Stats.Get(k)
		amount := st.Damage
		var after world.Vitals
		_ = a.deps.Store.Vitals.Update(k, func(v *world.Vitals) {
			v.Heal(world.VitalHP, amount)
			after = *v
		})
		a.sendNear(sp.Pos, world.NoKey, func(e packet.Endian) *packet.Buffer { return NpcCast(e, k, k, cast) })
		a.sendNear(sp.Pos, world.NoKey, func(e packet.Endian) *packet.Buffer {
			return EntityHeal(e, k, amount, after.Get(world.VitalHP))
		})
		return true
	}

	tsp, err := a.spatial(target)
	if err != nil || tsp.Pos.Map != a.pos || !a.alive(target) {
		return false
	}
	reach := int64(1)
	if cast == scripting.CastRanged {
		st, _ := a.deps.Store.Stats.Get(k)
		reach = int64(st.Range)
	}
	if !world.Within(sp.Pos, tsp.Pos, reach, a.cfg.World.MapWidth, a.cfg.World.MapHeight) {
		return false
	}
	if !a.attackReady(k) {
		return true
	}
	if cast == scripting.CastRanged {
		a.sendNear(sp.Pos, world.NoKey, func(e packet.Endian) *packet.Buffer { return NpcCast(e, k, target, cast) })
	}
	a.hit(k, target, cast == scripting.CastRanged)
	return true
}

func (a *MapActor) randomDir() world.Dir {
	return world.Dir(a.rng.Intn(int(world.DirCount)))
}

func (a *MapActor) stepNpc(k world.GlobalKey, to world.Position, dir world.Dir) {
	old, ok := a.deps.Store.Spatial.Get(k)
	if !ok {
		return
	}
	a.deps.Store.Place(k, to, dir)
	a.aoi.Move(k, old.Pos.X, old.Pos.Y, to.X, to.Y)
	sp := world.Spatial{Pos: to, Dir: dir}
	a.sendNear(to, world.NoKey, func(e packet.Endian) *packet.Buffer { return NpcMove(e, k, sp) })
}

// forgetTarget clears every local NPC target pointing at k.
func (a *MapActor) forgetTarget(k world.GlobalKey) {
	for m := range a.members {
		if t, ok := a.deps.Store.Target.Get(m); ok && t.Key == k {
			a.deps.Store.Target.Set(m, world.Target{})
		}
	}
}

// ---------- delivery ----------

type buildFunc func(e packet.Endian) *packet.Buffer

func (a *MapActor) sendTo(k world.GlobalKey, build buildFunc) {
	c, ok := a.deps.Store.Client.Get(k)
	if !ok || c.Conn == nil {
		return
	}
	c.Conn.Send(build(c.Endian))
}

// sendNear sends to every player near pos on this map except skip. Frames
// are built once per endian.
func (a *MapActor) sendNear(pos world.Position, skip world.GlobalKey, build buildFunc) {
	var cache [2]*packet.Buffer
	for _, k := range a.aoi.Nearby(pos.X, pos.Y) {
		if k == skip {
			continue
		}
		c, ok := a.deps.Store.Client.Get(k)
		if !ok || c.Conn == nil {
			continue
		}
		if cache[c.Endian] == nil {
			cache[c.Endian] = build(c.Endian)
		}
		c.Conn.Send(cache[c.Endian])
	}
}

func (a *MapActor) eachPlayer(fn func(k world.GlobalKey)) {
	for k := range a.members {
		if a.isPlayer(k) {
			fn(k)
		}
	}
}
