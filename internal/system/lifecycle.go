package system

import (
	"time"

	"github.com/l1jgo/worldmesh/internal/core/event"
	"github.com/l1jgo/worldmesh/internal/mesh"
	"github.com/l1jgo/worldmesh/internal/net/packet"
	"github.com/l1jgo/worldmesh/internal/world"
	"go.uber.org/zap"
)

// spawnNpcs creates every NPC of the map's spawn table.
func (a *MapActor) spawnNpcs() {
	now := a.clock()
	for _, sp := range a.rec.Spawns {
		tmpl := a.deps.Npcs.Get(sp.NpcID)
		if tmpl == nil {
			a.log.Warn("生怪表引用未知 NPC", zap.Int32("npc", sp.NpcID))
			continue
		}
		for i := 0; i < sp.Count; i++ {
			pos := a.spawnPoint(sp.X, sp.Y, i)
			k := a.deps.Store.Spawn(world.KindNpc)

			v := world.NewVitals(tmpl.HP, tmpl.MP, 0)
			v.V[world.VitalHP].Regen = tmpl.Regen
			a.deps.Store.Vitals.Set(k, v)
			a.deps.Store.Stats.Set(k, world.Stats{
				Level:   tmpl.Level,
				Damage:  tmpl.Damage,
				Defense: tmpl.Defense,
				Range:   tmpl.Range,
			})
			a.deps.Store.Flags.Set(k, world.Flags{})
			// stagger the first AI chain so a fresh map does not think in lockstep
			jitter := time.Duration(a.rng.Int63n(int64(a.cfg.AI.Interval) + 1))
			a.deps.Store.Timers.Set(k, world.Timers{AI: now.Add(jitter)})
			a.deps.Store.Target.Set(k, world.Target{})
			a.deps.Store.Brain.Set(k, world.Brain{
				Mode:  world.ParseNpcMode(tmpl.Mode),
				NpcID: tmpl.NpcID,
				Name:  tmpl.Name,
				Spawn: pos,
			})
			a.join(k, pos, world.Dir(sp.Dir%uint8(world.DirCount)))
		}
	}
}

// spawnPoint scatters the i-th copy of a spawn around (x, y), falling back to
// the exact tile when the scattered one is blocked.
func (a *MapActor) spawnPoint(x, y int32, i int) world.Position {
	base := world.Position{Map: a.pos, X: x, Y: y}
	if i == 0 {
		return base
	}
	p := base
	p.X += int32(a.rng.Intn(5)) - 2
	p.Y += int32(a.rng.Intn(5)) - 2
	if !a.deps.Maps.Walkable(p) {
		return base
	}
	return p
}

// ---------- PostUpdate ----------

func (a *MapActor) regenerate(_ time.Duration) {
	every := uint64(a.cfg.World.RegenTicks)
	if every == 0 || a.runner.Ticks()%every != 0 {
		return
	}
	for k := range a.members {
		var changed bool
		var after world.Vitals
		if err := a.deps.Store.Vitals.Update(k, func(v *world.Vitals) {
			changed = v.Regenerate()
			after = *v
		}); err != nil || !changed {
			continue
		}
		if a.isPlayer(k) {
			a.sendTo(k, func(e packet.Endian) *packet.Buffer { return PlayerVitals(e, k, after) })
		}
	}
}

// lifecycle advances death and respawn timers and prunes members that left
// the store.
//
// Players: Dead -> Spirit -> Alive at the spawn point.
// NPCs:    Dead -> Spawning -> Alive at their spawn.
func (a *MapActor) lifecycle(_ time.Duration) {
	now := a.clock()
	for k := range a.members {
		if !a.deps.Store.Alive(k) {
			delete(a.members, k)
			continue
		}
		v, _ := a.deps.Store.Vitals.Get(k)
		if v.Death == world.Alive {
			continue
		}
		t, _ := a.deps.Store.Timers.Get(k)
		if t.Death.IsZero() {
			continue // onDied has not armed the timers yet
		}
		if a.isPlayer(k) {
			a.playerAfterlife(k, v, t, now)
		} else {
			a.npcAfterlife(k, v, t, now)
		}
	}
}

func (a *MapActor) playerAfterlife(k world.GlobalKey, v world.Vitals, t world.Timers, now time.Time) {
	if now.Before(t.Death) {
		return
	}
	switch v.Death {
	case world.Dead:
		_ = a.deps.Store.Vitals.Update(k, func(v *world.Vitals) { v.Death = world.Spirit })
		_ = a.deps.Store.Timers.Update(k, func(t *world.Timers) { t.Death = now.Add(a.cfg.World.DeathDuration) })
	case world.Spirit:
		var after world.Vitals
		_ = a.deps.Store.Vitals.Update(k, func(v *world.Vitals) {
			v.Revive()
			after = *v
		})
		_ = a.deps.Store.Timers.Update(k, func(t *world.Timers) { t.Death = time.Time{} })
		spawn := a.spawnPosition()
		a.sendTo(k, func(e packet.Endian) *packet.Buffer { return PlayerRespawn(e, k, spawn) })
		a.sendTo(k, func(e packet.Endian) *packet.Buffer { return PlayerVitals(e, k, after) })
		event.Emit(a.bus, event.EntityRespawned{Key: k, Pos: spawn})
		a.EnqueuePlayer(PlayerStage{Kind: PlayerNone, Key: k, Resume: spawn})
	}
}

func (a *MapActor) npcAfterlife(k world.GlobalKey, v world.Vitals, t world.Timers, now time.Time) {
	switch v.Death {
	case world.Dead:
		if now.Before(t.Death) {
			return
		}
		// the corpse disappears; the NPC waits out its respawn delay unseen
		sp, _ := a.deps.Store.Spatial.Get(k)
		_ = a.deps.Store.Vitals.Update(k, func(v *world.Vitals) { v.Death = world.Spawning })
		a.sendNear(sp.Pos, world.NoKey, func(e packet.Endian) *packet.Buffer { return EntityUnload(e, k) })
		a.aoi.Remove(k, sp.Pos.X, sp.Pos.Y)
	case world.Spawning:
		if now.Before(t.Spawn) {
			return
		}
		br, _ := a.deps.Store.Brain.Get(k)
		_ = a.deps.Store.Vitals.Update(k, func(v *world.Vitals) { v.Revive() })
		_ = a.deps.Store.Timers.Update(k, func(t *world.Timers) { t.Death, t.Spawn = time.Time{}, time.Time{} })
		a.deps.Store.Target.Set(k, world.Target{})
		_ = a.deps.Store.Flags.Update(k, func(f *world.Flags) { *f = world.Flags{} })
		a.deps.Store.Place(k, br.Spawn, world.DirDown)
		a.aoi.Add(k, br.Spawn.X, br.Spawn.Y)
		event.Emit(a.bus, event.EntityRespawned{Key: k, Pos: br.Spawn})
	}
}

func (a *MapActor) spawnPosition() world.Position {
	w := a.cfg.World
	return world.Position{
		Map: world.MapPosition{X: w.SpawnMapX, Y: w.SpawnMapY, Group: w.SpawnGroup},
		X:   w.SpawnX,
		Y:   w.SpawnY,
	}
}

// ---------- events ----------

func (a *MapActor) onDied(ev event.EntityDied) {
	now := a.clock()
	a.deps.Store.Target.Set(ev.Key, world.Target{})
	_ = a.deps.Store.Flags.Update(ev.Key, func(f *world.Flags) { f.InCombat = false })
	a.forgetTarget(ev.Key)

	if a.isPlayer(ev.Key) {
		_ = a.deps.Store.Timers.Update(ev.Key, func(t *world.Timers) { t.Death = now.Add(a.cfg.World.DeathDuration) })
		a.sendNear(ev.Pos, world.NoKey, func(e packet.Endian) *packet.Buffer { return PlayerDeath(e, ev.Key, ev.Killer) })
	} else {
		_ = a.deps.Store.Timers.Update(ev.Key, func(t *world.Timers) {
			t.Death = now.Add(a.cfg.World.DeathDuration)
			t.Spawn = now.Add(a.cfg.AI.RespawnDelay)
		})
		a.sendNear(ev.Pos, world.NoKey, func(e packet.Endian) *packet.Buffer { return EntityDeath(e, ev.Key, ev.Killer) })
	}
	if !ev.Killer.IsZero() {
		a.deps.Store.Target.Set(ev.Killer, world.Target{})
	}

	// neighbours may have NPCs chasing the dead entity
	for _, m := range a.pos.Surrounding() {
		if a.deps.Maps.Exists(m) {
			a.deps.Mesh.Notify(m, mesh.Incoming{Kind: mesh.EntityDied, Key: ev.Key, Killer: ev.Killer})
		}
	}
	a.log.Debug("實體死亡", zap.Stringer("key", ev.Key), zap.Stringer("killer", ev.Killer))
}

func (a *MapActor) onRespawned(ev event.EntityRespawned) {
	if a.isPlayer(ev.Key) {
		return // announced when the None stage places it
	}
	for _, viewer := range a.aoi.Nearby(ev.Pos.X, ev.Pos.Y) {
		if a.isPlayer(viewer) {
			a.showTo(viewer, ev.Key)
		}
	}
}

// onEntered sends a newly placed player the map's ambient state.
func (a *MapActor) onEntered(ev event.PlayerEntered) {
	if _, member := a.members[ev.Key]; !member {
		return
	}
	a.sendTo(ev.Key, func(e packet.Endian) *packet.Buffer { return Weather(e, a.rec.Weather) })
	a.sendTo(ev.Key, func(e packet.Endian) *packet.Buffer { return GameTime(e, a.time) })
}
