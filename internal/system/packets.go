package system

import (
	"github.com/l1jgo/worldmesh/internal/net/packet"
	"github.com/l1jgo/worldmesh/internal/scripting"
	"github.com/l1jgo/worldmesh/internal/world"
)

// Server packet builders. Every builder returns a finished buffer in the
// recipient's endian.

func writeMap(b *packet.Buffer, m world.MapPosition) {
	b.WriteI32(m.X)
	b.WriteI32(m.Y)
	b.WriteU32(m.Group)
}

func writePos(b *packet.Buffer, p world.Position) {
	writeMap(b, p.Map)
	b.WriteI32(p.X)
	b.WriteI32(p.Y)
}

func writeVital(b *packet.Buffer, v world.Vital) {
	b.WriteI32(v.Cur)
	b.WriteI32(v.Cap())
}

func AlertMsg(e packet.Endian, text string) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SAlertMsg)
	b.WriteStr(text)
	return b.MustFinish()
}

func HandShakeReply(e packet.Endian, serverName string) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SHandShake)
	b.WriteStr(serverName)
	return b.MustFinish()
}

func LoginOk(e packet.Endian, k world.GlobalKey) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SLoginOk)
	b.WriteU64(uint64(k))
	return b.MustFinish()
}

func Pong(e packet.Endian) *packet.Buffer {
	return packet.NewBufferWithID(e, packet.SPing).MustFinish()
}

func OnlineCheckReply(e packet.Endian, online bool) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SOnlineCheck)
	b.WriteBool(online)
	return b.MustFinish()
}

func MyIndex(e packet.Endian, k world.GlobalKey) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SMyIndex)
	b.WriteU64(uint64(k))
	return b.MustFinish()
}

// PlayerData is the full self description sent when a player is placed.
func PlayerData(e packet.Endian, k world.GlobalKey, name string, sp world.Spatial, v world.Vitals, st world.Stats) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SPlayerData)
	b.WriteU64(uint64(k))
	b.WriteStr(name)
	writePos(b, sp.Pos)
	b.WriteU8(uint8(sp.Dir))
	b.WriteI32(st.Level)
	for _, vt := range v.V {
		writeVital(b, vt)
	}
	b.WriteU8(uint8(v.Death))
	return b.MustFinish()
}

func PlayerSpawn(e packet.Endian, k world.GlobalKey, name string, sp world.Spatial) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SPlayerSpawn)
	b.WriteU64(uint64(k))
	b.WriteStr(name)
	b.WriteI32(sp.Pos.X)
	b.WriteI32(sp.Pos.Y)
	b.WriteU8(uint8(sp.Dir))
	return b.MustFinish()
}

func PlayerMove(e packet.Endian, k world.GlobalKey, sp world.Spatial) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SPlayerMove)
	b.WriteU64(uint64(k))
	b.WriteI32(sp.Pos.X)
	b.WriteI32(sp.Pos.Y)
	b.WriteU8(uint8(sp.Dir))
	return b.MustFinish()
}

func PlayerWarp(e packet.Endian, k world.GlobalKey, p world.Position) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SPlayerWarp)
	b.WriteU64(uint64(k))
	writePos(b, p)
	return b.MustFinish()
}

func PlayerDir(e packet.Endian, k world.GlobalKey, d world.Dir) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SPlayerDir)
	b.WriteU64(uint64(k))
	b.WriteU8(uint8(d))
	return b.MustFinish()
}

func PlayerVitals(e packet.Endian, k world.GlobalKey, v world.Vitals) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SPlayerVitals)
	b.WriteU64(uint64(k))
	for _, vt := range v.V {
		writeVital(b, vt)
	}
	return b.MustFinish()
}

// PosCorrection tells the client where the server thinks it is.
func PosCorrection(e packet.Endian, sp world.Spatial) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SPlayerPosCorrection)
	writePos(b, sp.Pos)
	b.WriteU8(uint8(sp.Dir))
	return b.MustFinish()
}

func PlayerDeath(e packet.Endian, k, killer world.GlobalKey) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SPlayerDeath)
	b.WriteU64(uint64(k))
	b.WriteU64(uint64(killer))
	return b.MustFinish()
}

func PlayerRespawn(e packet.Endian, k world.GlobalKey, p world.Position) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SPlayerRespawn)
	b.WriteU64(uint64(k))
	writePos(b, p)
	return b.MustFinish()
}

func EntityUnload(e packet.Endian, k world.GlobalKey) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SEntityUnload)
	b.WriteU64(uint64(k))
	return b.MustFinish()
}

func EntityDeath(e packet.Endian, k, killer world.GlobalKey) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SEntityDeath)
	b.WriteU64(uint64(k))
	b.WriteU64(uint64(killer))
	return b.MustFinish()
}

func EntityVitals(e packet.Endian, k world.GlobalKey, v world.Vitals) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SEntityVitals)
	b.WriteU64(uint64(k))
	writeVital(b, v.V[world.VitalHP])
	return b.MustFinish()
}

func EntityDamage(e packet.Endian, k world.GlobalKey, dmg int32, hp int32) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SEntityDamage)
	b.WriteU64(uint64(k))
	b.WriteI32(dmg)
	b.WriteI32(hp)
	return b.MustFinish()
}

func EntityHeal(e packet.Endian, k world.GlobalKey, amount int32, hp int32) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SEntityHeal)
	b.WriteU64(uint64(k))
	b.WriteI32(amount)
	b.WriteI32(hp)
	return b.MustFinish()
}

func NpcSpawn(e packet.Endian, k world.GlobalKey, br world.Brain, sp world.Spatial, v world.Vitals) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SNpcSpawn)
	b.WriteU64(uint64(k))
	b.WriteU32(uint32(br.NpcID))
	b.WriteStr(br.Name)
	b.WriteI32(sp.Pos.X)
	b.WriteI32(sp.Pos.Y)
	b.WriteU8(uint8(sp.Dir))
	writeVital(b, v.V[world.VitalHP])
	return b.MustFinish()
}

func NpcMove(e packet.Endian, k world.GlobalKey, sp world.Spatial) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SNpcMove)
	b.WriteU64(uint64(k))
	b.WriteI32(sp.Pos.X)
	b.WriteI32(sp.Pos.Y)
	b.WriteU8(uint8(sp.Dir))
	return b.MustFinish()
}

func NpcAttack(e packet.Endian, k, target world.GlobalKey, dmg int32) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SNpcAttack)
	b.WriteU64(uint64(k))
	b.WriteU64(uint64(target))
	b.WriteI32(dmg)
	return b.MustFinish()
}

func NpcCast(e packet.Endian, k, target world.GlobalKey, c scripting.Cast) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SNpcCast)
	b.WriteU64(uint64(k))
	b.WriteU64(uint64(target))
	b.WriteU8(uint8(c))
	return b.MustFinish()
}

func NpcTarget(e packet.Endian, k, target world.GlobalKey) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SNpcTarget)
	b.WriteU64(uint64(k))
	b.WriteU64(uint64(target))
	return b.MustFinish()
}

func Attack(e packet.Endian, attacker, target world.GlobalKey, dmg int32) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SAttack)
	b.WriteU64(uint64(attacker))
	b.WriteU64(uint64(target))
	b.WriteI32(dmg)
	return b.MustFinish()
}

func SetTarget(e packet.Endian, target world.GlobalKey) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SSetTarget)
	b.WriteU64(uint64(target))
	return b.MustFinish()
}

func ClearTarget(e packet.Endian) *packet.Buffer {
	return packet.NewBufferWithID(e, packet.SClearTarget).MustFinish()
}

// ChatMsg carries a chat line. channel matches the client Message channel.
func ChatMsg(e packet.Endian, channel uint8, from, text string) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SChatMsg)
	b.WriteU8(channel)
	b.WriteStr(from)
	b.WriteStr(text)
	return b.MustFinish()
}

func Emote(e packet.Endian, k world.GlobalKey, emote uint32) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SEmote)
	b.WriteU64(uint64(k))
	b.WriteU32(emote)
	return b.MustFinish()
}

func OnlineList(e packet.Endian, names []string) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SOnlineList)
	b.WriteU32(uint32(len(names)))
	for _, n := range names {
		b.WriteStr(n)
	}
	return b.MustFinish()
}

func AdminResult(e packet.Endian, ok bool, text string) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SAdminResult)
	b.WriteBool(ok)
	b.WriteStr(text)
	return b.MustFinish()
}

func MapData(e packet.Endian, m world.MapPosition, name string, width, height int32) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SMapData)
	writeMap(b, m)
	b.WriteStr(name)
	b.WriteI32(width)
	b.WriteI32(height)
	return b.MustFinish()
}

func MapDone(e packet.Endian) *packet.Buffer {
	return packet.NewBufferWithID(e, packet.SMapDone).MustFinish()
}

func GameTime(e packet.Endian, t world.GameTime) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SGameTime)
	b.WriteU8(t.Hour)
	b.WriteU8(t.Min)
	b.WriteU8(t.Sec)
	return b.MustFinish()
}

func Weather(e packet.Endian, w uint8) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SWeather)
	b.WriteU8(w)
	return b.MustFinish()
}

func SignText(e packet.Endian, text string) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SSignText)
	b.WriteStr(text)
	return b.MustFinish()
}

func PlayerInv(e packet.Endian, inv world.Inventory) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SPlayerInv)
	for _, it := range inv.Slots {
		b.WriteU32(it.ID)
		b.WriteU64(it.Count)
	}
	return b.MustFinish()
}

func PlayerInvSlot(e packet.Endian, slot uint16, it world.Item) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SPlayerInvSlot)
	b.WriteU16(slot)
	b.WriteU32(it.ID)
	b.WriteU64(it.Count)
	return b.MustFinish()
}

func PlayerEquipment(e packet.Endian, eq world.Equipment) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SPlayerEquipment)
	for _, it := range eq.Slots {
		b.WriteU32(it.ID)
	}
	return b.MustFinish()
}

func SyncDone(e packet.Endian) *packet.Buffer {
	return packet.NewBufferWithID(e, packet.SSyncDone).MustFinish()
}

func LogoutReply(e packet.Endian) *packet.Buffer {
	return packet.NewBufferWithID(e, packet.SLogout).MustFinish()
}

func Kicked(e packet.Endian, reason string) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SKicked)
	b.WriteStr(reason)
	return b.MustFinish()
}

func ServerMessage(e packet.Endian, text string) *packet.Buffer {
	b := packet.NewBufferWithID(e, packet.SServerMessage)
	b.WriteStr(text)
	return b.MustFinish()
}
