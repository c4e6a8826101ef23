package handler

import (
	"github.com/l1jgo/worldmesh/internal/net"
	"github.com/l1jgo/worldmesh/internal/net/packet"
	"github.com/l1jgo/worldmesh/internal/persist"
	"github.com/l1jgo/worldmesh/internal/system"
	"github.com/l1jgo/worldmesh/internal/world"
	"go.uber.org/zap"
)

// Bags are only touched by the owning connection, so these handlers edit
// the store directly and queue a save per changed slot.

func HandleSwitchInvSlot(sess *net.Session, cmd packet.SwitchInvSlot, deps *Deps) {
	k, ok := player(sess, deps)
	if !ok {
		return
	}
	var changed []uint16
	var inv world.Inventory
	err := deps.Store.Inventory.Update(k, func(i *world.Inventory) {
		var err error
		changed, err = i.Switch(cmd.Old, cmd.New, cmd.Amount)
		if err != nil {
			changed = nil
		}
		inv = *i
	})
	if err != nil {
		return
	}
	syncSlots(sess, deps, k, inv, changed)
}

func HandleDeleteItem(sess *net.Session, cmd packet.DeleteItem, deps *Deps) {
	takeItem(sess, deps, cmd.Slot, 0)
}

// HandleDropItem removes the items from the bag. There are no ground items,
// so dropped items are gone.
func HandleDropItem(sess *net.Session, cmd packet.DropItem, deps *Deps) {
	takeItem(sess, deps, cmd.Slot, uint64(cmd.Amount))
}

func takeItem(sess *net.Session, deps *Deps, slot uint16, amount uint64) {
	k, ok := player(sess, deps)
	if !ok {
		return
	}
	var taken world.Item
	var inv world.Inventory
	err := deps.Store.Inventory.Update(k, func(i *world.Inventory) {
		taken, _ = i.Take(slot, amount)
		inv = *i
	})
	if err != nil || taken.Empty() {
		return
	}
	syncSlots(sess, deps, k, inv, []uint16{slot})
}

func HandleUnequip(sess *net.Session, cmd packet.Unequip, deps *Deps) {
	k, ok := player(sess, deps)
	if !ok {
		return
	}
	eq, _ := deps.Store.Equipment.Get(k)
	inv, _ := deps.Store.Inventory.Get(k)
	invSlot, err := world.Unequip(&eq, &inv, cmd.Slot)
	if err != nil {
		sess.Send(system.AlertMsg(sess.Endian(), "cannot unequip that"))
		return
	}
	deps.Store.Equipment.Set(k, eq)
	deps.Store.Inventory.Set(k, inv)

	c, _ := deps.Store.Client.Get(k)
	deps.Saves.Enqueue(persist.SaveJob{Kind: persist.SaveEquipmentSlot, AccountID: c.AccountID, Slot: cmd.Slot})
	sess.Send(system.PlayerEquipment(sess.Endian(), eq))
	syncSlots(sess, deps, k, inv, []uint16{invSlot})
}

func HandleUseItem(sess *net.Session, cmd packet.UseItem, deps *Deps) {
	k, ok := player(sess, deps)
	if !ok {
		return
	}
	inv, _ := deps.Store.Inventory.Get(k)
	if int(cmd.Slot) >= len(inv.Slots) || inv.Slots[cmd.Slot].Empty() {
		return
	}
	sess.Send(system.AlertMsg(sess.Endian(), "nothing happens"))
}

func HandlePickUp(sess *net.Session, _ packet.PickUp, deps *Deps) {
	if _, ok := player(sess, deps); !ok {
		return
	}
	sess.Send(system.AlertMsg(sess.Endian(), "there is nothing here"))
}

// syncSlots sends and saves the given inventory slots.
func syncSlots(sess *net.Session, deps *Deps, k world.GlobalKey, inv world.Inventory, slots []uint16) {
	if len(slots) == 0 {
		return
	}
	c, _ := deps.Store.Client.Get(k)
	for _, s := range slots {
		it := inv.Slots[s]
		sess.Send(system.PlayerInvSlot(sess.Endian(), s, it))
		deps.Saves.Enqueue(persist.SaveJob{Kind: persist.SaveInventorySlot, AccountID: c.AccountID, Slot: s, Item: it})
	}
	sess.Logger().Debug("背包已更新", zap.Int("slots", len(slots)))
}
