package world

import "errors"

const (
	InventorySlots = 35
	EquipmentSlots = 6
)

var ErrBadSlot = errors.New("bad inventory slot")

// Item is one stack in a slot. ID 0 means empty.
type Item struct {
	ID    uint32
	Count uint64
}

func (it Item) Empty() bool { return it.ID == 0 || it.Count == 0 }

// Inventory holds a player's bag. Slots are addressed by index and saved
// individually.
type Inventory struct {
	Slots [InventorySlots]Item
}

func validSlot(slot uint16, n int) bool { return int(slot) < n }

// Switch moves amount items from old to new. A full move into an empty or
// different slot swaps the two; a partial move splits the stack or merges
// into the same item. It returns the slots that changed.
func (inv *Inventory) Switch(old, new uint16, amount uint64) ([]uint16, error) {
	if !validSlot(old, InventorySlots) || !validSlot(new, InventorySlots) {
		return nil, ErrBadSlot
	}
	if old == new {
		return nil, nil
	}
	src, dst := inv.Slots[old], inv.Slots[new]
	if src.Empty() {
		return nil, nil
	}
	if amount == 0 || amount > src.Count {
		amount = src.Count
	}
	switch {
	case !dst.Empty() && dst.ID == src.ID:
		dst.Count += amount
		src.Count -= amount
		if src.Count == 0 {
			src = Item{}
		}
	case amount == src.Count || !dst.Empty():
		src, dst = dst, src
	default:
		dst = Item{ID: src.ID, Count: amount}
		src.Count -= amount
	}
	inv.Slots[old], inv.Slots[new] = src, dst
	return []uint16{old, new}, nil
}

// Take removes up to amount items from slot and returns what was removed.
// amount 0 takes the whole stack.
func (inv *Inventory) Take(slot uint16, amount uint64) (Item, error) {
	if !validSlot(slot, InventorySlots) {
		return Item{}, ErrBadSlot
	}
	it := inv.Slots[slot]
	if it.Empty() {
		return Item{}, nil
	}
	if amount == 0 || amount >= it.Count {
		inv.Slots[slot] = Item{}
		return it, nil
	}
	inv.Slots[slot].Count -= amount
	return Item{ID: it.ID, Count: amount}, nil
}

// Add puts an item into the first stack of the same id, else the first
// empty slot. It returns the slot used, or false when the bag is full.
func (inv *Inventory) Add(it Item) (uint16, bool) {
	for i := range inv.Slots {
		if inv.Slots[i].ID == it.ID && !inv.Slots[i].Empty() {
			inv.Slots[i].Count += it.Count
			return uint16(i), true
		}
	}
	for i := range inv.Slots {
		if inv.Slots[i].Empty() {
			inv.Slots[i] = it
			return uint16(i), true
		}
	}
	return 0, false
}

// Equipment holds worn items, one per slot.
type Equipment struct {
	Slots [EquipmentSlots]Item
}

// Unequip moves an equipped item back into the bag.
func Unequip(eq *Equipment, inv *Inventory, slot uint16) (invSlot uint16, err error) {
	if !validSlot(slot, EquipmentSlots) {
		return 0, ErrBadSlot
	}
	it := eq.Slots[slot]
	if it.Empty() {
		return 0, ErrBadSlot
	}
	invSlot, ok := inv.Add(it)
	if !ok {
		return 0, errors.New("inventory full")
	}
	eq.Slots[slot] = Item{}
	return invSlot, nil
}
