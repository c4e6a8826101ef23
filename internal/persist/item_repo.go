package persist

import (
	"context"
	"fmt"

	"github.com/l1jgo/worldmesh/internal/world"
	"go.uber.org/zap"
)

// ItemRepo stores inventory and equipment one slot per row. An empty slot
// has no row.
type ItemRepo struct {
	db *DB
}

func NewItemRepo(db *DB) *ItemRepo {
	return &ItemRepo{db: db}
}

func (r *ItemRepo) LoadInventory(ctx context.Context, accountID int64) (world.Inventory, error) {
	var inv world.Inventory
	err := r.loadSlots(ctx, "inventory_slots", accountID, inv.Slots[:])
	return inv, err
}

func (r *ItemRepo) LoadEquipment(ctx context.Context, accountID int64) (world.Equipment, error) {
	var eq world.Equipment
	err := r.loadSlots(ctx, "equipment_slots", accountID, eq.Slots[:])
	return eq, err
}

func (r *ItemRepo) SaveInventorySlot(ctx context.Context, accountID int64, slot uint16, it world.Item) error {
	return r.saveSlot(ctx, "inventory_slots", accountID, slot, it)
}

func (r *ItemRepo) SaveEquipmentSlot(ctx context.Context, accountID int64, slot uint16, it world.Item) error {
	return r.saveSlot(ctx, "equipment_slots", accountID, slot, it)
}

func (r *ItemRepo) loadSlots(ctx context.Context, table string, accountID int64, into []world.Item) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.SQL.QueryContext(ctx, r.db.rebind(
		`SELECT slot, item_id, count FROM `+table+` WHERE account_id = ?`), accountID,
	)
	if err != nil {
		return storageErr("load "+table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var slot int
		var id, count int64
		if err := rows.Scan(&slot, &id, &count); err != nil {
			return storageErr("scan "+table, err)
		}
		if slot < 0 || slot >= len(into) {
			r.db.log.Warn("資料庫中的物品欄位超出範圍，已略過",
				zap.String("table", table), zap.Int64("account", accountID), zap.Int("slot", slot))
			continue
		}
		into[slot] = world.Item{ID: uint32(id), Count: uint64(count)}
	}
	return storageErr("load "+table, rows.Err())
}

func (r *ItemRepo) saveSlot(ctx context.Context, table string, accountID int64, slot uint16, it world.Item) error {
	if it.Empty() {
		_, err := r.db.exec(ctx,
			`DELETE FROM `+table+` WHERE account_id = ? AND slot = ?`, accountID, int(slot))
		return storageErr(fmt.Sprintf("clear %s slot %d", table, slot), err)
	}
	_, err := r.db.exec(ctx,
		`INSERT INTO `+table+` (account_id, slot, item_id, count) VALUES (?, ?, ?, ?)
		 ON CONFLICT (account_id, slot) DO UPDATE SET item_id = excluded.item_id, count = excluded.count`,
		accountID, int(slot), int64(it.ID), int64(it.Count),
	)
	return storageErr(fmt.Sprintf("save %s slot %d", table, slot), err)
}
