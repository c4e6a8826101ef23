package persist

import (
	"context"
	"database/sql"
	"errors"

	"github.com/l1jgo/worldmesh/internal/world"
)

// Location is where a player logged out.
type Location struct {
	Pos world.Position
	Dir world.Dir
}

type LocationRepo struct {
	db *DB
}

func NewLocationRepo(db *DB) *LocationRepo {
	return &LocationRepo{db: db}
}

// Load returns the saved location. ok is false for a player that never
// saved one.
func (r *LocationRepo) Load(ctx context.Context, accountID int64) (loc Location, ok bool, err error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var group int64
	var dir int16
	err = r.db.SQL.QueryRowContext(ctx, r.db.rebind(
		`SELECT map_x, map_y, map_group, x, y, dir FROM locations WHERE account_id = ?`), accountID,
	).Scan(&loc.Pos.Map.X, &loc.Pos.Map.Y, &group, &loc.Pos.X, &loc.Pos.Y, &dir)
	if errors.Is(err, sql.ErrNoRows) {
		return Location{}, false, nil
	}
	if err != nil {
		return Location{}, false, storageErr("load location", err)
	}
	loc.Pos.Map.Group = uint32(group)
	loc.Dir = world.Dir(dir)
	return loc, true, nil
}

// Save upserts the player's location.
func (r *LocationRepo) Save(ctx context.Context, accountID int64, loc Location) error {
	_, err := r.db.exec(ctx,
		`INSERT INTO locations (account_id, map_x, map_y, map_group, x, y, dir, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (account_id) DO UPDATE SET
		     map_x = excluded.map_x, map_y = excluded.map_y, map_group = excluded.map_group,
		     x = excluded.x, y = excluded.y, dir = excluded.dir, updated_at = excluded.updated_at`,
		accountID, loc.Pos.Map.X, loc.Pos.Map.Y, int64(loc.Pos.Map.Group), loc.Pos.X, loc.Pos.Y, int16(loc.Dir),
	)
	return storageErr("save location", err)
}
