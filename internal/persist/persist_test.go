package persist

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bmizerany/assert"
	"github.com/l1jgo/worldmesh/internal/config"
	"github.com/l1jgo/worldmesh/internal/net/packet"
	"github.com/l1jgo/worldmesh/internal/world"
	"go.uber.org/zap"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, config.DatabaseConfig{
		Driver:       DialectSQLite,
		DSN:          ":memory:",
		QueryTimeout: 5 * time.Second,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testPersistConfig(t *testing.T) config.PersistConfig {
	return config.PersistConfig{
		SaveRetries: 1,
		RetryBase:   time.Millisecond,
		SpoolPath:   filepath.Join(t.TempDir(), "spool", "saves.msgpack"),
		QueueSize:   1,
	}
}

func TestRebind(t *testing.T) {
	pg := &DB{Dialect: DialectPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND c = $2", pg.rebind("SELECT a FROM t WHERE b = ? AND c = ?"))

	lite := &DB{Dialect: DialectSQLite}
	assert.Equal(t, "SELECT ? ", lite.rebind("SELECT ? "))
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db := openTestDB(t)
	assert.Equal(t, nil, RunMigrations(context.Background(), db))
}

func TestAccountCreateAndLoad(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepo(openTestDB(t))
	repo.cost = 4

	missing, err := repo.Load(ctx, "alice")
	assert.Equal(t, nil, err)
	assert.T(t, missing == nil)

	created, err := repo.Create(ctx, "alice", "secret", "10.0.0.1")
	assert.Equal(t, nil, err)
	assert.NotEqual(t, int64(0), created.ID)

	loaded, err := repo.Load(ctx, "alice")
	assert.Equal(t, nil, err)
	assert.Equal(t, created.ID, loaded.ID)
	assert.Equal(t, "10.0.0.1", loaded.LastIP)
	assert.T(t, repo.ValidatePassword(loaded.PasswordHash, "secret"))
	assert.T(t, !repo.ValidatePassword(loaded.PasswordHash, "wrong"))

	_, err = repo.Create(ctx, "alice", "other", "10.0.0.2")
	assert.T(t, errors.Is(err, ErrAccountExists))

	assert.Equal(t, nil, repo.Save(ctx, created.ID, "10.0.0.9", time.Now()))
	loaded, _ = repo.Load(ctx, "alice")
	assert.Equal(t, "10.0.0.9", loaded.LastIP)
}

func createAccount(t *testing.T, db *DB, name string) int64 {
	t.Helper()
	repo := NewAccountRepo(db)
	repo.cost = 4
	row, err := repo.Create(context.Background(), name, "pw", "")
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	return row.ID
}

func TestLocationUpsert(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	id := createAccount(t, db, "bob")
	repo := NewLocationRepo(db)

	_, ok, err := repo.Load(ctx, id)
	assert.Equal(t, nil, err)
	assert.T(t, !ok)

	first := Location{Pos: world.Position{Map: world.MapPosition{X: 1, Y: -2, Group: 3}, X: 4, Y: 5}, Dir: world.DirLeft}
	assert.Equal(t, nil, repo.Save(ctx, id, first))
	got, ok, err := repo.Load(ctx, id)
	assert.Equal(t, nil, err)
	assert.T(t, ok)
	assert.Equal(t, first, got)

	second := Location{Pos: world.Position{Map: world.MapPosition{X: 0, Y: 0}, X: 9, Y: 9}, Dir: world.DirUp}
	assert.Equal(t, nil, repo.Save(ctx, id, second))
	got, _, _ = repo.Load(ctx, id)
	assert.Equal(t, second, got)
}

func TestItemSlotsSaveAndClear(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	id := createAccount(t, db, "carol")
	repo := NewItemRepo(db)

	assert.Equal(t, nil, repo.SaveInventorySlot(ctx, id, 0, world.Item{ID: 40308, Count: 1000}))
	assert.Equal(t, nil, repo.SaveInventorySlot(ctx, id, 34, world.Item{ID: 7, Count: 2}))
	assert.Equal(t, nil, repo.SaveInventorySlot(ctx, id, 34, world.Item{ID: 7, Count: 3}))
	assert.Equal(t, nil, repo.SaveEquipmentSlot(ctx, id, 2, world.Item{ID: 20, Count: 1}))

	inv, err := repo.LoadInventory(ctx, id)
	assert.Equal(t, nil, err)
	assert.Equal(t, world.Item{ID: 40308, Count: 1000}, inv.Slots[0])
	assert.Equal(t, world.Item{ID: 7, Count: 3}, inv.Slots[34])
	assert.Equal(t, world.Item{}, inv.Slots[1])

	eq, err := repo.LoadEquipment(ctx, id)
	assert.Equal(t, nil, err)
	assert.Equal(t, world.Item{ID: 20, Count: 1}, eq.Slots[2])

	assert.Equal(t, nil, repo.SaveInventorySlot(ctx, id, 0, world.Item{}))
	inv, _ = repo.LoadInventory(ctx, id)
	assert.Equal(t, world.Item{}, inv.Slots[0])
}

func TestClosedDatabaseIsPersistenceError(t *testing.T) {
	db := openTestDB(t)
	_ = db.Close()
	err := NewLocationRepo(db).Save(context.Background(), 1, Location{})
	assert.T(t, errors.Is(err, ErrPersistence))
}

func TestSpoolRoundTrip(t *testing.T) {
	sp, err := NewSpool(filepath.Join(t.TempDir(), "a", "b.msgpack"))
	assert.Equal(t, nil, err)

	jobs, err := sp.Drain()
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, len(jobs))

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, nil, sp.Append(SaveJob{Kind: SaveLocation, AccountID: 1, Location: Location{Pos: world.Position{X: 3, Y: 4}, Dir: world.DirRight}}))
	assert.Equal(t, nil, sp.Append(
		SaveJob{Kind: SaveInventorySlot, AccountID: 2, Slot: 5, Item: world.Item{ID: 9, Count: 10}},
		SaveJob{Kind: SaveLogin, AccountID: 3, IP: "1.2.3.4", At: at},
	))

	jobs, err = sp.Drain()
	assert.Equal(t, nil, err)
	assert.Equal(t, 3, len(jobs))
	assert.Equal(t, SaveLocation, jobs[0].Kind)
	assert.Equal(t, world.Position{X: 3, Y: 4}, jobs[0].Location.Pos)
	assert.Equal(t, world.DirRight, jobs[0].Location.Dir)
	assert.Equal(t, world.Item{ID: 9, Count: 10}, jobs[1].Item)
	assert.Equal(t, uint16(5), jobs[1].Slot)
	assert.Equal(t, "1.2.3.4", jobs[2].IP)
	assert.T(t, jobs[2].At.Equal(at))

	jobs, err = sp.Drain()
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, len(jobs))
}

func TestSaverSpoolsFailedJobsAndFlushesLater(t *testing.T) {
	ctx := context.Background()
	cfg := testPersistConfig(t)

	broken := openTestDB(t)
	_ = broken.Close()
	down, err := NewSaver(NewRepos(broken), nil, cfg, zap.NewNop())
	assert.Equal(t, nil, err)

	loc := Location{Pos: world.Position{Map: world.MapPosition{X: 2, Y: 2}, X: 7, Y: 8}, Dir: world.DirDown}
	down.handle(ctx, SaveJob{Kind: SaveLocation, AccountID: 1, Location: loc})

	db := openTestDB(t)
	id := createAccount(t, db, "dave")
	assert.Equal(t, int64(1), id)

	up, err := NewSaver(NewRepos(db), nil, cfg, zap.NewNop())
	assert.Equal(t, nil, err)
	n, err := up.Flush(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, n)

	got, ok, err := NewLocationRepo(db).Load(ctx, id)
	assert.Equal(t, nil, err)
	assert.T(t, ok)
	assert.Equal(t, loc, got)

	n, err = up.Flush(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, n)
}

func TestSpooledLocationDoesNotOverwriteNewerSave(t *testing.T) {
	ctx := context.Background()

	broken := openTestDB(t)
	_ = broken.Close()
	s, err := NewSaver(NewRepos(broken), nil, testPersistConfig(t), zap.NewNop())
	assert.Equal(t, nil, err)

	older := Location{Pos: world.Position{Map: world.MapPosition{X: 1, Y: 1}, X: 3, Y: 4}, Dir: world.DirUp}
	newer := Location{Pos: world.Position{Map: world.MapPosition{X: 2, Y: 1}, X: 9, Y: 9}, Dir: world.DirLeft}

	s.handle(ctx, SaveJob{Kind: SaveLocation, AccountID: 1, Location: older})

	// database comes back before the spool is replayed
	db := openTestDB(t)
	id := createAccount(t, db, "erin")
	assert.Equal(t, int64(1), id)
	s.repos = NewRepos(db)

	s.handle(ctx, SaveJob{Kind: SaveLocation, AccountID: id, Location: newer})
	_, err = s.Flush(ctx)
	assert.Equal(t, nil, err)

	got, ok, err := NewLocationRepo(db).Load(ctx, id)
	assert.Equal(t, nil, err)
	assert.T(t, ok)
	assert.Equal(t, newer, got)

	jobs, err := s.spool.Drain()
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, len(jobs))
}

func TestFlushReplaysNewestJobPerRow(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	id := createAccount(t, db, "frank")
	s, err := NewSaver(NewRepos(db), nil, testPersistConfig(t), zap.NewNop())
	assert.Equal(t, nil, err)

	first := Location{Pos: world.Position{Map: world.MapPosition{X: 1, Y: 1}, X: 1, Y: 1}, Dir: world.DirUp}
	second := Location{Pos: world.Position{Map: world.MapPosition{X: 1, Y: 1}, X: 2, Y: 2}, Dir: world.DirDown}

	// appended out of order
	assert.Equal(t, nil, s.spool.Append(
		SaveJob{Kind: SaveLocation, AccountID: id, Location: second, Seq: 20},
		SaveJob{Kind: SaveLocation, AccountID: id, Location: first, Seq: 10},
	))
	n, err := s.Flush(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, n)

	got, ok, err := NewLocationRepo(db).Load(ctx, id)
	assert.Equal(t, nil, err)
	assert.T(t, ok)
	assert.Equal(t, second, got)
}

func TestLatestPerRowKeepsSlotsApart(t *testing.T) {
	jobs := latestPerRow([]SaveJob{
		{Kind: SaveInventorySlot, AccountID: 1, Slot: 2, Seq: 3},
		{Kind: SaveInventorySlot, AccountID: 1, Slot: 1, Seq: 1},
		{Kind: SaveInventorySlot, AccountID: 1, Slot: 1, Seq: 2},
		{Kind: SaveLocation, AccountID: 1, Seq: 4},
	})
	assert.Equal(t, 3, len(jobs))
	assert.Equal(t, uint64(2), jobs[0].Seq)
	assert.Equal(t, uint64(3), jobs[1].Seq)
	assert.Equal(t, uint64(4), jobs[2].Seq)
}

func TestSaverUnknownKindIsNotRetried(t *testing.T) {
	s, err := NewSaver(NewRepos(openTestDB(t)), nil, testPersistConfig(t), zap.NewNop())
	assert.Equal(t, nil, err)
	err = s.Save(context.Background(), SaveJob{Kind: 99})
	assert.NotEqual(t, nil, err)
	assert.T(t, !errors.Is(err, ErrPersistence))
}

func TestEnqueueSpoolsWhenQueueIsFull(t *testing.T) {
	s, err := NewSaver(NewRepos(openTestDB(t)), nil, testPersistConfig(t), zap.NewNop())
	assert.Equal(t, nil, err)

	s.Enqueue(SaveJob{Kind: SaveLocation, AccountID: 1})
	s.Enqueue(SaveJob{Kind: SaveLocation, AccountID: 2})

	assert.Equal(t, 1, len(s.queue))
	jobs, err := s.spool.Drain()
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(jobs))
	assert.Equal(t, int64(2), jobs[0].AccountID)
}

func TestLocationSnapshotCoversOnlinePlayers(t *testing.T) {
	store := world.NewStore()
	pos := world.Position{Map: world.MapPosition{X: 1, Y: 1}, X: 3, Y: 3}

	online := store.Spawn(world.KindPlayer)
	store.Client.Set(online, world.Client{AccountID: 11, Username: "on", Online: packet.OnlineOnline})
	store.Place(online, pos, world.DirLeft)

	pending := store.Spawn(world.KindPlayer)
	store.Client.Set(pending, world.Client{AccountID: 12, Username: "pending", Online: packet.OnlineAccepted})
	store.Place(pending, pos, world.DirLeft)

	s, err := NewSaver(nil, store, testPersistConfig(t), zap.NewNop())
	assert.Equal(t, nil, err)

	jobs := s.locationJobs()
	assert.Equal(t, 1, len(jobs))
	assert.Equal(t, int64(11), jobs[0].AccountID)
	assert.Equal(t, Location{Pos: pos, Dir: world.DirLeft}, jobs[0].Location)
}
