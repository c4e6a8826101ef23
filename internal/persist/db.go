package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/l1jgo/worldmesh/internal/config"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// ErrPersistence wraps every storage error this package returns.
var ErrPersistence = errors.New("persistence failure")

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

// DB is the database handle shared by the repositories. Postgres goes
// through a pgx pool; both dialects are queried through database/sql.
type DB struct {
	SQL     *sql.DB
	Pool    *pgxpool.Pool // postgres only
	Dialect string

	timeout time.Duration
	log     *zap.Logger
}

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*DB, error) {
	switch cfg.Driver {
	case DialectPostgres:
		return openPostgres(ctx, cfg, log)
	case DialectSQLite:
		return openSQLite(ctx, cfg, log)
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return &DB{
		SQL:     stdlib.OpenDBFromPool(pool),
		Pool:    pool,
		Dialect: DialectPostgres,
		timeout: cfg.QueryTimeout,
		log:     log,
	}, nil
}

func openSQLite(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*DB, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.DSN, err)
	}
	// one connection: an in-memory database lives and dies with it
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, p := range []string{
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", p, err)
		}
	}
	return &DB{
		SQL:     db,
		Dialect: DialectSQLite,
		timeout: cfg.QueryTimeout,
		log:     log,
	}, nil
}

// Close releases the database handle and the pool behind it.
func (db *DB) Close() error {
	err := db.SQL.Close()
	if db.Pool != nil {
		db.Pool.Close()
	}
	return err
}

// rebind rewrites ? placeholders to the dialect's style.
func (db *DB) rebind(q string) string {
	if db.Dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] != '?' {
			b.WriteByte(q[i])
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

// withTimeout bounds one statement by the configured query timeout.
func (db *DB) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if db.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, db.timeout)
}

func (db *DB) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()
	return db.SQL.ExecContext(ctx, db.rebind(q), args...)
}
