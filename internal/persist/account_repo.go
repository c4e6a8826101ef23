package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ErrAccountExists is returned by Create for a taken username.
var ErrAccountExists = errors.New("account already exists")

type AccountRow struct {
	ID           int64
	Username     string
	PasswordHash string
	LastIP       string
}

type AccountRepo struct {
	db   *DB
	cost int
}

func NewAccountRepo(db *DB) *AccountRepo {
	return &AccountRepo{db: db, cost: bcrypt.DefaultCost}
}

// Load returns the account or nil when username is unknown.
func (r *AccountRepo) Load(ctx context.Context, username string) (*AccountRow, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	row := &AccountRow{}
	err := r.db.SQL.QueryRowContext(ctx, r.db.rebind(
		`SELECT id, username, password_hash, last_ip FROM accounts WHERE username = ?`), username,
	).Scan(&row.ID, &row.Username, &row.PasswordHash, &row.LastIP)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("load account", err)
	}
	return row, nil
}

// Create hashes rawPassword and inserts a new account.
func (r *AccountRepo) Create(ctx context.Context, username, rawPassword, ip string) (*AccountRow, error) {
	existing, err := r.Load(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%s: %w", username, ErrAccountExists)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(rawPassword), r.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	row := &AccountRow{Username: username, PasswordHash: string(hash), LastIP: ip}

	qctx, cancel := r.db.withTimeout(ctx)
	defer cancel()
	err = r.db.SQL.QueryRowContext(qctx, r.db.rebind(
		`INSERT INTO accounts (username, password_hash, last_ip, last_login)
		 VALUES (?, ?, ?, ?) RETURNING id`),
		row.Username, row.PasswordHash, row.LastIP, time.Now().UTC(),
	).Scan(&row.ID)
	if err != nil {
		return nil, storageErr("create account", err)
	}
	return row, nil
}

func (r *AccountRepo) ValidatePassword(hash string, rawPassword string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(rawPassword)) == nil
}

// Save records a login from ip.
func (r *AccountRepo) Save(ctx context.Context, id int64, ip string, at time.Time) error {
	_, err := r.db.exec(ctx,
		`UPDATE accounts SET last_login = ?, last_ip = ? WHERE id = ?`,
		at.UTC(), ip, id,
	)
	return storageErr("save account", err)
}
