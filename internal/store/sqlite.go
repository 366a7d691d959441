package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"mirrord/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ AccountStore = (*SQLiteStore)(nil)
var _ MappingStore = (*SQLiteStore)(nil)

// SQLiteStore implements AccountStore and MappingStore backed by a SQLite
// database. Timestamps are stored as Unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL,
	api_key     TEXT NOT NULL,
	api_secret  TEXT NOT NULL DEFAULT '',
	is_master   INTEGER NOT NULL DEFAULT 0,
	enabled     INTEGER NOT NULL DEFAULT 1,
	created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS order_maps (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	master_order_id     TEXT NOT NULL,
	follower_order_id   TEXT NOT NULL,
	follower_account_id INTEGER NOT NULL REFERENCES accounts(id),
	sync_state          TEXT NOT NULL,
	reason              TEXT NOT NULL DEFAULT '',
	created_at          INTEGER NOT NULL,
	updated_at          INTEGER NOT NULL,
	UNIQUE (master_order_id, follower_account_id)
);

CREATE INDEX IF NOT EXISTS idx_order_maps_state ON order_maps (sync_state);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, runs the
// schema migration, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// AccountStore implementation
// ---------------------------------------------------------------------------

// CreateAccount inserts a new account and sets its ID and CreatedAt.
func (s *SQLiteStore) CreateAccount(ctx context.Context, a *domain.Account) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (name, api_key, api_secret, is_master, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.Name, a.APIKey, a.APISecret, boolToInt(a.IsMaster), boolToInt(a.Enabled), now.UnixMilli())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = id
	a.CreatedAt = now
	return nil
}

// GetAccount retrieves a single account by id.
func (s *SQLiteStore) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, api_key, api_secret, is_master, enabled, created_at
		 FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

// ListAccounts returns all accounts ordered by id.
func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	return s.queryAccounts(ctx,
		`SELECT id, name, api_key, api_secret, is_master, enabled, created_at
		 FROM accounts ORDER BY id`)
}

// ListFollowers returns all enabled, non-master accounts ordered by id.
func (s *SQLiteStore) ListFollowers(ctx context.Context) ([]domain.Account, error) {
	return s.queryAccounts(ctx,
		`SELECT id, name, api_key, api_secret, is_master, enabled, created_at
		 FROM accounts WHERE enabled = 1 AND is_master = 0 ORDER BY id`)
}

// SetAccountEnabled flips an account's enabled flag.
func (s *SQLiteStore) SetAccountEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) queryAccounts(ctx context.Context, query string, args ...any) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var a domain.Account
		var isMaster, enabled int
		var createdAt int64
		if err := rows.Scan(&a.ID, &a.Name, &a.APIKey, &a.APISecret, &isMaster, &enabled, &createdAt); err != nil {
			return nil, err
		}
		a.IsMaster = isMaster != 0
		a.Enabled = enabled != 0
		a.CreatedAt = time.UnixMilli(createdAt).UTC()
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func scanAccount(row *sql.Row) (*domain.Account, error) {
	var a domain.Account
	var isMaster, enabled int
	var createdAt int64
	err := row.Scan(&a.ID, &a.Name, &a.APIKey, &a.APISecret, &isMaster, &enabled, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.IsMaster = isMaster != 0
	a.Enabled = enabled != 0
	a.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &a, nil
}

// ---------------------------------------------------------------------------
// MappingStore implementation
// ---------------------------------------------------------------------------

const mappingColumns = `id, master_order_id, follower_order_id, follower_account_id,
	sync_state, reason, created_at, updated_at`

// InsertMapping inserts a new mapping row. The unique index on
// (master_order_id, follower_account_id) enforces at-most-one row per pair.
func (s *SQLiteStore) InsertMapping(ctx context.Context, m *domain.Mapping) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO order_maps (master_order_id, follower_order_id, follower_account_id,
			sync_state, reason, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.MasterOrderID, m.FollowerOrderID, m.FollowerAccountID,
		string(m.SyncState), m.Reason, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateMapping
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	m.ID = id
	m.CreatedAt = now
	m.UpdatedAt = now
	return nil
}

// GetMapping retrieves the row for one (master, follower) pair.
func (s *SQLiteStore) GetMapping(ctx context.Context, masterOrderID string, followerAccountID int64) (*domain.Mapping, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+mappingColumns+` FROM order_maps
		 WHERE master_order_id = ? AND follower_account_id = ?`,
		masterOrderID, followerAccountID)

	m, err := scanMapping(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateMappingState sets the sync state of a row by id.
func (s *SQLiteStore) UpdateMappingState(ctx context.Context, id int64, state domain.SyncState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE order_maps SET sync_state = ?, updated_at = ? WHERE id = ?`,
		string(state), time.Now().UTC().UnixMilli(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MappingsByMaster returns all rows for one master order ordered by id.
func (s *SQLiteStore) MappingsByMaster(ctx context.Context, masterOrderID string) ([]domain.Mapping, error) {
	return s.queryMappings(ctx,
		`SELECT `+mappingColumns+` FROM order_maps
		 WHERE master_order_id = ? ORDER BY id`, masterOrderID)
}

// AllMappings returns every mapping row ordered by id.
func (s *SQLiteStore) AllMappings(ctx context.Context) ([]domain.Mapping, error) {
	return s.queryMappings(ctx,
		`SELECT `+mappingColumns+` FROM order_maps ORDER BY id`)
}

// NonTerminalMappings returns every row still awaiting reconciliation.
func (s *SQLiteStore) NonTerminalMappings(ctx context.Context) ([]domain.Mapping, error) {
	return s.queryMappings(ctx,
		`SELECT `+mappingColumns+` FROM order_maps
		 WHERE sync_state IN (?, ?, ?, ?) ORDER BY id`,
		string(domain.SyncStatePending), string(domain.SyncStateAcked),
		string(domain.SyncStatePartiallyFilled), string(domain.SyncStateUnknown))
}

func (s *SQLiteStore) queryMappings(ctx context.Context, query string, args ...any) ([]domain.Mapping, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []domain.Mapping
	for rows.Next() {
		m, err := scanMapping(rows.Scan)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, *m)
	}
	return mappings, rows.Err()
}

func scanMapping(scan func(...any) error) (*domain.Mapping, error) {
	var m domain.Mapping
	var state string
	var createdAt, updatedAt int64
	if err := scan(&m.ID, &m.MasterOrderID, &m.FollowerOrderID, &m.FollowerAccountID,
		&state, &m.Reason, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	m.SyncState = domain.SyncState(state)
	m.CreatedAt = time.UnixMilli(createdAt).UTC()
	m.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
