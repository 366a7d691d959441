// Package store defines storage interfaces for accounts and order mappings,
// with SQLite persistence and a Parquet audit export.
package store

import (
	"context"
	"errors"

	"mirrord/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicateMapping is returned by InsertMapping when a row for the same
// (master_order_id, follower_account_id) pair already exists. Dispatch is
// idempotent per follower; callers treat this as "already mirrored".
var ErrDuplicateMapping = errors.New("store: duplicate mapping")

// AccountStore persists brokerage accounts. The mirroring engine itself
// only reads; writes come from the provisioning tool.
type AccountStore interface {
	// CreateAccount inserts a new account and sets its ID.
	CreateAccount(ctx context.Context, a *domain.Account) error

	// GetAccount retrieves a single account by id.
	GetAccount(ctx context.Context, id int64) (*domain.Account, error)

	// ListAccounts returns all accounts.
	ListAccounts(ctx context.Context) ([]domain.Account, error)

	// ListFollowers returns all enabled, non-master accounts, which is
	// the exact set of mirroring targets.
	ListFollowers(ctx context.Context) ([]domain.Account, error)

	// SetAccountEnabled flips an account's enabled flag.
	SetAccountEnabled(ctx context.Context, id int64, enabled bool) error
}

// MappingStore persists the master→follower order mapping rows. Rows are
// append-only: only sync_state (and updated_at) ever change after insert.
type MappingStore interface {
	// InsertMapping inserts a new mapping row and sets its ID. Returns
	// ErrDuplicateMapping when the (master, follower) pair already exists.
	InsertMapping(ctx context.Context, m *domain.Mapping) error

	// GetMapping retrieves the row for one (master, follower) pair, or
	// ErrNotFound.
	GetMapping(ctx context.Context, masterOrderID string, followerAccountID int64) (*domain.Mapping, error)

	// UpdateMappingState sets the sync state of a row by id.
	UpdateMappingState(ctx context.Context, id int64, state domain.SyncState) error

	// MappingsByMaster returns all rows for one master order.
	MappingsByMaster(ctx context.Context, masterOrderID string) ([]domain.Mapping, error)

	// NonTerminalMappings returns every row still awaiting reconciliation
	// (PENDING, ACKED, PARTIALLY_FILLED, UNKNOWN).
	NonTerminalMappings(ctx context.Context) ([]domain.Mapping, error)

	// AllMappings returns every mapping row, for the audit export.
	AllMappings(ctx context.Context) ([]domain.Mapping, error)
}
