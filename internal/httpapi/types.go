package httpapi

import (
	"github.com/shopspring/decimal"

	"mirrord/internal/domain"
	"mirrord/internal/engine"
)

// StatusResponse is the body of GET /.
type StatusResponse struct {
	Status string `json:"status"`
	Broker string `json:"broker"`
	DryRun bool   `json:"dry_run"`
}

// AccountJSON is one account in GET /accounts. Credentials never leave the
// store through this API.
type AccountJSON struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	IsMaster bool   `json:"is_master"`
	Enabled  bool   `json:"enabled"`
}

// AccountsResponse is the body of GET /accounts.
type AccountsResponse struct {
	Accounts []AccountJSON `json:"accounts"`
}

// SyncRequest is the body of POST /orders/sync: one master order to mirror.
type SyncRequest struct {
	OrderID    string           `json:"order_id"`
	Instrument string           `json:"instrument"`
	Side       string           `json:"side"`
	Quantity   decimal.Decimal  `json:"quantity"`
	Price      *decimal.Decimal `json:"price,omitempty"`
}

// SyncResponse reports the per-follower outcomes of one dispatch.
type SyncResponse struct {
	MasterOrderID string          `json:"master_order_id"`
	Results       []engine.Result `json:"results"`
}

// MappingJSON is one mapping row in GET /orders/{id}/mappings.
type MappingJSON struct {
	ID                int64  `json:"id"`
	MasterOrderID     string `json:"master_order_id"`
	FollowerOrderID   string `json:"follower_order_id"`
	FollowerAccountID int64  `json:"follower_account_id"`
	SyncState         string `json:"sync_state"`
	Reason            string `json:"reason,omitempty"`
	CreatedAt         int64  `json:"created_at"` // Unix ms
	UpdatedAt         int64  `json:"updated_at"` // Unix ms
}

// MappingsResponse is the body of GET /orders/{id}/mappings.
type MappingsResponse struct {
	MasterOrderID string        `json:"master_order_id"`
	Mappings      []MappingJSON `json:"mappings"`
}

func convertMapping(m domain.Mapping) MappingJSON {
	return MappingJSON{
		ID:                m.ID,
		MasterOrderID:     m.MasterOrderID,
		FollowerOrderID:   m.FollowerOrderID,
		FollowerAccountID: m.FollowerAccountID,
		SyncState:         string(m.SyncState),
		Reason:            m.Reason,
		CreatedAt:         m.CreatedAt.UnixMilli(),
		UpdatedAt:         m.UpdatedAt.UnixMilli(),
	}
}
