// Package domain defines the core types of the mirroring engine: accounts,
// master orders, mapping rows, and the sync state machine that tracks a
// follower order from placement to its terminal broker state.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidOrder is wrapped by all master-order validation failures.
var ErrInvalidOrder = errors.New("invalid master order")

// FailedOrderID is the sentinel follower_order_id recorded when a broker
// placement failed and no broker-assigned identifier exists.
const FailedOrderID = "failed"

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// ParseOrderSide normalises a side string. It accepts any casing.
func ParseOrderSide(s string) (OrderSide, error) {
	switch strings.ToLower(s) {
	case "buy":
		return OrderSideBuy, nil
	case "sell":
		return OrderSideSell, nil
	default:
		return "", fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, s)
	}
}

// Account is a brokerage account known to the engine. Exactly the set of
// enabled, non-master accounts are mirroring targets. The API key is a
// secret: it must never appear in logs or notification text.
type Account struct {
	ID        int64
	Name      string
	APIKey    string
	APISecret string
	IsMaster  bool
	Enabled   bool
	CreatedAt time.Time
}

// MasterOrder is an order event observed on the master account.
type MasterOrder struct {
	ID         string
	Instrument string
	Side       OrderSide
	Qty        decimal.Decimal
	Price      *decimal.Decimal // nil for market orders
}

// Validate checks the fields a broker requires at minimum. A master order
// that fails validation is rejected synchronously and never dispatched.
func (o *MasterOrder) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("%w: missing order id", ErrInvalidOrder)
	}
	if o.Instrument == "" {
		return fmt.Errorf("%w: missing instrument", ErrInvalidOrder)
	}
	if o.Side != OrderSideBuy && o.Side != OrderSideSell {
		return fmt.Errorf("%w: missing or unknown side", ErrInvalidOrder)
	}
	if o.Qty.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	if o.Price != nil && o.Price.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: limit price must be positive", ErrInvalidOrder)
	}
	return nil
}

// SyncState is the reconciliation state of one mapping row.
type SyncState string

const (
	SyncStatePending         SyncState = "PENDING"
	SyncStateAcked           SyncState = "ACKED"
	SyncStateFilled          SyncState = "FILLED"
	SyncStatePartiallyFilled SyncState = "PARTIALLY_FILLED"
	SyncStateRejected        SyncState = "REJECTED"
	SyncStateCancelled       SyncState = "CANCELLED"
	SyncStateUnknown         SyncState = "UNKNOWN"
)

// Terminal reports whether the state can never change again. UNKNOWN is
// non-terminal: rows in it stay eligible for reconciliation retries.
func (s SyncState) Terminal() bool {
	switch s {
	case SyncStateFilled, SyncStateRejected, SyncStateCancelled:
		return true
	}
	return false
}

// ClassifySyncState maps a broker-reported status string onto the internal
// state machine. Unrecognised statuses classify as UNKNOWN so the row is
// retried rather than stuck.
//
//	NEW, ACCEPTED, OPEN          → ACKED
//	FILLED                       → FILLED
//	PARTIAL, PARTIALLY_FILLED    → PARTIALLY_FILLED
//	CANCELED, CANCELLED          → CANCELLED
//	REJECTED                     → REJECTED
func ClassifySyncState(brokerStatus string) SyncState {
	switch strings.ToUpper(strings.TrimSpace(brokerStatus)) {
	case "NEW", "ACCEPTED", "OPEN":
		return SyncStateAcked
	case "FILLED":
		return SyncStateFilled
	case "PARTIAL", "PARTIALLY_FILLED", "PARTIAL_FILL":
		return SyncStatePartiallyFilled
	case "CANCELED", "CANCELLED":
		return SyncStateCancelled
	case "REJECTED":
		return SyncStateRejected
	default:
		return SyncStateUnknown
	}
}

// Mapping links one master order to the order it produced on one follower
// account. Rows are append-only: the dispatcher inserts them in PENDING (or
// REJECTED when placement failed) and only the reconciler updates
// sync_state afterwards.
type Mapping struct {
	ID                int64
	MasterOrderID     string
	FollowerOrderID   string
	FollowerAccountID int64
	SyncState         SyncState
	Reason            string // failure reason for REJECTED rows, else empty
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OrderStatus is the broker's report for a single order. Filled quantity
// and average price are nil when the broker does not report them.
type OrderStatus struct {
	OrderID   string
	Status    string
	FilledQty *decimal.Decimal
	AvgPrice  *decimal.Decimal
}
