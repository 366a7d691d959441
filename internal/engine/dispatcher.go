// Package engine implements the two halves of the mirroring loop: the
// Dispatcher fans a master order out to every enabled follower account, and
// the Reconciler drives the resulting mapping rows to their terminal broker
// states in the background.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"mirrord/internal/broker"
	"mirrord/internal/config"
	"mirrord/internal/domain"
	"mirrord/internal/notify"
	"mirrord/internal/store"
	"mirrord/internal/util"
)

// Result is the per-follower outcome of one dispatch.
type Result struct {
	FollowerAccountID int64            `json:"follower_account_id"`
	FollowerName      string           `json:"follower_name"`
	FollowerOrderID   string           `json:"follower_order_id"`
	SyncState         domain.SyncState `json:"sync_state"`
	Skipped           bool             `json:"skipped,omitempty"`
	Reason            string           `json:"reason,omitempty"`
}

// Dispatcher mirrors master orders onto follower accounts. Dispatch is
// idempotent per (master order, follower): replays skip followers that
// already have a mapping row without touching the broker.
type Dispatcher struct {
	accounts    store.AccountStore
	mappings    store.MappingStore
	broker      broker.Client
	notifier    notify.Notifier
	limiter     *util.RateLimiter
	maxInflight int
	callTimeout time.Duration
	log         *slog.Logger
}

// NewDispatcher wires a Dispatcher. callTimeout bounds each broker call.
func NewDispatcher(accounts store.AccountStore, mappings store.MappingStore,
	bk broker.Client, notifier notify.Notifier,
	cfg config.DispatchConfig, callTimeout time.Duration, log *slog.Logger) *Dispatcher {

	d := &Dispatcher{
		accounts:    accounts,
		mappings:    mappings,
		broker:      bk,
		notifier:    notifier,
		maxInflight: cfg.MaxInflight,
		callTimeout: callTimeout,
		log:         log,
	}
	if d.maxInflight <= 0 {
		d.maxInflight = 4
	}
	if cfg.RateLimitPerMin > 0 {
		d.limiter = util.NewRateLimiter(cfg.RateLimitPerMin)
	}
	return d
}

// Dispatch validates the master order, places it on every enabled follower
// account, and records one mapping row per follower. Placement failures do
// not fail the dispatch: the follower gets a REJECTED row with the failure
// reason and the next follower proceeds. The returned error is non-nil only
// for validation failures and follower-listing failures.
func (d *Dispatcher) Dispatch(ctx context.Context, order *domain.MasterOrder) ([]Result, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}

	followers, err := d.accounts.ListFollowers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing followers: %w", err)
	}

	results := make([]Result, len(followers))
	var g errgroup.Group
	g.SetLimit(d.maxInflight)
	for i, f := range followers {
		g.Go(func() error {
			results[i] = d.dispatchOne(ctx, order, &f)
			return nil
		})
	}
	g.Wait()

	d.notifySummary(ctx, order, results)
	return results, nil
}

// dispatchOne mirrors the order onto a single follower account.
func (d *Dispatcher) dispatchOne(ctx context.Context, order *domain.MasterOrder, follower *domain.Account) Result {
	res := Result{FollowerAccountID: follower.ID, FollowerName: follower.Name}

	// Replays must not re-place. An existing row means this follower was
	// already handled for this master order.
	existing, err := d.mappings.GetMapping(ctx, order.ID, follower.ID)
	if err == nil {
		res.FollowerOrderID = existing.FollowerOrderID
		res.SyncState = existing.SyncState
		res.Skipped = true
		return res
	}
	if !errors.Is(err, store.ErrNotFound) {
		res.FollowerOrderID = domain.FailedOrderID
		res.SyncState = domain.SyncStateRejected
		res.Reason = "mapping lookup failed: " + err.Error()
		d.log.Error("mapping lookup failed",
			"master_order", order.ID, "follower", follower.ID, "error", err)
		return res
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return d.recordFailure(ctx, order, follower, res, err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	followerOrderID, err := d.broker.PlaceOrder(callCtx, order, follower)
	cancel()
	if err != nil {
		return d.recordFailure(ctx, order, follower, res, err)
	}

	m := domain.Mapping{
		MasterOrderID:     order.ID,
		FollowerOrderID:   followerOrderID,
		FollowerAccountID: follower.ID,
		SyncState:         domain.SyncStatePending,
	}
	if err := d.mappings.InsertMapping(ctx, &m); err != nil {
		if errors.Is(err, store.ErrDuplicateMapping) {
			// Lost a race with a concurrent dispatch of the same order.
			// The other row wins; this placement is reported as skipped.
			d.log.Warn("duplicate mapping after placement",
				"master_order", order.ID, "follower", follower.ID,
				"follower_order", followerOrderID)
			res.FollowerOrderID = followerOrderID
			res.SyncState = domain.SyncStatePending
			res.Skipped = true
			return res
		}
		res.FollowerOrderID = followerOrderID
		res.SyncState = domain.SyncStateUnknown
		res.Reason = "recording mapping failed: " + err.Error()
		d.log.Error("recording mapping failed",
			"master_order", order.ID, "follower", follower.ID, "error", err)
		return res
	}

	res.FollowerOrderID = followerOrderID
	res.SyncState = domain.SyncStatePending
	d.log.Info("order mirrored",
		"master_order", order.ID, "follower", follower.ID,
		"follower_order", followerOrderID)
	return res
}

// recordFailure persists a REJECTED row with the sentinel follower order id
// so replays skip this follower instead of risking a duplicate fill.
func (d *Dispatcher) recordFailure(ctx context.Context, order *domain.MasterOrder,
	follower *domain.Account, res Result, cause error) Result {

	res.FollowerOrderID = domain.FailedOrderID
	res.SyncState = domain.SyncStateRejected
	res.Reason = cause.Error()

	m := domain.Mapping{
		MasterOrderID:     order.ID,
		FollowerOrderID:   domain.FailedOrderID,
		FollowerAccountID: follower.ID,
		SyncState:         domain.SyncStateRejected,
		Reason:            cause.Error(),
	}
	if err := d.mappings.InsertMapping(ctx, &m); err != nil && !errors.Is(err, store.ErrDuplicateMapping) {
		d.log.Error("recording failed placement",
			"master_order", order.ID, "follower", follower.ID, "error", err)
	}

	d.log.Warn("placement failed",
		"master_order", order.ID, "follower", follower.ID,
		"retryable", broker.Retryable(cause), "error", cause)
	return res
}

// notifySummary sends a single summary message per dispatch. Replays where
// every follower was skipped stay silent.
func (d *Dispatcher) notifySummary(ctx context.Context, order *domain.MasterOrder, results []Result) {
	var placed, failed, skipped int
	for _, r := range results {
		switch {
		case r.Skipped:
			skipped++
		case r.FollowerOrderID == domain.FailedOrderID || r.Reason != "":
			failed++
		default:
			placed++
		}
	}
	if placed == 0 && failed == 0 {
		return
	}

	text := fmt.Sprintf("mirror %s %s %s %s: %d placed, %d failed",
		order.ID, order.Side, order.Qty, order.Instrument, placed, failed)
	if skipped > 0 {
		text += fmt.Sprintf(", %d skipped", skipped)
	}
	d.notifier.Notify(ctx, text)
}
