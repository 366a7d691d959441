package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mirrord/internal/broker"
	"mirrord/internal/config"
	"mirrord/internal/domain"
	"mirrord/internal/notify"
	"mirrord/internal/store"
)

// Reconciler polls the broker for every non-terminal mapping row and walks
// it through the sync state machine. One failing row never blocks a tick:
// errors are logged, counted, and retried on the next interval.
type Reconciler struct {
	accounts    store.AccountStore
	mappings    store.MappingStore
	broker      broker.Client
	notifier    notify.Notifier
	cfg         config.ReconcileConfig
	callTimeout time.Duration
	log         *slog.Logger

	mu       sync.Mutex
	failures map[int64]int // mapping id -> consecutive poll failures

	cancel context.CancelFunc
	done   chan struct{}
}

// NewReconciler wires a Reconciler. callTimeout bounds each status poll.
func NewReconciler(accounts store.AccountStore, mappings store.MappingStore,
	bk broker.Client, notifier notify.Notifier,
	cfg config.ReconcileConfig, callTimeout time.Duration, log *slog.Logger) *Reconciler {

	return &Reconciler{
		accounts:    accounts,
		mappings:    mappings,
		broker:      bk,
		notifier:    notifier,
		cfg:         cfg,
		callTimeout: callTimeout,
		log:         log,
		failures:    make(map[int64]int),
	}
}

// Start launches the background loop. It returns immediately.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.cfg.Interval())
		defer ticker.Stop()

		r.log.Info("reconciler started", "interval", r.cfg.Interval())
		for {
			select {
			case <-ctx.Done():
				r.log.Info("reconciler stopped")
				return
			case <-ticker.C:
				r.Tick(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (r *Reconciler) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

// Tick runs one reconciliation pass under the configured tick deadline.
// Exported so the HTTP API and tests can force a pass.
func (r *Reconciler) Tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.TickTimeout())
	defer cancel()

	open, err := r.mappings.NonTerminalMappings(ctx)
	if err != nil {
		r.log.Error("listing open mappings", "error", err)
		return
	}
	if len(open) == 0 {
		return
	}

	inflight := r.cfg.MaxInflight
	if inflight <= 0 {
		inflight = 4
	}

	var g errgroup.Group
	g.SetLimit(inflight)
	for _, m := range open {
		g.Go(func() error {
			r.reconcileRow(ctx, &m)
			return nil
		})
	}
	g.Wait()
}

// reconcileRow polls one follower order and applies the state transition.
func (r *Reconciler) reconcileRow(ctx context.Context, m *domain.Mapping) {
	account, err := r.accounts.GetAccount(ctx, m.FollowerAccountID)
	if err != nil {
		r.pollFailed(ctx, m, fmt.Errorf("loading account %d: %w", m.FollowerAccountID, err))
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	status, err := r.broker.GetOrderStatus(callCtx, m.FollowerOrderID, account)
	cancel()
	if err != nil {
		r.pollFailed(ctx, m, err)
		return
	}
	r.pollSucceeded(m.ID)

	next := domain.ClassifySyncState(status.Status)
	if next == m.SyncState {
		return
	}
	// Terminal states never change again; a stale poll result cannot
	// resurrect a finished row.
	if m.SyncState.Terminal() {
		return
	}

	if err := r.mappings.UpdateMappingState(ctx, m.ID, next); err != nil {
		r.log.Error("updating sync state",
			"mapping", m.ID, "follower_order", m.FollowerOrderID,
			"from", m.SyncState, "to", next, "error", err)
		return
	}

	r.log.Info("sync state changed",
		"mapping", m.ID, "master_order", m.MasterOrderID,
		"follower", m.FollowerAccountID, "follower_order", m.FollowerOrderID,
		"from", m.SyncState, "to", next)

	switch next {
	case domain.SyncStateRejected, domain.SyncStateCancelled:
		r.notifier.Notify(ctx, fmt.Sprintf(
			"order %s on follower %d ended %s (master %s)",
			m.FollowerOrderID, m.FollowerAccountID, next, m.MasterOrderID))
	}
}

// pollFailed bumps the row's consecutive-failure counter and alerts once
// when the configured threshold is crossed.
func (r *Reconciler) pollFailed(ctx context.Context, m *domain.Mapping, err error) {
	r.mu.Lock()
	r.failures[m.ID]++
	count := r.failures[m.ID]
	r.mu.Unlock()

	r.log.Warn("status poll failed",
		"mapping", m.ID, "follower_order", m.FollowerOrderID,
		"follower", m.FollowerAccountID, "consecutive", count, "error", err)

	if r.cfg.AlertAfterPollFailures > 0 && count == r.cfg.AlertAfterPollFailures {
		r.notifier.Notify(ctx, fmt.Sprintf(
			"order %s on follower %d unreachable for %d polls (master %s)",
			m.FollowerOrderID, m.FollowerAccountID, count, m.MasterOrderID))
	}
}

func (r *Reconciler) pollSucceeded(id int64) {
	r.mu.Lock()
	delete(r.failures, id)
	r.mu.Unlock()
}
