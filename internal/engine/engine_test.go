package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mirrord/internal/config"
	"mirrord/internal/domain"
	"mirrord/internal/store"
)

// fakeBroker scripts per-follower placement outcomes and per-order status
// sequences so tests can drive the state machine deterministically.
type fakeBroker struct {
	mu          sync.Mutex
	placeIDs    map[int64]string   // follower account id -> order id to return
	placeErrs   map[int64]error    // follower account id -> placement error
	statuses    map[string][]string // follower order id -> status sequence
	statusErrs  map[string]error
	placeCalls  int
	statusCalls int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		placeIDs:   make(map[int64]string),
		placeErrs:  make(map[int64]error),
		statuses:   make(map[string][]string),
		statusErrs: make(map[string]error),
	}
}

func (b *fakeBroker) Name() string { return "fake" }

func (b *fakeBroker) PlaceOrder(_ context.Context, _ *domain.MasterOrder, account *domain.Account) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.placeCalls++
	if err := b.placeErrs[account.ID]; err != nil {
		return "", err
	}
	if id, ok := b.placeIDs[account.ID]; ok {
		return id, nil
	}
	return fmt.Sprintf("X%d", account.ID), nil
}

func (b *fakeBroker) GetOrderStatus(_ context.Context, orderID string, _ *domain.Account) (*domain.OrderStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statusCalls++
	if err := b.statusErrs[orderID]; err != nil {
		return nil, err
	}
	seq := b.statuses[orderID]
	if len(seq) == 0 {
		return &domain.OrderStatus{OrderID: orderID, Status: "NEW"}, nil
	}
	status := seq[0]
	if len(seq) > 1 {
		b.statuses[orderID] = seq[1:]
	}
	return &domain.OrderStatus{OrderID: orderID, Status: status}, nil
}

func (b *fakeBroker) counts() (place, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.placeCalls, b.statusCalls
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, text string) {
	n.mu.Lock()
	n.messages = append(n.messages, text)
	n.mu.Unlock()
}

func (n *recordingNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngineStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "mirrord.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore returned error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedFollowers(t *testing.T, s *store.SQLiteStore, n int) []domain.Account {
	t.Helper()
	ctx := context.Background()

	master := domain.Account{Name: "master", APIKey: "mk", IsMaster: true, Enabled: true}
	if err := s.CreateAccount(ctx, &master); err != nil {
		t.Fatalf("CreateAccount(master) returned error: %v", err)
	}

	followers := make([]domain.Account, n)
	for i := range followers {
		followers[i] = domain.Account{
			Name:    fmt.Sprintf("follower-%d", i+1),
			APIKey:  fmt.Sprintf("k%d", i+1),
			Enabled: true,
		}
		if err := s.CreateAccount(ctx, &followers[i]); err != nil {
			t.Fatalf("CreateAccount(follower-%d) returned error: %v", i+1, err)
		}
	}
	return followers
}

func marketOrder(id string) *domain.MasterOrder {
	return &domain.MasterOrder{
		ID:         id,
		Instrument: "EURUSD",
		Side:       domain.OrderSideBuy,
		Qty:        decimal.NewFromInt(100),
	}
}

func newDispatcher(s *store.SQLiteStore, bk *fakeBroker, n *recordingNotifier) *Dispatcher {
	return NewDispatcher(s, s, bk, n, config.DispatchConfig{MaxInflight: 2}, 5*time.Second, testLogger())
}

func TestDispatchMixedOutcomes(t *testing.T) {
	s := newEngineStore(t)
	followers := seedFollowers(t, s, 2)
	bk := newFakeBroker()
	bk.placeIDs[followers[0].ID] = "X1"
	bk.placeErrs[followers[1].ID] = errors.New("request timed out")
	notifier := &recordingNotifier{}
	d := newDispatcher(s, bk, notifier)

	results, err := d.Dispatch(context.Background(), marketOrder("M1"))
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Dispatch returned %d results, want 2", len(results))
	}

	byAccount := make(map[int64]Result, len(results))
	for _, r := range results {
		byAccount[r.FollowerAccountID] = r
	}

	ok := byAccount[followers[0].ID]
	if ok.FollowerOrderID != "X1" || ok.SyncState != domain.SyncStatePending {
		t.Errorf("follower 1 result = %+v, want X1/PENDING", ok)
	}
	failed := byAccount[followers[1].ID]
	if failed.FollowerOrderID != domain.FailedOrderID || failed.SyncState != domain.SyncStateRejected {
		t.Errorf("follower 2 result = %+v, want failed/REJECTED", failed)
	}
	if !strings.Contains(failed.Reason, "timed out") {
		t.Errorf("follower 2 reason = %q, want the placement error", failed.Reason)
	}

	// One row per follower, matching the results.
	m1, err := s.GetMapping(context.Background(), "M1", followers[0].ID)
	if err != nil {
		t.Fatalf("GetMapping(follower 1) returned error: %v", err)
	}
	if m1.FollowerOrderID != "X1" || m1.SyncState != domain.SyncStatePending {
		t.Errorf("follower 1 row = %+v, want X1/PENDING", m1)
	}
	m2, err := s.GetMapping(context.Background(), "M1", followers[1].ID)
	if err != nil {
		t.Fatalf("GetMapping(follower 2) returned error: %v", err)
	}
	if m2.FollowerOrderID != domain.FailedOrderID || m2.SyncState != domain.SyncStateRejected {
		t.Errorf("follower 2 row = %+v, want failed/REJECTED", m2)
	}

	msgs := notifier.sent()
	if len(msgs) != 1 {
		t.Fatalf("notifier got %d messages, want exactly 1 summary: %v", len(msgs), msgs)
	}
	if !strings.Contains(msgs[0], "1 placed") || !strings.Contains(msgs[0], "1 failed") {
		t.Errorf("summary = %q, want placed and failed counts", msgs[0])
	}
	for _, f := range followers {
		if strings.Contains(msgs[0], f.APIKey) {
			t.Errorf("summary %q leaks an API key", msgs[0])
		}
	}
}

func TestDispatchReplayIsIdempotent(t *testing.T) {
	s := newEngineStore(t)
	followers := seedFollowers(t, s, 2)
	bk := newFakeBroker()
	bk.placeErrs[followers[1].ID] = errors.New("request timed out")
	notifier := &recordingNotifier{}
	d := newDispatcher(s, bk, notifier)

	if _, err := d.Dispatch(context.Background(), marketOrder("M1")); err != nil {
		t.Fatalf("first Dispatch returned error: %v", err)
	}
	placeBefore, _ := bk.counts()

	results, err := d.Dispatch(context.Background(), marketOrder("M1"))
	if err != nil {
		t.Fatalf("second Dispatch returned error: %v", err)
	}

	placeAfter, _ := bk.counts()
	if placeAfter != placeBefore {
		t.Errorf("replay made %d broker calls, want 0", placeAfter-placeBefore)
	}
	for _, r := range results {
		if !r.Skipped {
			t.Errorf("replay result %+v not marked skipped", r)
		}
	}
	// The failed follower keeps its REJECTED row; no second attempt.
	if results[1].SyncState != domain.SyncStateRejected {
		t.Errorf("replay result for failed follower = %+v, want REJECTED", results[1])
	}

	if msgs := notifier.sent(); len(msgs) != 1 {
		t.Errorf("notifier got %d messages, want 1 (replay stays silent): %v", len(msgs), msgs)
	}
}

func TestDispatchRejectsInvalidOrder(t *testing.T) {
	s := newEngineStore(t)
	seedFollowers(t, s, 1)
	bk := newFakeBroker()
	d := newDispatcher(s, bk, &recordingNotifier{})

	bad := marketOrder("M1")
	bad.Qty = decimal.Zero
	if _, err := d.Dispatch(context.Background(), bad); !errors.Is(err, domain.ErrInvalidOrder) {
		t.Errorf("Dispatch(zero qty) = %v, want ErrInvalidOrder", err)
	}
	if place, _ := bk.counts(); place != 0 {
		t.Errorf("invalid order reached the broker (%d calls)", place)
	}
}

func newReconciler(s *store.SQLiteStore, bk *fakeBroker, n *recordingNotifier, cfg config.ReconcileConfig) *Reconciler {
	return NewReconciler(s, s, bk, n, cfg, 5*time.Second, testLogger())
}

func TestReconcileEventualConsistency(t *testing.T) {
	s := newEngineStore(t)
	followers := seedFollowers(t, s, 1)
	bk := newFakeBroker()
	bk.placeIDs[followers[0].ID] = "X1"
	bk.statuses["X1"] = []string{"NEW", "PARTIAL", "FILLED"}
	notifier := &recordingNotifier{}

	d := newDispatcher(s, bk, notifier)
	if _, err := d.Dispatch(context.Background(), marketOrder("M1")); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	r := newReconciler(s, bk, notifier, config.ReconcileConfig{})
	ctx := context.Background()

	want := []domain.SyncState{
		domain.SyncStateAcked,
		domain.SyncStatePartiallyFilled,
		domain.SyncStateFilled,
	}
	for i, w := range want {
		r.Tick(ctx)
		m, err := s.GetMapping(ctx, "M1", followers[0].ID)
		if err != nil {
			t.Fatalf("GetMapping returned error: %v", err)
		}
		if m.SyncState != w {
			t.Fatalf("after tick %d state = %s, want %s", i+1, m.SyncState, w)
		}
	}

	// FILLED is terminal: the row drops out of reconciliation.
	_, statusBefore := bk.counts()
	r.Tick(ctx)
	if _, statusAfter := bk.counts(); statusAfter != statusBefore {
		t.Errorf("terminal row polled again (%d extra calls)", statusAfter-statusBefore)
	}

	// Fills are logged, not alerted: only the dispatch summary was sent.
	if msgs := notifier.sent(); len(msgs) != 1 {
		t.Errorf("notifier got %d messages, want 1: %v", len(msgs), msgs)
	}
}

func TestReconcileNotifiesOnCancel(t *testing.T) {
	s := newEngineStore(t)
	followers := seedFollowers(t, s, 1)
	bk := newFakeBroker()
	bk.placeIDs[followers[0].ID] = "X1"
	bk.statuses["X1"] = []string{"CANCELED"}
	notifier := &recordingNotifier{}

	d := newDispatcher(s, bk, notifier)
	if _, err := d.Dispatch(context.Background(), marketOrder("M1")); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	r := newReconciler(s, bk, notifier, config.ReconcileConfig{})
	r.Tick(context.Background())

	m, err := s.GetMapping(context.Background(), "M1", followers[0].ID)
	if err != nil {
		t.Fatalf("GetMapping returned error: %v", err)
	}
	if m.SyncState != domain.SyncStateCancelled {
		t.Errorf("state = %s, want CANCELLED", m.SyncState)
	}

	msgs := notifier.sent()
	if len(msgs) != 2 {
		t.Fatalf("notifier got %d messages, want summary + cancel alert: %v", len(msgs), msgs)
	}
	if !strings.Contains(msgs[1], "CANCELLED") || !strings.Contains(msgs[1], "X1") {
		t.Errorf("cancel alert = %q, want order and state", msgs[1])
	}
}

func TestReconcilePollFailureIsolation(t *testing.T) {
	s := newEngineStore(t)
	followers := seedFollowers(t, s, 2)
	bk := newFakeBroker()
	bk.placeIDs[followers[0].ID] = "X1"
	bk.placeIDs[followers[1].ID] = "X2"
	bk.statusErrs["X1"] = errors.New("gateway unavailable")
	bk.statuses["X2"] = []string{"FILLED"}
	notifier := &recordingNotifier{}

	d := newDispatcher(s, bk, notifier)
	if _, err := d.Dispatch(context.Background(), marketOrder("M1")); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	r := newReconciler(s, bk, notifier, config.ReconcileConfig{AlertAfterPollFailures: 2})
	ctx := context.Background()
	r.Tick(ctx)

	// The healthy row advances despite its sibling failing.
	m2, err := s.GetMapping(ctx, "M1", followers[1].ID)
	if err != nil {
		t.Fatalf("GetMapping(X2) returned error: %v", err)
	}
	if m2.SyncState != domain.SyncStateFilled {
		t.Errorf("X2 state = %s, want FILLED", m2.SyncState)
	}

	// The failing row stays put and is retried.
	m1, err := s.GetMapping(ctx, "M1", followers[0].ID)
	if err != nil {
		t.Fatalf("GetMapping(X1) returned error: %v", err)
	}
	if m1.SyncState != domain.SyncStatePending {
		t.Errorf("X1 state = %s, want PENDING", m1.SyncState)
	}

	// Second consecutive failure crosses the threshold: exactly one alert,
	// and no repeat on the third.
	r.Tick(ctx)
	r.Tick(ctx)
	var alerts int
	for _, msg := range notifier.sent() {
		if strings.Contains(msg, "unreachable") {
			alerts++
		}
	}
	if alerts != 1 {
		t.Errorf("got %d unreachable alerts, want 1", alerts)
	}
}

func TestReconcilerStartStop(t *testing.T) {
	s := newEngineStore(t)
	bk := newFakeBroker()
	r := newReconciler(s, bk, &recordingNotifier{}, config.ReconcileConfig{IntervalSeconds: 1})

	r.Start(context.Background())
	r.Stop()

	// Stop is idempotent.
	r.Stop()
}
