package broker

import (
	"context"
	"fmt"
	"sync/atomic"

	"mirrord/internal/domain"
)

// Compile-time interface check.
var _ Client = (*Simulator)(nil)

// Simulator implements Client without any network I/O. Placements return
// deterministic identifiers ("sim-1", "sim-2", ...) and status reads report
// a fixed "unknown" state, which keeps dry-run mappings non-terminal and
// visible. Call counters are exposed for tests.
type Simulator struct {
	seq         atomic.Int64
	placeCalls  atomic.Int64
	statusCalls atomic.Int64
}

// NewSimulator creates a new Simulator.
func NewSimulator() *Simulator {
	return &Simulator{}
}

// Name returns "simulator".
func (s *Simulator) Name() string {
	return "simulator"
}

// PlaceOrder returns the next deterministic placeholder id.
func (s *Simulator) PlaceOrder(_ context.Context, _ *domain.MasterOrder, _ *domain.Account) (string, error) {
	s.placeCalls.Add(1)
	return fmt.Sprintf("sim-%d", s.seq.Add(1)), nil
}

// GetOrderStatus returns the fixed "unknown" status.
func (s *Simulator) GetOrderStatus(_ context.Context, orderID string, _ *domain.Account) (*domain.OrderStatus, error) {
	s.statusCalls.Add(1)
	return &domain.OrderStatus{OrderID: orderID, Status: "unknown"}, nil
}

// PlaceCalls returns how many placements were simulated.
func (s *Simulator) PlaceCalls() int64 {
	return s.placeCalls.Load()
}

// StatusCalls returns how many status reads were simulated.
func (s *Simulator) StatusCalls() int64 {
	return s.statusCalls.Load()
}
