// Package broker provides typed clients for the order REST APIs the engine
// mirrors onto. Clients own timeouts and HTTP-level error classification
// only; retry policy belongs to the caller.
package broker

import (
	"context"
	"errors"
	"fmt"

	"mirrord/internal/domain"
)

// Client abstracts the broker operations the mirroring engine needs: place
// an order under a follower account's credentials and read an order's state
// back. Implementations must be safe for concurrent use.
type Client interface {
	// Name returns the client identifier (e.g. "tradelocker", "simulator").
	Name() string

	// PlaceOrder submits the order under account's credentials and returns
	// the broker-assigned order id.
	PlaceOrder(ctx context.Context, order *domain.MasterOrder, account *domain.Account) (string, error)

	// GetOrderStatus returns the broker-reported state of an order placed
	// under account's credentials.
	GetOrderStatus(ctx context.Context, orderID string, account *domain.Account) (*domain.OrderStatus, error)
}

// StatusError is returned when the broker answered with a non-2xx status.
// 4xx responses (bad credentials, invalid order) are permanent; 5xx are
// transient.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("broker returned HTTP %d: %s", e.Code, e.Body)
}

// Retryable reports whether the error could succeed on a retry. Transport
// failures (timeouts, connection errors) are retryable; broker rejections
// (4xx) are not.
func Retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return true
}
