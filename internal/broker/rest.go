package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mirrord/internal/domain"
	"mirrord/internal/util"
)

// Compile-time interface check.
var _ Client = (*RESTClient)(nil)

// RESTClient talks to a TradeLocker-style order REST API:
//
//	POST /orders        → {"id": "..."}
//	GET  /orders/{id}   → {"filled": ..., "status": "...", "avg_price": ...}
//
// Each call authenticates with the account's own bearer key.
type RESTClient struct {
	baseURL string
	httpc   *http.Client
}

// NewRESTClient creates a RESTClient for the given API root. All calls are
// bounded by timeout.
func NewRESTClient(baseURL string, timeout time.Duration) *RESTClient {
	return &RESTClient{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: timeout},
	}
}

// Name returns "tradelocker".
func (c *RESTClient) Name() string {
	return "tradelocker"
}

type placeOrderRequest struct {
	Instrument string           `json:"instrument"`
	Side       string           `json:"side"`
	Quantity   decimal.Decimal  `json:"quantity"`
	Price      *decimal.Decimal `json:"price,omitempty"`
}

type placeOrderResponse struct {
	ID string `json:"id"`
}

type orderStatusResponse struct {
	Filled   *decimal.Decimal `json:"filled"`
	Status   string           `json:"status"`
	AvgPrice *decimal.Decimal `json:"avg_price"`
}

// PlaceOrder submits the order. It is called exactly once per follower: a
// timed-out POST may still have placed the order on the broker side, so the
// caller records the failure instead of retrying.
func (c *RESTClient) PlaceOrder(ctx context.Context, order *domain.MasterOrder, account *domain.Account) (string, error) {
	body, err := json.Marshal(placeOrderRequest{
		Instrument: order.Instrument,
		Side:       string(order.Side),
		Quantity:   order.Qty,
		Price:      order.Price,
	})
	if err != nil {
		return "", fmt.Errorf("encoding order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+account.APIKey)
	req.Header.Set("Content-Type", "application/json")
	// A fresh key per submission lets the broker drop network-level
	// duplicates of this single attempt.
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("placing order: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", statusError(resp)
	}

	var out placeOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding place response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("broker response missing order id")
	}
	return out.ID, nil
}

// GetOrderStatus reads the order's state. The GET is idempotent, so a
// couple of in-call retries are safe; the reconciler retries again on its
// next tick regardless.
func (c *RESTClient) GetOrderStatus(ctx context.Context, orderID string, account *domain.Account) (*domain.OrderStatus, error) {
	var status *domain.OrderStatus
	err := util.Retry(ctx, 2, 250*time.Millisecond, func() error {
		var err error
		status, err = c.getOrderStatus(ctx, orderID, account)
		return err
	})
	return status, err
}

func (c *RESTClient) getOrderStatus(ctx context.Context, orderID string, account *domain.Account) (*domain.OrderStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/orders/"+orderID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+account.APIKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getting order status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp)
	}

	var out orderStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding status response: %w", err)
	}

	return &domain.OrderStatus{
		OrderID:   orderID,
		Status:    out.Status,
		FilledQty: out.Filled,
		AvgPrice:  out.AvgPrice,
	}, nil
}

// statusError builds a StatusError with a bounded slice of the body for
// diagnostics. The body never contains credentials.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Code: resp.StatusCode, Body: string(body)}
}
