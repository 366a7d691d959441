package broker

import (
	"context"
	"errors"
	"sync"

	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"mirrord/internal/domain"
)

// Compile-time interface check.
var _ Client = (*AlpacaClient)(nil)

// AlpacaClient implements Client against the Alpaca brokerage API. Each
// follower account carries its own key pair, so one SDK client is built and
// cached per account.
type AlpacaClient struct {
	baseURL        string
	fallbackKey    string
	fallbackSecret string

	mu      sync.Mutex
	clients map[int64]*alpacaapi.Client
}

// NewAlpacaClient creates an AlpacaClient targeting the given API endpoint
// (e.g. the paper-trading URL). The fallback key pair is used for accounts
// that carry no API secret of their own.
func NewAlpacaClient(baseURL, fallbackKey, fallbackSecret string) *AlpacaClient {
	return &AlpacaClient{
		baseURL:        baseURL,
		fallbackKey:    fallbackKey,
		fallbackSecret: fallbackSecret,
		clients:        make(map[int64]*alpacaapi.Client),
	}
}

// Name returns "alpaca".
func (c *AlpacaClient) Name() string {
	return "alpaca"
}

func (c *AlpacaClient) clientFor(account *domain.Account) *alpacaapi.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cl, ok := c.clients[account.ID]; ok {
		return cl
	}
	key, secret := account.APIKey, account.APISecret
	if secret == "" {
		key, secret = c.fallbackKey, c.fallbackSecret
	}
	cl := alpacaapi.NewClient(alpacaapi.ClientOpts{
		APIKey:    key,
		APISecret: secret,
		BaseURL:   c.baseURL,
	})
	c.clients[account.ID] = cl
	return cl
}

// PlaceOrder submits the order via the Alpaca SDK. The SDK does not take a
// context; the per-request timeout is the SDK client's own.
func (c *AlpacaClient) PlaceOrder(_ context.Context, order *domain.MasterOrder, account *domain.Account) (string, error) {
	qty := order.Qty

	req := alpacaapi.PlaceOrderRequest{
		Symbol:      order.Instrument,
		Qty:         &qty,
		Side:        alpacaSide(order.Side),
		Type:        alpacaapi.Market,
		TimeInForce: alpacaapi.GTC,
	}
	if order.Price != nil {
		price := *order.Price
		req.Type = alpacaapi.Limit
		req.LimitPrice = &price
	}

	placed, err := c.clientFor(account).PlaceOrder(req)
	if err != nil {
		return "", wrapAlpacaError(err)
	}
	return placed.ID, nil
}

// GetOrderStatus reads the order back from Alpaca.
func (c *AlpacaClient) GetOrderStatus(_ context.Context, orderID string, account *domain.Account) (*domain.OrderStatus, error) {
	o, err := c.clientFor(account).GetOrder(orderID)
	if err != nil {
		return nil, wrapAlpacaError(err)
	}

	filled := o.FilledQty
	return &domain.OrderStatus{
		OrderID:   o.ID,
		Status:    string(o.Status),
		FilledQty: &filled,
		AvgPrice:  o.FilledAvgPrice,
	}, nil
}

func alpacaSide(side domain.OrderSide) alpacaapi.Side {
	if side == domain.OrderSideSell {
		return alpacaapi.Sell
	}
	return alpacaapi.Buy
}

// wrapAlpacaError converts SDK API errors into StatusError so the caller's
// retryable/permanent classification works across backends.
func wrapAlpacaError(err error) error {
	var apiErr *alpacaapi.APIError
	if errors.As(err, &apiErr) {
		return &StatusError{Code: apiErr.StatusCode, Body: apiErr.Message}
	}
	return err
}
