// Package account models the account service client the execution
// manager settles trades against (spec §6): reserve/release/apply_trade,
// every call idempotent on a caller-supplied key. The interface is the
// contract; HTTPClient is the production implementation, wrapped in a
// circuit breaker so a slow or unavailable account store degrades to
// fast rejections instead of stalling the manager thread.
package account

import (
	"context"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"github.com/waiver-exchange/core/internal/xerrors"
)

// Client is the account service contract consumed by the execution
// manager (spec §6). Every call is idempotent keyed on idempotencyKey —
// a retried call with the same key must be a no-op on the account side.
type Client interface {
	Reserve(ctx context.Context, accountID uint64, amountCents int64, idempotencyKey string) error
	Release(ctx context.Context, accountID uint64, amountCents int64, idempotencyKey string) error
	ApplyTrade(ctx context.Context, buyerID, sellerID uint64, symbolID int64, priceCents, quantityBp int64, idempotencyKey string) error
}

// HTTPClient is the production Client, backed by an HTTP account
// service and wrapped in a sony/gobreaker circuit breaker so repeated
// failures open the breaker instead of piling up slow requests.
type HTTPClient struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPClient builds a Client against baseURL. The breaker trips after
// 5 consecutive failures and probes again after its configured timeout
// (gobreaker defaults), matching the "degrade to fast rejection" posture
// SPEC_FULL.md §4.5 asks for.
func NewHTTPClient(baseURL string) *HTTPClient {
	http := resty.New().SetBaseURL(baseURL)
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "account-service",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &HTTPClient{http: http, breaker: breaker}
}

func (c *HTTPClient) do(ctx context.Context, path string, body interface{}) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.http.R().SetContext(ctx).SetBody(body).Post(path)
		if err != nil {
			return nil, xerrors.Wrap(err, xerrors.CodeInsufficientFunds, "account service unreachable")
		}
		if resp.IsError() {
			return nil, xerrors.Newf(xerrors.CodeInsufficientFunds, "account service rejected request: %s", resp.Status())
		}
		return nil, nil
	})
	return err
}

func (c *HTTPClient) Reserve(ctx context.Context, accountID uint64, amountCents int64, idempotencyKey string) error {
	return c.do(ctx, "/reserve", reserveRequest{AccountID: accountID, AmountCents: amountCents, IdempotencyKey: idempotencyKey})
}

func (c *HTTPClient) Release(ctx context.Context, accountID uint64, amountCents int64, idempotencyKey string) error {
	return c.do(ctx, "/release", reserveRequest{AccountID: accountID, AmountCents: amountCents, IdempotencyKey: idempotencyKey})
}

func (c *HTTPClient) ApplyTrade(ctx context.Context, buyerID, sellerID uint64, symbolID int64, priceCents, quantityBp int64, idempotencyKey string) error {
	return c.do(ctx, "/apply-trade", applyTradeRequest{
		BuyerID: buyerID, SellerID: sellerID, SymbolID: symbolID,
		PriceCents: priceCents, QuantityBp: quantityBp, IdempotencyKey: idempotencyKey,
	})
}

type reserveRequest struct {
	AccountID      uint64 `json:"account_id"`
	AmountCents    int64  `json:"amount_cents"`
	IdempotencyKey string `json:"idempotency_key"`
}

type applyTradeRequest struct {
	BuyerID        uint64 `json:"buyer_id"`
	SellerID       uint64 `json:"seller_id"`
	SymbolID       int64  `json:"symbol_id"`
	PriceCents     int64  `json:"price_cents"`
	QuantityBp     int64  `json:"quantity_bp"`
	IdempotencyKey string `json:"idempotency_key"`
}

var _ Client = (*HTTPClient)(nil)
