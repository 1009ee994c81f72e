package connectors

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
)

// OrderRequest is the venue-neutral submission shape.
type OrderRequest struct {
	Exchange      string
	Symbol        string
	Side          string
	Amount        decimal.Decimal
	Price         decimal.Decimal // ignored for market orders
	OrderType     string
	ClientOrderID string
}

// OrderAck is a successful execution as reported by the venue.
type OrderAck struct {
	ExchangeOrderID string
	FilledAmount    decimal.Decimal
	FilledPrice     decimal.Decimal
	Fee             decimal.Decimal
	FeeCurrency     string
	ExecutedAt      time.Time
}

// ExchangeRejectionError carries the venue's answer when an order was not
// executed. Transient failures (network, throttling, maintenance) may be
// retried with a fresh idempotency key; permanent ones must not.
type ExchangeRejectionError struct {
	Exchange  string
	Code      int
	Message   string
	Transient bool
}

func (e *ExchangeRejectionError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s rejected order (%s, code %d): %s", e.Exchange, kind, e.Code, e.Message)
}

// ExchangeConnector submits orders to one venue. SubmitOrder returns
// either an ack or an *ExchangeRejectionError; any other error is a local
// failure before the venue was reached.
type ExchangeConnector interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)
}
