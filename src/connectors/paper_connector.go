package connectors

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceSource provides a reference price for simulated market fills.
type PriceSource func(symbol string) (decimal.Decimal, error)

// PaperConnector fills every order instantly against a reference price,
// charging the configured taker fee. Used for bots running in paper mode
// so their fills flow through the ledger without touching a venue.
type PaperConnector struct {
	exchange string
	feeBps   decimal.Decimal
	price    PriceSource
	now      func() time.Time
}

func NewPaperConnector(exchange string, feeBps decimal.Decimal, price PriceSource) *PaperConnector {
	return &PaperConnector{
		exchange: exchange,
		feeBps:   feeBps,
		price:    price,
		now:      time.Now,
	}
}

func (c *PaperConnector) SubmitOrder(_ context.Context, req OrderRequest) (*OrderAck, error) {
	fillPrice := req.Price
	if req.OrderType == OrderTypeMarket {
		p, err := c.price(req.Symbol)
		if err != nil {
			return nil, &ExchangeRejectionError{
				Exchange:  c.exchange,
				Message:   fmt.Sprintf("no reference price for %s: %v", req.Symbol, err),
				Transient: true,
			}
		}
		fillPrice = p
	}
	if !fillPrice.IsPositive() || !req.Amount.IsPositive() {
		return nil, &ExchangeRejectionError{
			Exchange: c.exchange,
			Message:  "invalid price or amount",
		}
	}

	notional := req.Amount.Mul(fillPrice)
	fee := notional.Mul(c.feeBps).Div(decimal.NewFromInt(10000))

	return &OrderAck{
		ExchangeOrderID: "paper-" + uuid.NewString(),
		FilledAmount:    req.Amount,
		FilledPrice:     fillPrice,
		Fee:             fee,
		FeeCurrency:     "USDT",
		ExecutedAt:      c.now().UTC(),
	}, nil
}
