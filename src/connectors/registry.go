package connectors

import (
	"context"
	"fmt"
	"sync"

	"botfleet/src/model"
)

// CredentialSource resolves the venue API credentials for a user account.
type CredentialSource interface {
	Credentials(ctx context.Context, userID, exchangeID uint) (apiKey, apiSecret string, err error)
}

// Registry hands out one connector per (user, exchange) account, building
// paper connectors for paper bots and signed REST clients for live ones.
// Clients are cached; credentials are resolved once per cache miss.
type Registry struct {
	cfg   Config
	creds CredentialSource
	price PriceSource

	mu      sync.Mutex
	clients map[string]ExchangeConnector
}

func NewRegistry(cfg Config, creds CredentialSource, price PriceSource) *Registry {
	return &Registry{
		cfg:     cfg,
		creds:   creds,
		price:   price,
		clients: make(map[string]ExchangeConnector),
	}
}

func (r *Registry) ConnectorFor(ctx context.Context, bot *model.Bot, exchange *model.Exchange) (ExchangeConnector, error) {
	key := fmt.Sprintf("%d/%d/%t", bot.UserID, exchange.ID, bot.IsPaper)

	r.mu.Lock()
	client, ok := r.clients[key]
	r.mu.Unlock()
	if ok {
		return client, nil
	}

	if bot.IsPaper {
		client = NewPaperConnector(exchange.Name, exchange.TakerFeeBps, r.price)
	} else {
		apiKey, apiSecret, err := r.creds.Credentials(ctx, bot.UserID, exchange.ID)
		if err != nil {
			return nil, fmt.Errorf("resolving credentials for user %d on %s: %w", bot.UserID, exchange.Name, err)
		}
		client = NewRESTConnector(exchange.Name, apiKey, apiSecret, r.cfg)
	}

	r.mu.Lock()
	r.clients[key] = client
	r.mu.Unlock()
	return client, nil
}
