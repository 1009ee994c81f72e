package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"botfleet/src/connectors"
	"botfleet/src/events"
	"botfleet/src/limiter"
	"botfleet/src/model"
	"botfleet/src/repository"
)

// PendingStore is the admission record store.
type PendingStore interface {
	Reserve(ctx context.Context, order *model.PendingOrder) error
	Transition(ctx context.Context, order *model.PendingOrder, next, reason string) error
}

type BotSource interface {
	FindByID(ctx context.Context, id uint) (*model.Bot, error)
	CountActiveOnExchange(ctx context.Context, exchangeID uint) (int, error)
}

type StateSource interface {
	FindByBotID(ctx context.Context, botID uint) (*model.BotState, error)
}

// BreakerSource reads the account-level trip state. Satisfied by
// *repository.CircuitBreakerRepository.
type BreakerSource interface {
	Latest(ctx context.Context, entityType string, entityID uint) (*model.CircuitBreakerRecord, error)
}

type ExchangeSource interface {
	FindByID(ctx context.Context, id uint) (*model.Exchange, error)
}

// Ledger is the slice of the ledger service the pipeline writes through.
type Ledger interface {
	AppendFill(ctx context.Context, fill *model.Fill) (uint, error)
}

type SpreadSource interface {
	EstimateBps(symbol string) decimal.Decimal
}

type TradeLimiter interface {
	Allow(botID, userID uint, exchange string, exchangeLimit, activeBots int, now time.Time) error
	Refund(botID, userID uint, now time.Time)
}

type ConnectorResolver interface {
	ConnectorFor(ctx context.Context, bot *model.Bot, exchange *model.Exchange) (connectors.ExchangeConnector, error)
}

type Notifier interface {
	Emit(event events.Event)
}

// ExceptionStore persists venue failures for the breaker's errors-per-hour
// metric. Satisfied by *repository.ExceptionRepository.
type ExceptionStore interface {
	Create(ctx context.Context, exc *model.Exception) error
}

// SubmitRequest is one order proposal from a bot loop.
type SubmitRequest struct {
	BotID           uint            `json:"bot_id"`
	Symbol          string          `json:"symbol"`
	Side            string          `json:"side"`
	Amount          decimal.Decimal `json:"amount"`
	Price           decimal.Decimal `json:"price"`
	OrderType       string          `json:"order_type"`
	IdempotencyKey  string          `json:"idempotency_key"`
	ExpectedEdgeBps decimal.Decimal `json:"expected_edge_bps"`
}

// SubmitResult reports the outcome. On rejection GateFailed names the gate
// and RejectionReason carries the typed error's message.
type SubmitResult struct {
	Success         bool   `json:"success"`
	OrderID         string `json:"order_id,omitempty"`
	PendingOrderID  uint   `json:"pending_order_id,omitempty"`
	GateFailed      string `json:"gate_failed,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

// Pipeline runs every order proposal through four gates in a fixed order:
// idempotency, fee coverage, trade limiter, circuit breaker. The first
// failing gate aborts with a typed rejection and no later gate executes.
// Only a full pass reaches the venue.
type Pipeline struct {
	cfg        Config
	pending    PendingStore
	bots       BotSource
	states     StateSource
	breakers   BreakerSource
	exchanges  ExchangeSource
	ledger     Ledger
	spread     SpreadSource
	limits     TradeLimiter
	registry   ConnectorResolver
	notifier   Notifier
	exceptions ExceptionStore
	now        func() time.Time
}

func New(cfg Config, pending PendingStore, bots BotSource, states StateSource, breakers BreakerSource, exchanges ExchangeSource, ledger Ledger, spread SpreadSource, limits TradeLimiter, registry ConnectorResolver, notifier Notifier, exceptions ExceptionStore) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		pending:    pending,
		bots:       bots,
		states:     states,
		breakers:   breakers,
		exchanges:  exchanges,
		ledger:     ledger,
		spread:     spread,
		limits:     limits,
		registry:   registry,
		notifier:   notifier,
		exceptions: exceptions,
		now:        time.Now,
	}
}

// recordException persists a venue failure so the breaker's errors-per-hour
// metric sees it. Persistence failures are logged, never surfaced.
func (p *Pipeline) recordException(ctx context.Context, bot *model.Bot, cause error) {
	exc := &model.Exception{
		Service: "admission_pipeline",
		Module:  "exchange",
		Method:  "SubmitOrder",
		BotID:   &bot.ID,
		UserID:  &bot.UserID,
		Message: cause.Error(),
		Level:   "error",
	}
	if err := p.exceptions.Create(ctx, exc); err != nil {
		logger.WithFields(map[string]interface{}{
			"bot_id": bot.ID,
			"error":  err.Error(),
		}).Error("failed to record venue exception")
	}
}

// breakerGate reads the bot's containment state and the account-level
// breaker, both fresh. The first return value is the typed rejection when
// either is tripped, nil when admission may proceed; the second is an
// infrastructure failure.
func (p *Pipeline) breakerGate(ctx context.Context, bot *model.Bot) (error, error) {
	state, err := p.states.FindByBotID(ctx, bot.ID)
	if err != nil {
		return nil, err
	}
	if state == nil || state.Status != model.BotStatusActive {
		status := "unknown"
		if state != nil {
			status = state.Status
		}
		return &CircuitTrippedError{BotID: bot.ID, Status: status}, nil
	}

	record, err := p.breakers.Latest(ctx, model.BreakerEntityUser, bot.UserID)
	if err != nil {
		return nil, err
	}
	if record != nil && record.IsTripped {
		return &AccountTrippedError{UserID: bot.UserID, Reason: record.TripReason}, nil
	}

	return nil, nil
}

// reject marks the admission record terminal and builds the result. A nil
// order means the idempotency gate itself failed and there is nothing to
// cancel.
func (p *Pipeline) reject(ctx context.Context, order *model.PendingOrder, gate string, cause error) (*SubmitResult, error) {
	if order != nil {
		if err := p.pending.Transition(ctx, order, model.PendingStatusCancelled, cause.Error()); err != nil {
			logger.WithFields(map[string]interface{}{
				"pending_order_id": order.ID,
				"error":            err.Error(),
			}).Error("failed to cancel rejected pending order")
		}
	}
	return &SubmitResult{
		Success:         false,
		GateFailed:      gate,
		RejectionReason: cause.Error(),
	}, cause
}

// SubmitOrder admits, gates and executes one order. Gate rejections return
// a populated result together with the typed error; infrastructure
// failures return a nil result.
func (p *Pipeline) SubmitOrder(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	bot, err := p.bots.FindByID(ctx, req.BotID)
	if err != nil {
		return nil, err
	}
	if bot == nil {
		return nil, errors.New("bot not found")
	}
	exchange, err := p.exchanges.FindByID(ctx, bot.ExchangeID)
	if err != nil {
		return nil, err
	}
	if exchange == nil {
		return nil, errors.New("exchange not found")
	}

	log := logger.WithFields(map[string]interface{}{
		"bot_id":          bot.ID,
		"symbol":          req.Symbol,
		"side":            req.Side,
		"idempotency_key": req.IdempotencyKey,
	})

	// gate 1: idempotency, exactly-once admission on the unique key
	order := &model.PendingOrder{
		IdempotencyKey: req.IdempotencyKey,
		BotID:          bot.ID,
		Status:         model.PendingStatusPending,
	}
	if err := p.pending.Reserve(ctx, order); err != nil {
		if errors.Is(err, repository.ErrPendingOrderExists) {
			return p.reject(ctx, nil, GateIdempotency, &DuplicateOrderError{IdempotencyKey: req.IdempotencyKey})
		}
		return nil, err
	}

	// gate 2: fee coverage
	feeBps := exchange.TakerFeeBps
	if req.OrderType == connectors.OrderTypeLimit {
		feeBps = exchange.MakerFeeBps
	}
	requiredBps := feeBps.
		Add(p.spread.EstimateBps(req.Symbol)).
		Add(decimal.NewFromFloat(p.cfg.SlippageBufferBps)).
		Add(decimal.NewFromFloat(p.cfg.SafetyMarginBps))
	if req.ExpectedEdgeBps.LessThan(requiredBps) {
		return p.reject(ctx, order, GateFeeCoverage, &InsufficientEdgeError{
			EdgeBps:     req.ExpectedEdgeBps,
			RequiredBps: requiredBps,
		})
	}

	// gate 3: trade limiter
	activeBots, err := p.bots.CountActiveOnExchange(ctx, exchange.ID)
	if err != nil {
		return nil, err
	}
	now := p.now()
	if err := p.limits.Allow(bot.ID, bot.UserID, exchange.Name, exchange.RateLimitPerMinute, activeBots, now); err != nil {
		var limitErr *limiter.LimitExceededError
		if errors.As(err, &limitErr) {
			return p.reject(ctx, order, GateTradeLimiter, limitErr)
		}
		return nil, err
	}

	// gate 4: circuit breaker, always a fresh read of bot and account
	rejection, err := p.breakerGate(ctx, bot)
	if err != nil {
		return nil, err
	}
	if rejection != nil {
		p.limits.Refund(bot.ID, bot.UserID, now)
		return p.reject(ctx, order, GateCircuitBreaker, rejection)
	}

	if err := p.pending.Transition(ctx, order, model.PendingStatusSubmitted, ""); err != nil {
		return nil, err
	}

	// a trip recorded between the gate read and here must still block the
	// venue call, so re-check right before submitting
	rejection, err = p.breakerGate(ctx, bot)
	if err != nil {
		return nil, err
	}
	if rejection != nil {
		p.limits.Refund(bot.ID, bot.UserID, now)
		return p.reject(ctx, order, GateCircuitBreaker, rejection)
	}

	connector, err := p.registry.ConnectorFor(ctx, bot, exchange)
	if err != nil {
		return nil, err
	}

	submitCtx, cancel := context.WithTimeout(ctx, p.cfg.SubmitTimeout)
	defer cancel()

	ack, err := connector.SubmitOrder(submitCtx, connectors.OrderRequest{
		Exchange:      exchange.Name,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Amount:        req.Amount,
		Price:         req.Price,
		OrderType:     req.OrderType,
		ClientOrderID: req.IdempotencyKey,
	})
	if err != nil {
		if failErr := p.pending.Transition(ctx, order, model.PendingStatusFailed, err.Error()); failErr != nil {
			log.WithField("error", failErr.Error()).Error("failed to mark pending order failed")
		}
		log.WithField("error", err.Error()).Warn("order failed at the venue")
		p.recordException(ctx, bot, err)
		return &SubmitResult{
			Success:         false,
			PendingOrderID:  order.ID,
			GateFailed:      GateExchange,
			RejectionReason: err.Error(),
		}, err
	}

	fill := &model.Fill{
		UserID:         bot.UserID,
		BotID:          bot.ID,
		Exchange:       exchange.Name,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Amount:         ack.FilledAmount,
		Price:          ack.FilledPrice,
		Fee:            ack.Fee,
		FeeCurrency:    ack.FeeCurrency,
		OrderID:        ack.ExchangeOrderID,
		IdempotencyKey: req.IdempotencyKey,
		IsPaper:        bot.IsPaper,
		Timestamp:      ack.ExecutedAt,
	}
	if _, err := p.ledger.AppendFill(ctx, fill); err != nil {
		return nil, err
	}

	p.notifier.Emit(events.Event{
		Type:   events.TypeTradeExecuted,
		UserID: bot.UserID,
		BotID:  bot.ID,
		Reason: "order filled",
		Payload: map[string]any{
			"symbol":   req.Symbol,
			"side":     req.Side,
			"amount":   ack.FilledAmount.String(),
			"price":    ack.FilledPrice.String(),
			"order_id": ack.ExchangeOrderID,
		},
	})

	// every fill moves realized or unrealized PnL
	p.notifier.Emit(events.Event{
		Type:   events.TypeProfitUpdated,
		UserID: bot.UserID,
		BotID:  bot.ID,
	})

	log.WithField("order_id", ack.ExchangeOrderID).Info("order executed")

	return &SubmitResult{
		Success:        true,
		OrderID:        ack.ExchangeOrderID,
		PendingOrderID: order.ID,
	}, nil
}
