package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"botfleet/src/model"
)

// IntegrityError reports a ledger correctness violation, e.g. appending a
// fill whose idempotency key was already filled. It is surfaced to callers
// and never treated as fatal by the pipeline.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("ledger integrity violation: %s", e.Reason)
}

// FillStore is the slice of the fill repository the ledger needs.
type FillStore interface {
	Append(ctx context.Context, fill *model.Fill) error
	ListByUser(ctx context.Context, userID uint) ([]model.Fill, error)
	ListByBot(ctx context.Context, userID, botID uint) ([]model.Fill, error)
}

// EventStore is the slice of the ledger-event repository the ledger needs.
type EventStore interface {
	Append(ctx context.Context, event *model.LedgerEvent) error
	ListByUser(ctx context.Context, userID uint) ([]model.LedgerEvent, error)
}

// PendingStore lets AppendFill verify and advance the admission record of
// the fill being appended.
type PendingStore interface {
	FindByKey(ctx context.Context, key string) (*model.PendingOrder, error)
	Transition(ctx context.Context, order *model.PendingOrder, next, reason string) error
}

// Aggregates is the derived view of one user's ledger.
type Aggregates struct {
	Funding       decimal.Decimal `json:"funding"`
	Withdrawals   decimal.Decimal `json:"withdrawals"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	FeesPaid      decimal.Decimal `json:"fees_paid"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	Equity        decimal.Decimal `json:"equity"`

	DrawdownCurrentPct decimal.Decimal `json:"drawdown_current_pct"`
	DrawdownMaxPct     decimal.Decimal `json:"drawdown_max_pct"`
}

// BotMetrics is the slice of ledger-derived numbers the circuit breaker
// evaluates per bot.
type BotMetrics struct {
	DrawdownCurrentPct decimal.Decimal
	DrawdownMaxPct     decimal.Decimal
	RealizedToday      decimal.Decimal
	ConsecutiveLosses  int
}

// UserMetrics is the account-wide counterpart of BotMetrics, replayed over
// every fill and event of the user. Equity carries the full account equity
// so the caller can normalize the daily loss.
type UserMetrics struct {
	DrawdownCurrentPct decimal.Decimal
	DrawdownMaxPct     decimal.Decimal
	RealizedToday      decimal.Decimal
	ConsecutiveLosses  int
	Equity             decimal.Decimal
}

// Service is the single source of truth for equity, profit and drawdown.
// Everything it reports is derived by replaying the append-only stores;
// per-user aggregates are cached and conservatively invalidated on every
// write, so the cached value always equals a fresh replay.
type Service struct {
	fills   FillStore
	events  EventStore
	pending PendingStore

	mu    sync.Mutex
	cache map[uint]*Aggregates
	gen   map[uint]uint64
}

func NewService(fills FillStore, events EventStore, pending PendingStore) *Service {
	return &Service{
		fills:   fills,
		events:  events,
		pending: pending,
		cache:   make(map[uint]*Aggregates),
		gen:     make(map[uint]uint64),
	}
}

// Invalidate drops the cached aggregates for a user and advances the
// user's generation so a replay already in flight cannot install a view
// that predates the write. Called after every write that touches the
// user's ledger.
func (s *Service) Invalidate(userID uint) {
	s.mu.Lock()
	delete(s.cache, userID)
	s.gen[userID]++
	s.mu.Unlock()
}

// AppendFill records an executed trade. It fails with *IntegrityError when
// the idempotency key already has a filled pending order (a duplicate fill),
// and advances the pending order to filled on success.
func (s *Service) AppendFill(ctx context.Context, fill *model.Fill) (uint, error) {
	pending, err := s.pending.FindByKey(ctx, fill.IdempotencyKey)
	if err != nil {
		return 0, err
	}
	if pending == nil {
		return 0, &IntegrityError{Reason: fmt.Sprintf("no pending order for idempotency key %s", fill.IdempotencyKey)}
	}
	if pending.Status == model.PendingStatusFilled {
		return 0, &IntegrityError{Reason: fmt.Sprintf("idempotency key %s already filled", fill.IdempotencyKey)}
	}

	if err := s.fills.Append(ctx, fill); err != nil {
		return 0, err
	}

	if err := s.pending.Transition(ctx, pending, model.PendingStatusFilled, ""); err != nil {
		// The fill is durable; the pending record is now behind. Surface
		// loudly, the integrity check will flag it.
		logger.WithError(err).WithField("key", fill.IdempotencyKey).
			Error("fill appended but pending order not marked filled")
		return fill.ID, err
	}

	s.Invalidate(fill.UserID)

	return fill.ID, nil
}

// RecordEvent appends a funding, withdrawal or allocation event.
func (s *Service) RecordEvent(ctx context.Context, event *model.LedgerEvent) error {
	if err := s.events.Append(ctx, event); err != nil {
		return err
	}
	s.Invalidate(event.UserID)
	return nil
}

// ComputeAggregates returns the user's derived ledger view, from cache when
// warm, by full replay otherwise.
func (s *Service) ComputeAggregates(ctx context.Context, userID uint) (*Aggregates, error) {
	s.mu.Lock()
	if cached, ok := s.cache[userID]; ok {
		s.mu.Unlock()
		return cached, nil
	}
	gen := s.gen[userID]
	s.mu.Unlock()

	agg, err := s.replayAggregates(ctx, userID)
	if err != nil {
		return nil, err
	}

	// A write that landed during the replay bumped the generation. The
	// replayed view then predates that write and must not be cached, or
	// every reader would see it until the next invalidation.
	s.mu.Lock()
	if s.gen[userID] == gen {
		s.cache[userID] = agg
	}
	s.mu.Unlock()

	return agg, nil
}

// replayAggregates always derives from genesis, bypassing the cache.
func (s *Service) replayAggregates(ctx context.Context, userID uint) (*Aggregates, error) {
	fills, err := s.fills.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	events, err := s.events.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	state := replay(fills, events)

	equity := state.equity()
	current := decimal.Zero
	if state.peak.IsPositive() {
		current = state.peak.Sub(equity).Div(state.peak)
		if current.IsNegative() {
			current = decimal.Zero
		}
	}

	return &Aggregates{
		Funding:            state.funding,
		Withdrawals:        state.withdrawals,
		RealizedPnL:        state.realized,
		FeesPaid:           state.fees,
		UnrealizedPnL:      state.unrealized(),
		Equity:             equity,
		DrawdownCurrentPct: current,
		DrawdownMaxPct:     state.maxDrawdown,
	}, nil
}

// ComputeEquity returns funding − withdrawals + realized PnL − fees +
// unrealized PnL for the user.
func (s *Service) ComputeEquity(ctx context.Context, userID uint) (decimal.Decimal, error) {
	agg, err := s.ComputeAggregates(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return agg.Equity, nil
}

// ComputeRealizedPnL returns FIFO-matched realized PnL for the user, or for
// a single bot when botID is non-nil.
func (s *Service) ComputeRealizedPnL(ctx context.Context, userID uint, botID *uint) (decimal.Decimal, error) {
	if botID == nil {
		agg, err := s.ComputeAggregates(ctx, userID)
		if err != nil {
			return decimal.Zero, err
		}
		return agg.RealizedPnL, nil
	}

	fills, err := s.fills.ListByBot(ctx, userID, *botID)
	if err != nil {
		return decimal.Zero, err
	}
	state := replay(fills, nil)
	return state.realized, nil
}

// ComputeDrawdown returns (current_pct, max_pct) for the user, or for a
// single bot when botID is non-nil.
func (s *Service) ComputeDrawdown(ctx context.Context, userID uint, botID *uint) (decimal.Decimal, decimal.Decimal, error) {
	if botID == nil {
		agg, err := s.ComputeAggregates(ctx, userID)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		return agg.DrawdownCurrentPct, agg.DrawdownMaxPct, nil
	}

	metrics, err := s.ComputeBotMetrics(ctx, userID, *botID, decimal.Zero, time.Time{})
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return metrics.DrawdownCurrentPct, metrics.DrawdownMaxPct, nil
}

// ComputeUserMetrics replays the user's whole ledger, fills and events,
// and reports the breaker inputs measured across all of the user's bots.
// dayStart bounds the "today" window for realized loss, with the zero time
// disabling it.
func (s *Service) ComputeUserMetrics(ctx context.Context, userID uint, dayStart time.Time) (*UserMetrics, error) {
	fills, err := s.fills.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	events, err := s.events.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	state := replay(fills, events)

	equity := state.equity()
	current := decimal.Zero
	if state.peak.IsPositive() {
		current = state.peak.Sub(equity).Div(state.peak)
		if current.IsNegative() {
			current = decimal.Zero
		}
	}

	realizedToday := decimal.Zero
	if !dayStart.IsZero() {
		for _, m := range state.matches {
			if !m.ClosedAt.Before(dayStart) {
				realizedToday = realizedToday.Add(m.PnL)
			}
		}
	}

	return &UserMetrics{
		DrawdownCurrentPct: current,
		DrawdownMaxPct:     state.maxDrawdown,
		RealizedToday:      realizedToday,
		ConsecutiveLosses:  consecutiveLosses(state.matches),
		Equity:             equity,
	}, nil
}

// ComputeBotMetrics replays a single bot's fills and reports the numbers the
// circuit breaker evaluates. capital seeds the replay so drawdown is
// measured against the bot's allocated capital; dayStart bounds the "today"
// window for realized loss, with the zero time disabling it.
func (s *Service) ComputeBotMetrics(ctx context.Context, userID, botID uint, capital decimal.Decimal, dayStart time.Time) (*BotMetrics, error) {
	fills, err := s.fills.ListByBot(ctx, userID, botID)
	if err != nil {
		return nil, err
	}

	state := replayWithBase(fills, nil, capital)

	equity := state.equity()
	current := decimal.Zero
	if state.peak.IsPositive() {
		current = state.peak.Sub(equity).Div(state.peak)
		if current.IsNegative() {
			current = decimal.Zero
		}
	}

	realizedToday := decimal.Zero
	if !dayStart.IsZero() {
		for _, m := range state.matches {
			if !m.ClosedAt.Before(dayStart) {
				realizedToday = realizedToday.Add(m.PnL)
			}
		}
	}

	return &BotMetrics{
		DrawdownCurrentPct: current,
		DrawdownMaxPct:     state.maxDrawdown,
		RealizedToday:      realizedToday,
		ConsecutiveLosses:  consecutiveLosses(state.matches),
	}, nil
}
