package pipeline

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Gate names reported in SubmitResult.GateFailed.
const (
	GateIdempotency    = "idempotency"
	GateFeeCoverage    = "fee_coverage"
	GateTradeLimiter   = "trade_limiter"
	GateCircuitBreaker = "circuit_breaker"
	GateExchange       = "exchange"
)

// DuplicateOrderError means the idempotency key has already been admitted.
// Callers must generate a fresh key to retry, whatever the state of the
// original order.
type DuplicateOrderError struct {
	IdempotencyKey string
}

func (e *DuplicateOrderError) Error() string {
	return fmt.Sprintf("duplicate order: idempotency key %q already admitted", e.IdempotencyKey)
}

// InsufficientEdgeError means the caller's expected gain does not cover
// fees, spread and the configured buffers.
type InsufficientEdgeError struct {
	EdgeBps     decimal.Decimal
	RequiredBps decimal.Decimal
}

func (e *InsufficientEdgeError) Error() string {
	return fmt.Sprintf("insufficient edge: %s bps expected, %s bps required", e.EdgeBps, e.RequiredBps)
}

// CircuitTrippedError names the containment state that blocked admission.
type CircuitTrippedError struct {
	BotID  uint
	Status string
}

func (e *CircuitTrippedError) Error() string {
	return fmt.Sprintf("circuit tripped: bot %d is %s", e.BotID, e.Status)
}

// AccountTrippedError means the user-level circuit breaker is tripped,
// which blocks every bot of the account regardless of its own state.
type AccountTrippedError struct {
	UserID uint
	Reason string
}

func (e *AccountTrippedError) Error() string {
	return fmt.Sprintf("circuit tripped: account %d breaker is open: %s", e.UserID, e.Reason)
}
