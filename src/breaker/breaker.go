package breaker

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"botfleet/src/events"
	"botfleet/src/ledger"
	"botfleet/src/model"
	"botfleet/src/risk"
	"botfleet/src/utils"
)

// MetricsSource supplies ledger-derived per-bot and per-user metrics.
// Satisfied by *ledger.Service.
type MetricsSource interface {
	ComputeBotMetrics(ctx context.Context, userID, botID uint, capital decimal.Decimal, dayStart time.Time) (*ledger.BotMetrics, error)
	ComputeUserMetrics(ctx context.Context, userID uint, dayStart time.Time) (*ledger.UserMetrics, error)
}

// ErrorCounter supplies the errors-per-hour metric. Satisfied by
// *repository.ExceptionRepository.
type ErrorCounter interface {
	CountForBotSince(ctx context.Context, botID uint, since time.Time) (int, error)
}

// RecordStore is the append-only trip/reset history.
type RecordStore interface {
	Append(ctx context.Context, record *model.CircuitBreakerRecord) error
	Latest(ctx context.Context, entityType string, entityID uint) (*model.CircuitBreakerRecord, error)
}

// Lifecycle is the slice of the lifecycle service the breaker drives.
type Lifecycle interface {
	Pause(ctx context.Context, botID uint, reason string, byUser bool) (*model.BotState, error)
	Quarantine(ctx context.Context, botID uint, reason string) (*model.BotState, error)
	ResetQuarantine(ctx context.Context, botID uint, reason string) (*model.BotState, error)
}

// Notifier is satisfied by events.Notifier.
type Notifier interface {
	Emit(event events.Event)
}

// Evaluator re-runs the trip decision for bots against their thresholds.
// Soft breaches (daily loss, losing streak) pause the bot; hard breaches
// (max drawdown, error rate) quarantine it. Every change of trip status is
// appended to the history, which is never edited.
type Evaluator struct {
	metrics  MetricsSource
	errs     ErrorCounter
	records  RecordStore
	life     Lifecycle
	notifier Notifier
	now      func() time.Time
}

func NewEvaluator(metrics MetricsSource, errs ErrorCounter, records RecordStore, life Lifecycle, notifier Notifier) *Evaluator {
	return &Evaluator{
		metrics:  metrics,
		errs:     errs,
		records:  records,
		life:     life,
		notifier: notifier,
		now:      time.Now,
	}
}

// trip is an internal decision: which threshold broke and how severely.
type trip struct {
	severity string
	reason   string
}

// EvaluateBot computes the bot's current metrics and trips the breaker when
// a threshold is breached. Returns the appended record when the trip status
// changed, (nil, nil) otherwise.
func (e *Evaluator) EvaluateBot(ctx context.Context, bot *model.Bot, state *model.BotState, thresholds risk.Thresholds) (*model.CircuitBreakerRecord, error) {
	if state.Status != model.BotStatusActive {
		// already contained or terminal, nothing to trip
		return nil, nil
	}

	now := e.now().UTC()
	dayStart := utils.UTCDayStart(now)

	metrics, err := e.metrics.ComputeBotMetrics(ctx, bot.UserID, bot.ID, state.CurrentCapital, dayStart)
	if err != nil {
		return nil, err
	}

	errCount, err := e.errs.CountForBotSince(ctx, bot.ID, now.Add(-time.Hour))
	if err != nil {
		return nil, err
	}

	dailyLossPct := decimal.Zero
	if metrics.RealizedToday.IsNegative() && state.CurrentCapital.IsPositive() {
		dailyLossPct = metrics.RealizedToday.Neg().Div(state.CurrentCapital)
	}

	decision := decide(metrics, dailyLossPct, errCount, thresholds)
	if decision == nil {
		return nil, nil
	}

	record := &model.CircuitBreakerRecord{
		EntityType:        model.BreakerEntityBot,
		EntityID:          bot.ID,
		IsTripped:         true,
		Severity:          decision.severity,
		TripReason:        decision.reason,
		DrawdownPct:       metrics.DrawdownCurrentPct,
		DailyLossPct:      dailyLossPct,
		ConsecutiveLosses: metrics.ConsecutiveLosses,
		ErrorsPerHour:     errCount,
		TrippedAt:         &now,
	}

	if decision.severity == model.BreakerSeverityHard {
		if _, err := e.life.Quarantine(ctx, bot.ID, decision.reason); err != nil {
			return nil, err
		}
	} else {
		if _, err := e.life.Pause(ctx, bot.ID, decision.reason, false); err != nil {
			return nil, err
		}
	}

	if err := e.records.Append(ctx, record); err != nil {
		return nil, err
	}

	e.notifier.Emit(events.Event{
		Type:   events.TypeCircuitBreakerTripped,
		UserID: bot.UserID,
		BotID:  bot.ID,
		Reason: decision.reason,
		Payload: map[string]any{
			"severity":           decision.severity,
			"drawdown_pct":       metrics.DrawdownCurrentPct.String(),
			"consecutive_losses": metrics.ConsecutiveLosses,
		},
	})

	logger.WithFields(map[string]interface{}{
		"bot_id":   bot.ID,
		"severity": decision.severity,
		"reason":   decision.reason,
	}).Warn("circuit breaker tripped")

	return record, nil
}

// EvaluateUser runs the trip decision over the user's whole account. When a
// threshold is breached, a user-entity record is appended and every bot in
// activeBots is contained; the user record itself blocks new admissions
// until ResetUserBreaker. Returns the appended record on a trip, (nil, nil)
// otherwise. An already tripped user is left alone.
func (e *Evaluator) EvaluateUser(ctx context.Context, userID uint, activeBots []model.Bot, thresholds risk.Thresholds) (*model.CircuitBreakerRecord, error) {
	if len(activeBots) == 0 {
		// no exposure, nothing to contain
		return nil, nil
	}

	latest, err := e.records.Latest(ctx, model.BreakerEntityUser, userID)
	if err != nil {
		return nil, err
	}
	if latest != nil && latest.IsTripped {
		return nil, nil
	}

	now := e.now().UTC()
	metrics, err := e.metrics.ComputeUserMetrics(ctx, userID, utils.UTCDayStart(now))
	if err != nil {
		return nil, err
	}

	// daily loss is measured against start-of-day equity
	dailyLossPct := decimal.Zero
	base := metrics.Equity.Sub(metrics.RealizedToday)
	if metrics.RealizedToday.IsNegative() && base.IsPositive() {
		dailyLossPct = metrics.RealizedToday.Neg().Div(base)
	}

	// venue error counts stay on the bot entity
	decision := decide(&ledger.BotMetrics{
		DrawdownCurrentPct: metrics.DrawdownCurrentPct,
		DrawdownMaxPct:     metrics.DrawdownMaxPct,
		RealizedToday:      metrics.RealizedToday,
		ConsecutiveLosses:  metrics.ConsecutiveLosses,
	}, dailyLossPct, 0, thresholds)
	if decision == nil {
		return nil, nil
	}

	for i := range activeBots {
		bot := &activeBots[i]
		var containErr error
		if decision.severity == model.BreakerSeverityHard {
			_, containErr = e.life.Quarantine(ctx, bot.ID, decision.reason)
		} else {
			_, containErr = e.life.Pause(ctx, bot.ID, decision.reason, false)
		}
		if containErr != nil {
			logger.WithFields(map[string]interface{}{
				"user_id": userID,
				"bot_id":  bot.ID,
				"error":   containErr.Error(),
			}).Error("failed to contain bot for user-level trip")
		}
	}

	record := &model.CircuitBreakerRecord{
		EntityType:        model.BreakerEntityUser,
		EntityID:          userID,
		IsTripped:         true,
		Severity:          decision.severity,
		TripReason:        decision.reason,
		DrawdownPct:       metrics.DrawdownCurrentPct,
		DailyLossPct:      dailyLossPct,
		ConsecutiveLosses: metrics.ConsecutiveLosses,
		TrippedAt:         &now,
	}
	if err := e.records.Append(ctx, record); err != nil {
		return nil, err
	}

	e.notifier.Emit(events.Event{
		Type:   events.TypeCircuitBreakerTripped,
		UserID: userID,
		Reason: decision.reason,
		Payload: map[string]any{
			"entity_type":  model.BreakerEntityUser,
			"severity":     decision.severity,
			"drawdown_pct": metrics.DrawdownCurrentPct.String(),
			"bots":         len(activeBots),
		},
	})

	logger.WithFields(map[string]interface{}{
		"user_id":  userID,
		"severity": decision.severity,
		"reason":   decision.reason,
	}).Warn("account circuit breaker tripped")

	return record, nil
}

// ResetUserBreaker records the operator reset of the account-level breaker
// so admissions unblock. Contained bots stay contained until resumed or
// reset individually.
func (e *Evaluator) ResetUserBreaker(ctx context.Context, userID uint, reason string) (*model.CircuitBreakerRecord, error) {
	now := e.now().UTC()
	record := &model.CircuitBreakerRecord{
		EntityType:  model.BreakerEntityUser,
		EntityID:    userID,
		IsTripped:   false,
		ResetAt:     &now,
		ResetReason: reason,
	}
	if err := e.records.Append(ctx, record); err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"reason":  reason,
	}).Info("account circuit breaker reset recorded")

	return record, nil
}

// decide checks hard triggers first so a simultaneous soft breach cannot
// downgrade a quarantine to a pause.
func decide(metrics *ledger.BotMetrics, dailyLossPct decimal.Decimal, errCount int, t risk.Thresholds) *trip {
	if t.MaxDrawdownPct.IsPositive() && metrics.DrawdownCurrentPct.GreaterThanOrEqual(t.MaxDrawdownPct) {
		return &trip{
			severity: model.BreakerSeverityHard,
			reason:   fmt.Sprintf("max drawdown breached: %s >= %s", metrics.DrawdownCurrentPct, t.MaxDrawdownPct),
		}
	}
	if t.ErrorsPerHour > 0 && errCount >= t.ErrorsPerHour {
		return &trip{
			severity: model.BreakerSeverityHard,
			reason:   fmt.Sprintf("error rate breached: %d errors/hour >= %d", errCount, t.ErrorsPerHour),
		}
	}
	if t.DailyLossPct.IsPositive() && dailyLossPct.GreaterThanOrEqual(t.DailyLossPct) {
		return &trip{
			severity: model.BreakerSeveritySoft,
			reason:   fmt.Sprintf("daily loss breached: %s >= %s", dailyLossPct, t.DailyLossPct),
		}
	}
	if t.ConsecutiveLosses > 0 && metrics.ConsecutiveLosses >= t.ConsecutiveLosses {
		return &trip{
			severity: model.BreakerSeveritySoft,
			reason:   fmt.Sprintf("losing streak breached: %d consecutive losses", metrics.ConsecutiveLosses),
		}
	}
	return nil
}

// ResetQuarantine records the operator reset and moves the bot to paused.
// The reset reason is preserved in the history for audit.
func (e *Evaluator) ResetQuarantine(ctx context.Context, botID uint, reason string) (*model.BotState, error) {
	state, err := e.life.ResetQuarantine(ctx, botID, reason)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	record := &model.CircuitBreakerRecord{
		EntityType:  model.BreakerEntityBot,
		EntityID:    botID,
		IsTripped:   false,
		ResetAt:     &now,
		ResetReason: reason,
	}
	if err := e.records.Append(ctx, record); err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"bot_id": botID,
		"reason": reason,
	}).Info("circuit breaker reset recorded")

	return state, nil
}
