package executors

import (
	"context"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"botfleet/src/model"
	"botfleet/src/risk"
)

type UserSource interface {
	ListIDs(ctx context.Context) ([]uint, error)
}

type BotSource interface {
	ListByUser(ctx context.Context, userID uint) ([]model.Bot, error)
}

type StateSource interface {
	FindByBotID(ctx context.Context, botID uint) (*model.BotState, error)
}

type AccountSource interface {
	GetByUserAndExchange(ctx context.Context, userID, exchangeID uint) (*model.UserExchange, error)
}

type ExchangeSource interface {
	FindByID(ctx context.Context, id uint) (*model.Exchange, error)
}

type BreakerEvaluator interface {
	EvaluateBot(ctx context.Context, bot *model.Bot, state *model.BotState, thresholds risk.Thresholds) (*model.CircuitBreakerRecord, error)
	EvaluateUser(ctx context.Context, userID uint, activeBots []model.Bot, thresholds risk.Thresholds) (*model.CircuitBreakerRecord, error)
}

// SweepLoop periodically re-runs the circuit-breaker evaluation over every
// bot. A tick that fires while the previous sweep is still running is
// skipped, never run in parallel.
type SweepLoop struct {
	users     UserSource
	bots      BotSource
	states    StateSource
	accounts  AccountSource
	exchanges ExchangeSource
	evaluator BreakerEvaluator
	base      risk.Thresholds
	overrides map[string]risk.Override

	running sync.Mutex
}

func NewSweepLoop(users UserSource, bots BotSource, states StateSource, accounts AccountSource, exchanges ExchangeSource, evaluator BreakerEvaluator, base risk.Thresholds, overrides map[string]risk.Override) *SweepLoop {
	return &SweepLoop{
		users:     users,
		bots:      bots,
		states:    states,
		accounts:  accounts,
		exchanges: exchanges,
		evaluator: evaluator,
		base:      base,
		overrides: overrides,
	}
}

func (l *SweepLoop) Start(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	logger.WithField("period", period.String()).Info("circuit breaker sweep loop started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("circuit breaker sweep loop stopped")
			return nil
		case <-ticker.C:
			if !l.running.TryLock() {
				logger.Warn("previous sweep still running, skipping tick")
				continue
			}
			if err := l.SweepOnce(ctx); err != nil {
				logger.WithField("error", err.Error()).Error("circuit breaker sweep failed")
			}
			l.running.Unlock()
		}
	}
}

// SweepOnce evaluates every bot of every user once. Per-bot failures are
// logged and do not stop the sweep.
func (l *SweepLoop) SweepOnce(ctx context.Context) error {
	userIDs, err := l.users.ListIDs(ctx)
	if err != nil {
		return err
	}

	tripped := 0
	for _, userID := range userIDs {
		bots, err := l.bots.ListByUser(ctx, userID)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"user_id": userID,
				"error":   err.Error(),
			}).Error("failed to list bots for sweep")
			continue
		}

		var active []model.Bot
		for i := range bots {
			bot := &bots[i]
			state, err := l.states.FindByBotID(ctx, bot.ID)
			if err != nil || state == nil {
				continue
			}
			if state.Status != model.BotStatusActive {
				continue
			}

			record, err := l.evaluator.EvaluateBot(ctx, bot, state, l.thresholdsFor(ctx, bot))
			if err != nil {
				logger.WithFields(map[string]interface{}{
					"bot_id": bot.ID,
					"error":  err.Error(),
				}).Error("breaker evaluation failed")
				continue
			}
			if record != nil {
				tripped++
				continue
			}
			active = append(active, *bot)
		}

		// account-wide pass over the bots that survived their own check
		record, err := l.evaluator.EvaluateUser(ctx, userID, active, l.base)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"user_id": userID,
				"error":   err.Error(),
			}).Error("account breaker evaluation failed")
			continue
		}
		if record != nil {
			tripped++
		}
	}

	if tripped > 0 {
		logger.WithField("tripped", tripped).Info("circuit breaker sweep completed")
	}
	return nil
}

// thresholdsFor resolves the bot's trip levels: account risk mode scales
// the base, then any per-exchange override is overlaid. Missing account
// settings mean normal mode.
func (l *SweepLoop) thresholdsFor(ctx context.Context, bot *model.Bot) risk.Thresholds {
	mode := risk.ModeNormal
	account, err := l.accounts.GetByUserAndExchange(ctx, bot.UserID, bot.ExchangeID)
	if err == nil && account != nil && account.RiskMode != "" {
		mode = risk.Mode(account.RiskMode)
	}
	thresholds := risk.ForMode(l.base, mode)

	if len(l.overrides) > 0 {
		exchange, err := l.exchanges.FindByID(ctx, bot.ExchangeID)
		if err == nil && exchange != nil {
			if override, ok := l.overrides[exchange.Name]; ok {
				thresholds = override.Apply(thresholds)
			}
		}
	}

	return thresholds
}
