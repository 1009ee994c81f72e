package allocator

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"botfleet/src/events"
	"botfleet/src/model"
	"botfleet/src/repository"
	"botfleet/src/utils"
)

// RunStore claims and records allocator executions. The claim is the
// idempotency point: one run per (user, window).
type RunStore interface {
	Claim(ctx context.Context, run *model.ReinvestmentRun) error
	Update(ctx context.Context, run *model.ReinvestmentRun) error
	Latest(ctx context.Context, userID uint) (*model.ReinvestmentRun, error)
}

// Ledger is the slice of the ledger service the allocator uses.
type Ledger interface {
	ComputeRealizedPnL(ctx context.Context, userID uint, botID *uint) (decimal.Decimal, error)
	RecordEvent(ctx context.Context, event *model.LedgerEvent) error
}

type BotSource interface {
	ListByUser(ctx context.Context, userID uint) ([]model.Bot, error)
}

type StateSource interface {
	FindByBotID(ctx context.Context, botID uint) (*model.BotState, error)
	IncreaseCapital(ctx context.Context, botID uint, amount decimal.Decimal) error
}

type Notifier interface {
	Emit(event events.Event)
}

// Allocator redistributes realized profit to the best performing active
// bots once per cadence window. Re-triggering inside a window is a no-op;
// the run record's unique (user, window) claim detects it.
type Allocator struct {
	cfg      Config
	runs     RunStore
	ledger   Ledger
	bots     BotSource
	states   StateSource
	notifier Notifier
}

func New(cfg Config, runs RunStore, ledger Ledger, bots BotSource, states StateSource, notifier Notifier) *Allocator {
	return &Allocator{
		cfg:      cfg,
		runs:     runs,
		ledger:   ledger,
		bots:     bots,
		states:   states,
		notifier: notifier,
	}
}

type candidate struct {
	bot      model.Bot
	realized decimal.Decimal
}

// Run executes one allocation cycle for the user. Returns the run record,
// or repository.ErrRunExists when this window has already been handled.
func (a *Allocator) Run(ctx context.Context, userID uint, now time.Time) (*model.ReinvestmentRun, error) {
	windowKey := utils.UTCDayKey(now)
	log := logger.WithFields(map[string]interface{}{
		"user_id":    userID,
		"window_key": windowKey,
	})

	totalRealized, err := a.ledger.ComputeRealizedPnL(ctx, userID, nil)
	if err != nil {
		return nil, err
	}

	baseline := decimal.Zero
	previous, err := a.runs.Latest(ctx, userID)
	if err != nil {
		return nil, err
	}
	if previous != nil {
		baseline = previous.ProfitBaseline
	}
	profit := totalRealized.Sub(baseline)

	// the baseline only advances on a completed run, so profit below the
	// threshold keeps accumulating across no-op windows
	run := &model.ReinvestmentRun{
		UserID:         userID,
		WindowKey:      windowKey,
		Status:         model.ReinvestmentRunNoOp,
		ProfitBaseline: baseline,
		RealizedProfit: profit,
		RanAt:          now.UTC(),
	}
	if err := a.runs.Claim(ctx, run); err != nil {
		if err == repository.ErrRunExists {
			log.Info("reinvestment window already handled, skipping")
		}
		return nil, err
	}

	if profit.LessThan(decimal.NewFromFloat(a.cfg.ReinvestThreshold)) {
		log.WithField("profit", profit.String()).Info("profit below reinvest threshold, recorded no-op run")
		return run, nil
	}

	selected, err := a.selectTopBots(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		log.Warn("no active bots to allocate to, recorded no-op run")
		return run, nil
	}

	pool := profit.Mul(decimal.NewFromFloat(a.cfg.ReinvestPercentage))
	shares := a.split(pool, selected)

	breakdown := make(map[string]any, len(selected))
	for i, c := range selected {
		botID := c.bot.ID
		event := &model.LedgerEvent{
			UserID:      userID,
			Type:        model.LedgerEventAllocation,
			BotID:       &botID,
			Amount:      shares[i],
			Description: "reinvestment allocation",
			Timestamp:   now.UTC(),
		}
		if err := a.ledger.RecordEvent(ctx, event); err != nil {
			return nil, err
		}
		if err := a.states.IncreaseCapital(ctx, botID, shares[i]); err != nil {
			return nil, err
		}
		breakdown[strconv.FormatUint(uint64(botID), 10)] = shares[i].String()
	}

	run.Status = model.ReinvestmentRunCompleted
	run.ProfitBaseline = totalRealized
	run.Allocated = pool
	run.Breakdown = breakdown
	if err := a.runs.Update(ctx, run); err != nil {
		return nil, err
	}

	a.notifier.Emit(events.Event{
		Type:   events.TypeReinvestmentCompleted,
		UserID: userID,
		Reason: "reinvestment completed",
		Payload: map[string]any{
			"allocated": pool.String(),
			"breakdown": breakdown,
		},
	})

	log.WithFields(map[string]interface{}{
		"allocated": pool.String(),
		"bots":      len(selected),
	}).Info("reinvestment completed")

	return run, nil
}

// selectTopBots ranks the user's active bots by realized PnL and keeps the
// configured top N. Paused, stopped and quarantined bots never receive an
// allocation.
func (a *Allocator) selectTopBots(ctx context.Context, userID uint) ([]candidate, error) {
	bots, err := a.bots.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var candidates []candidate
	for _, bot := range bots {
		state, err := a.states.FindByBotID(ctx, bot.ID)
		if err != nil {
			return nil, err
		}
		if state == nil || state.Status != model.BotStatusActive {
			continue
		}
		botID := bot.ID
		realized, err := a.ledger.ComputeRealizedPnL(ctx, userID, &botID)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, candidate{bot: bot, realized: realized})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].realized.GreaterThan(candidates[j].realized)
	})
	if len(candidates) > a.cfg.ReinvestTopN {
		candidates = candidates[:a.cfg.ReinvestTopN]
	}
	return candidates, nil
}

// split divides the pool across the selected bots. The last share absorbs
// the rounding remainder so the total always equals the pool.
func (a *Allocator) split(pool decimal.Decimal, selected []candidate) []decimal.Decimal {
	n := len(selected)
	shares := make([]decimal.Decimal, n)

	if a.cfg.ReinvestWeighting == WeightingProportional {
		totalWeight := decimal.Zero
		for _, c := range selected {
			if c.realized.IsPositive() {
				totalWeight = totalWeight.Add(c.realized)
			}
		}
		if totalWeight.IsPositive() {
			allocated := decimal.Zero
			for i, c := range selected {
				if i == n-1 {
					shares[i] = pool.Sub(allocated)
					break
				}
				weight := decimal.Zero
				if c.realized.IsPositive() {
					weight = c.realized
				}
				shares[i] = pool.Mul(weight).Div(totalWeight).Round(10)
				allocated = allocated.Add(shares[i])
			}
			return shares
		}
	}

	even := pool.Div(decimal.NewFromInt(int64(n))).Round(10)
	allocated := decimal.Zero
	for i := range shares {
		if i == n-1 {
			shares[i] = pool.Sub(allocated)
			break
		}
		shares[i] = even
		allocated = allocated.Add(even)
	}
	return shares
}
