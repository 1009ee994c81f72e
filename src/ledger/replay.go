package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"botfleet/src/model"
)

// lot is an unmatched portion of a fill carried as open inventory.
// Amount is positive for long inventory and negative for short inventory.
type lot struct {
	amount decimal.Decimal
	price  decimal.Decimal
}

// matchResult is one FIFO match between a closing fill and an open lot.
type matchResult struct {
	Symbol   string
	BotID    uint
	Amount   decimal.Decimal
	PnL      decimal.Decimal
	ClosedAt time.Time
}

// replayState accumulates the full derived view of a user's ledger while
// replaying fills and ledger events from genesis in chronological order.
type replayState struct {
	funding     decimal.Decimal
	withdrawals decimal.Decimal
	realized    decimal.Decimal
	fees        decimal.Decimal

	// open inventory per symbol, FIFO order
	lots map[string][]lot
	// last traded price per symbol, used to mark open inventory
	lastPrice map[string]decimal.Decimal

	matches []matchResult

	peak        decimal.Decimal
	maxDrawdown decimal.Decimal
}

func newReplayState() *replayState {
	return &replayState{
		lots:      make(map[string][]lot),
		lastPrice: make(map[string]decimal.Decimal),
	}
}

// unrealized marks every open lot against the last traded price of its
// symbol. Lots in symbols that never traded again carry zero unrealized PnL.
func (s *replayState) unrealized() decimal.Decimal {
	total := decimal.Zero
	for symbol, lots := range s.lots {
		mark, ok := s.lastPrice[symbol]
		if !ok {
			continue
		}
		for _, l := range lots {
			total = total.Add(mark.Sub(l.price).Mul(l.amount))
		}
	}
	return total
}

func (s *replayState) equity() decimal.Decimal {
	return s.funding.
		Sub(s.withdrawals).
		Add(s.realized).
		Sub(s.fees).
		Add(s.unrealized())
}

// observe updates the running peak and max drawdown after each replayed
// entry. The peak only decreases on a withdrawal, which the caller signals
// by reducing it before calling observe.
func (s *replayState) observe() {
	eq := s.equity()
	if eq.GreaterThan(s.peak) {
		s.peak = eq
	}
	if s.peak.IsPositive() {
		dd := s.peak.Sub(eq).Div(s.peak)
		if dd.GreaterThan(s.maxDrawdown) {
			s.maxDrawdown = dd
		}
	}
}

// applyEvent replays one capital movement. Allocation events move capital
// between bots of the same user and do not change user-level equity.
func (s *replayState) applyEvent(event *model.LedgerEvent) {
	switch event.Type {
	case model.LedgerEventFunding:
		s.funding = s.funding.Add(event.Amount)
	case model.LedgerEventWithdrawal:
		s.withdrawals = s.withdrawals.Add(event.Amount)
		// A verified withdrawal lowers the peak so the removed capital is
		// not reported as drawdown.
		s.peak = s.peak.Sub(event.Amount)
		if s.peak.IsNegative() {
			s.peak = decimal.Zero
		}
	case model.LedgerEventAllocation:
		// intentionally no user-level effect
	}
	s.observe()
}

// applyFill replays one executed trade: fees accrue, the closing side of the
// fill is matched FIFO against the oldest open inventory of the symbol, and
// any unmatched remainder becomes new inventory.
func (s *replayState) applyFill(fill *model.Fill) {
	s.fees = s.fees.Add(fill.Fee)
	s.lastPrice[fill.Symbol] = fill.Price

	remaining := fill.Amount
	signed := remaining
	if fill.Side == model.SideSell {
		signed = remaining.Neg()
	}

	queue := s.lots[fill.Symbol]

	// Match against opposite-direction inventory first.
	for len(queue) > 0 && remaining.IsPositive() && queue[0].amount.Sign() != 0 && queue[0].amount.Sign() != signed.Sign() {
		open := &queue[0]
		openAbs := open.amount.Abs()

		matched := decimal.Min(openAbs, remaining)

		var pnl decimal.Decimal
		if fill.Side == model.SideSell {
			// closing a long: sell price minus buy price
			pnl = fill.Price.Sub(open.price).Mul(matched)
		} else {
			// closing a short: entry sell price minus buy-back price
			pnl = open.price.Sub(fill.Price).Mul(matched)
		}

		s.realized = s.realized.Add(pnl)
		s.matches = append(s.matches, matchResult{
			Symbol:   fill.Symbol,
			BotID:    fill.BotID,
			Amount:   matched,
			PnL:      pnl,
			ClosedAt: fill.Timestamp,
		})

		remaining = remaining.Sub(matched)
		if openAbs.Equal(matched) {
			queue = queue[1:]
		} else {
			if open.amount.IsPositive() {
				open.amount = open.amount.Sub(matched)
			} else {
				open.amount = open.amount.Add(matched)
			}
		}
	}

	// Unmatched remainder carries forward as open position.
	if remaining.IsPositive() {
		amt := remaining
		if fill.Side == model.SideSell {
			amt = remaining.Neg()
		}
		queue = append(queue, lot{amount: amt, price: fill.Price})
	}

	s.lots[fill.Symbol] = queue
	s.observe()
}

// replay folds fills and ledger events, both already in chronological order,
// into a single derived state. Ties between a fill and an event at the same
// instant replay the event first (capital must exist before it trades).
func replay(fills []model.Fill, events []model.LedgerEvent) *replayState {
	return replayWithBase(fills, events, decimal.Zero)
}

// replayWithBase seeds the state with a capital base before replaying. Used
// for bot-scoped metrics, where the bot's allocated capital is the peak the
// drawdown is measured against.
func replayWithBase(fills []model.Fill, events []model.LedgerEvent, base decimal.Decimal) *replayState {
	state := newReplayState()
	if base.IsPositive() {
		state.funding = base
		state.observe()
	}

	i, j := 0, 0
	for i < len(fills) || j < len(events) {
		takeEvent := j < len(events) &&
			(i >= len(fills) || !events[j].Timestamp.After(fills[i].Timestamp))

		if takeEvent {
			state.applyEvent(&events[j])
			j++
		} else {
			state.applyFill(&fills[i])
			i++
		}
	}

	return state
}

// consecutiveLosses counts the trailing run of losing matches.
func consecutiveLosses(matches []matchResult) int {
	count := 0
	for i := len(matches) - 1; i >= 0; i-- {
		if matches[i].PnL.IsNegative() {
			count++
			continue
		}
		break
	}
	return count
}
