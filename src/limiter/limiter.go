package limiter

import (
	"fmt"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"botfleet/src/utils"
)

// Counter names carried by LimitExceededError so the caller knows which
// limit was hit.
const (
	CounterBotDaily      = "bot_daily"
	CounterUserDaily     = "user_daily"
	CounterExchangeBurst = "exchange_burst"
)

type LimitExceededError struct {
	Counter string
	Limit   int
	Current int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("trade limit exceeded: %s (%d/%d)", e.Counter, e.Current, e.Limit)
}

// Usage is the introspection shape for a single counter. ResetsAt is the
// UTC day boundary the counter clears at.
type Usage struct {
	TradesToday int       `json:"trades_today"`
	MaxTrades   int       `json:"max_trades"`
	Remaining   int       `json:"remaining"`
	ResetsAt    time.Time `json:"resets_at"`
}

type burstEntry struct {
	share   int
	limiter *rate.Limiter
}

// Limiter enforces the daily per-bot and per-user counters plus a
// sliding-window burst budget per (exchange, bot). Check and increment
// happen under one mutex so concurrent submissions can never overshoot a
// limit. Daily counters reset at the UTC day boundary; the burst budget is
// the venue's window limit divided across the bots active on that venue.
type Limiter struct {
	cfg Config

	mu     sync.Mutex
	day    string
	bots   map[uint]int
	users  map[uint]int
	bursts map[string]*burstEntry
}

func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:    cfg,
		bots:   make(map[uint]int),
		users:  make(map[uint]int),
		bursts: make(map[string]*burstEntry),
	}
}

// maybeRotate clears the daily counters when the UTC day has changed.
// Callers hold l.mu.
func (l *Limiter) maybeRotate(now time.Time) {
	key := utils.UTCDayKey(now)
	if key == l.day {
		return
	}
	if l.day != "" {
		logger.WithFields(map[string]interface{}{
			"previous_day": l.day,
			"day":          key,
		}).Info("daily trade counters reset")
	}
	l.day = key
	l.bots = make(map[uint]int)
	l.users = make(map[uint]int)
}

// burstLimiter returns the (exchange, bot) budget, rebuilt whenever the
// per-bot share changes because bots joined or left the venue.
// Callers hold l.mu.
func (l *Limiter) burstLimiter(exchange string, botID uint, exchangeLimit, activeBots int) *burstEntry {
	if activeBots < 1 {
		activeBots = 1
	}
	share := exchangeLimit / activeBots
	if share < 1 {
		share = 1
	}
	key := fmt.Sprintf("%s/%d", exchange, botID)
	entry, ok := l.bursts[key]
	if !ok || entry.share != share {
		window := time.Duration(l.cfg.BurstLimitWindowSeconds) * time.Second
		entry = &burstEntry{
			share:   share,
			limiter: rate.NewLimiter(rate.Limit(float64(share)/window.Seconds()), share),
		}
		l.bursts[key] = entry
	}
	return entry
}

// Allow runs the three counter checks and, when all pass, consumes one
// trade from each. The burst check consumes its token before the daily
// increments, so a burst rejection leaves the daily counters untouched.
func (l *Limiter) Allow(botID, userID uint, exchange string, exchangeLimit, activeBots int, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeRotate(now)

	if l.bots[botID] >= l.cfg.MaxTradesPerBotDaily {
		return &LimitExceededError{
			Counter: CounterBotDaily,
			Limit:   l.cfg.MaxTradesPerBotDaily,
			Current: l.bots[botID],
		}
	}
	if l.users[userID] >= l.cfg.MaxTradesPerUserDaily {
		return &LimitExceededError{
			Counter: CounterUserDaily,
			Limit:   l.cfg.MaxTradesPerUserDaily,
			Current: l.users[userID],
		}
	}

	burst := l.burstLimiter(exchange, botID, exchangeLimit, activeBots)
	if !burst.limiter.AllowN(now, 1) {
		return &LimitExceededError{
			Counter: CounterExchangeBurst,
			Limit:   burst.share,
			Current: burst.share,
		}
	}

	l.bots[botID]++
	l.users[userID]++
	return nil
}

// Refund returns one trade to the daily counters after a later gate
// rejected the order. The burst token is deliberately not returned; the
// venue saw no request, but staying conservative there is harmless.
func (l *Limiter) Refund(botID, userID uint, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeRotate(now)

	if l.bots[botID] > 0 {
		l.bots[botID]--
	}
	if l.users[userID] > 0 {
		l.users[userID]--
	}
}

// BotUsage reports the bot-daily counter state.
func (l *Limiter) BotUsage(botID uint, now time.Time) Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeRotate(now)
	return usage(l.bots[botID], l.cfg.MaxTradesPerBotDaily, now)
}

// UserUsage reports the user-daily counter state.
func (l *Limiter) UserUsage(userID uint, now time.Time) Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeRotate(now)
	return usage(l.users[userID], l.cfg.MaxTradesPerUserDaily, now)
}

func usage(current, max int, now time.Time) Usage {
	remaining := max - current
	if remaining < 0 {
		remaining = 0
	}
	return Usage{
		TradesToday: current,
		MaxTrades:   max,
		Remaining:   remaining,
		ResetsAt:    utils.UTCNextDay(now),
	}
}
