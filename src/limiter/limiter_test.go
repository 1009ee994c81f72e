package limiter

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		MaxTradesPerBotDaily:    3,
		MaxTradesPerUserDaily:   5,
		BurstLimitWindowSeconds: 60,
	}
}

func at(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("bad time %q: %v", value, err)
	}
	return ts
}

func TestBotDailyLimit(t *testing.T) {
	l := New(testConfig())
	now := at(t, "2026-03-01T10:00:00Z")

	for i := 0; i < 3; i++ {
		if err := l.Allow(1, 1, "binance", 1000, 1, now); err != nil {
			t.Fatalf("admission %d should pass: %v", i+1, err)
		}
	}

	err := l.Allow(1, 1, "binance", 1000, 1, now)
	var limitErr *LimitExceededError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected LimitExceededError, got %v", err)
	}
	if limitErr.Counter != CounterBotDaily {
		t.Fatalf("expected bot_daily counter, got %q", limitErr.Counter)
	}

	// another bot of the same user still has user budget left
	if err := l.Allow(2, 1, "binance", 1000, 2, now); err != nil {
		t.Fatalf("second bot should pass: %v", err)
	}
}

func TestUserDailyLimitSpansBots(t *testing.T) {
	l := New(testConfig())
	now := at(t, "2026-03-01T10:00:00Z")

	for bot := uint(1); bot <= 5; bot++ {
		if err := l.Allow(bot, 1, "binance", 1000, 5, now); err != nil {
			t.Fatalf("bot %d should pass: %v", bot, err)
		}
	}

	err := l.Allow(6, 1, "binance", 1000, 5, now)
	var limitErr *LimitExceededError
	if !errors.As(err, &limitErr) || limitErr.Counter != CounterUserDaily {
		t.Fatalf("expected user_daily rejection, got %v", err)
	}
}

func TestDailyCountersResetAtUTCBoundary(t *testing.T) {
	l := New(testConfig())
	now := at(t, "2026-03-01T23:59:00Z")

	for i := 0; i < 3; i++ {
		if err := l.Allow(1, 1, "binance", 1000, 1, now); err != nil {
			t.Fatalf("admission %d should pass: %v", i+1, err)
		}
	}
	if err := l.Allow(1, 1, "binance", 1000, 1, now); err == nil {
		t.Fatal("expected rejection before the day boundary")
	}

	nextDay := at(t, "2026-03-02T00:01:00Z")
	if err := l.Allow(1, 1, "binance", 1000, 1, nextDay); err != nil {
		t.Fatalf("counter should reset at UTC midnight: %v", err)
	}
}

func TestBurstShareDividedAcrossBots(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTradesPerBotDaily = 100
	cfg.MaxTradesPerUserDaily = 100
	l := New(cfg)
	now := at(t, "2026-03-01T10:00:00Z")

	// venue allows 10 per window, 5 active bots, so 2 burst slots per bot
	if err := l.Allow(1, 1, "binance", 10, 5, now); err != nil {
		t.Fatalf("first burst slot should pass: %v", err)
	}
	if err := l.Allow(1, 1, "binance", 10, 5, now); err != nil {
		t.Fatalf("second burst slot should pass: %v", err)
	}

	err := l.Allow(1, 1, "binance", 10, 5, now)
	var limitErr *LimitExceededError
	if !errors.As(err, &limitErr) || limitErr.Counter != CounterExchangeBurst {
		t.Fatalf("expected exchange_burst rejection, got %v", err)
	}

	// a different bot has its own share
	if err := l.Allow(2, 1, "binance", 10, 5, now); err != nil {
		t.Fatalf("other bot's share is independent: %v", err)
	}
}

func TestBurstRejectionLeavesDailyUntouched(t *testing.T) {
	cfg := testConfig()
	l := New(cfg)
	now := at(t, "2026-03-01T10:00:00Z")

	// share of 1, so the second call fails on burst only
	if err := l.Allow(1, 1, "kraken", 1, 1, now); err != nil {
		t.Fatalf("first admission should pass: %v", err)
	}
	if err := l.Allow(1, 1, "kraken", 1, 1, now); err == nil {
		t.Fatal("expected burst rejection")
	}

	if got := l.BotUsage(1, now).TradesToday; got != 1 {
		t.Fatalf("burst rejection must not consume daily budget, got %d", got)
	}
}

func TestRefundReturnsDailyBudget(t *testing.T) {
	l := New(testConfig())
	now := at(t, "2026-03-01T10:00:00Z")

	for i := 0; i < 3; i++ {
		if err := l.Allow(1, 1, "binance", 1000, 1, now); err != nil {
			t.Fatalf("admission %d should pass: %v", i+1, err)
		}
	}
	l.Refund(1, 1, now)

	if err := l.Allow(1, 1, "binance", 1000, 1, now); err != nil {
		t.Fatalf("refund should free one slot: %v", err)
	}

	usage := l.BotUsage(1, now)
	if usage.TradesToday != 3 || usage.Remaining != 0 {
		t.Fatalf("unexpected usage after refund cycle: %+v", usage)
	}
}

func TestConcurrentAdmissionsNeverOvershoot(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTradesPerBotDaily = 10
	cfg.MaxTradesPerUserDaily = 10
	l := New(cfg)
	now := at(t, "2026-03-01T10:00:00Z")

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Allow(1, 1, "binance", 1000, 1, now); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 10 {
		t.Fatalf("expected exactly 10 admissions, got %d", admitted)
	}
}

func TestUsageReportsDayBoundaryReset(t *testing.T) {
	l := New(testConfig())
	now := at(t, "2026-03-01T10:00:00Z")

	usage := l.UserUsage(1, now)
	want := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if !usage.ResetsAt.Equal(want) {
		t.Fatalf("counter reset boundary mismatch. got=%s want=%s", usage.ResetsAt, want)
	}
}
