package marketdata

import (
	"errors"
	"testing"
	"time"

	"github.com/nntaoli-project/goex"
)

type stubTicker struct {
	bid, ask float64
	err      error
	calls    int
}

func (s *stubTicker) GetTicker(_ goex.CurrencyPair) (*goex.Ticker, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &goex.Ticker{Buy: s.bid, Sell: s.ask}, nil
}

func testEstimator(source TickerSource) *SpreadEstimator {
	cfg := Config{
		SpreadFallbackBps:   10,
		SpreadCacheSeconds:  5,
		TickerQuoteCurrency: "USDT",
	}
	return NewSpreadEstimatorWithSource(cfg, source)
}

func TestEstimateBpsFromQuote(t *testing.T) {
	// bid 99.95, ask 100.05: spread 0.10 on mid 100.00 is 10 bps
	e := testEstimator(&stubTicker{bid: 99.95, ask: 100.05})

	got := e.EstimateBps("BTCUSDT")
	if got.StringFixed(2) != "10.00" {
		t.Fatalf("spread mismatch. got=%s want=10.00", got)
	}
}

func TestEstimateBpsFallsBackOnError(t *testing.T) {
	e := testEstimator(&stubTicker{err: errors.New("venue down")})

	got := e.EstimateBps("BTCUSDT")
	if got.StringFixed(2) != "10.00" {
		t.Fatalf("expected configured fallback, got %s", got)
	}
}

func TestEstimateBpsFallsBackOnCrossedBook(t *testing.T) {
	e := testEstimator(&stubTicker{bid: 100.10, ask: 100.00})

	got := e.EstimateBps("BTCUSDT")
	if got.StringFixed(2) != "10.00" {
		t.Fatalf("crossed book should use fallback, got %s", got)
	}
}

func TestEstimateBpsCachesWithinTTL(t *testing.T) {
	source := &stubTicker{bid: 99.95, ask: 100.05}
	e := testEstimator(source)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	current := base
	e.now = func() time.Time { return current }

	e.EstimateBps("BTCUSDT")
	e.EstimateBps("BTCUSDT")
	if source.calls != 1 {
		t.Fatalf("second call within TTL must hit cache, calls=%d", source.calls)
	}

	current = base.Add(6 * time.Second)
	e.EstimateBps("BTCUSDT")
	if source.calls != 2 {
		t.Fatalf("expired cache must refetch, calls=%d", source.calls)
	}
}
