package marketdata

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

var tenThousand = decimal.NewFromInt(10000)

// TickerSource is the slice of goex.API the estimator needs.
type TickerSource interface {
	GetTicker(pair goex.CurrencyPair) (*goex.Ticker, error)
}

// SpreadEstimator turns live bid/ask quotes into a spread estimate in
// basis points for the fee-coverage check. Quotes are cached per symbol
// for a short TTL; when no usable quote is available the configured
// fallback applies.
type SpreadEstimator struct {
	cfg      Config
	exchange TickerSource
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]spreadSample
}

type spreadSample struct {
	bps     decimal.Decimal
	fetched time.Time
}

func NewSpreadEstimator(cfg Config) *SpreadEstimator {
	apiConfig := &goex.APIConfig{
		HttpClient: http.DefaultClient,
		Endpoint:   binance.GLOBAL_API_BASE_URL,
	}
	return &SpreadEstimator{
		cfg:      cfg,
		exchange: binance.NewWithConfig(apiConfig),
		now:      time.Now,
		cache:    make(map[string]spreadSample),
	}
}

// NewSpreadEstimatorWithSource wires a custom ticker source, used in tests.
func NewSpreadEstimatorWithSource(cfg Config, source TickerSource) *SpreadEstimator {
	return &SpreadEstimator{
		cfg:      cfg,
		exchange: source,
		now:      time.Now,
		cache:    make(map[string]spreadSample),
	}
}

// EstimateBps returns the half-spread cost of crossing the book for
// symbol, in basis points of the mid price.
func (s *SpreadEstimator) EstimateBps(symbol string) decimal.Decimal {
	now := s.now()

	s.mu.Lock()
	sample, ok := s.cache[symbol]
	s.mu.Unlock()
	ttl := time.Duration(s.cfg.SpreadCacheSeconds) * time.Second
	if ok && now.Sub(sample.fetched) < ttl {
		return sample.bps
	}

	bps, err := s.fetch(symbol)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"symbol": symbol,
			"error":  err.Error(),
		}).Warn("spread estimate fell back to configured default")
		return decimal.NewFromFloat(s.cfg.SpreadFallbackBps)
	}

	s.mu.Lock()
	s.cache[symbol] = spreadSample{bps: bps, fetched: now}
	s.mu.Unlock()
	return bps
}

// LastPrice returns the venue's last traded price for symbol, used as the
// reference price for paper fills.
func (s *SpreadEstimator) LastPrice(symbol string) (decimal.Decimal, error) {
	ticker, err := s.exchange.GetTicker(s.pair(symbol))
	if err != nil {
		return decimal.Zero, err
	}
	last := decimal.NewFromFloat(ticker.Last)
	if !last.IsPositive() {
		return decimal.Zero, fmt.Errorf("no last price for %s", symbol)
	}
	return last, nil
}

func (s *SpreadEstimator) pair(symbol string) goex.CurrencyPair {
	base := strings.TrimSuffix(strings.ToUpper(symbol), strings.ToUpper(s.cfg.TickerQuoteCurrency))
	return goex.NewCurrencyPair(goex.Currency{Symbol: base}, goex.Currency{Symbol: s.cfg.TickerQuoteCurrency})
}

func (s *SpreadEstimator) fetch(symbol string) (decimal.Decimal, error) {
	ticker, err := s.exchange.GetTicker(s.pair(symbol))
	if err != nil {
		return decimal.Zero, err
	}

	bid := decimal.NewFromFloat(ticker.Buy)
	ask := decimal.NewFromFloat(ticker.Sell)
	if !bid.IsPositive() || !ask.IsPositive() || ask.LessThan(bid) {
		return decimal.NewFromFloat(s.cfg.SpreadFallbackBps), nil
	}

	mid := bid.Add(ask).Div(decimal.NewFromInt(2))
	return ask.Sub(bid).Div(mid).Mul(tenThousand), nil
}
