package marketdata

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// SpreadFallbackBps is used when the venue ticker is unavailable or
	// returns an unusable quote.
	SpreadFallbackBps   float64 `envconfig:"SPREAD_FALLBACK_BPS" default:"10"`
	SpreadCacheSeconds  int     `envconfig:"SPREAD_CACHE_SECONDS" default:"5"`
	TickerQuoteCurrency string  `envconfig:"TICKER_QUOTE_CURRENCY" default:"USDT"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
