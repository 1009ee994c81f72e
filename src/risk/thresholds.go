package risk

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// ----- risk modes -----

type Mode string

const (
	ModeConservative Mode = "conservative"
	ModeNormal       Mode = "normal"
	ModeAggressive   Mode = "aggressive"
)

// Thresholds are the circuit-breaker trip levels for one bot.
// Percentages are fractions (0.25 = 25%).
type Thresholds struct {
	MaxDrawdownPct    decimal.Decimal
	DailyLossPct      decimal.Decimal
	ConsecutiveLosses int
	ErrorsPerHour     int
}

// Config holds the deployment-wide base thresholds. The override maps are
// keyed by exchange name, e.g. BREAKER_MAX_DRAWDOWN_OVERRIDES="kraken:0.15".
type Config struct {
	MaxDrawdownPct    float64 `envconfig:"BREAKER_MAX_DRAWDOWN_PCT" default:"0.25"`
	DailyLossPct      float64 `envconfig:"BREAKER_DAILY_LOSS_PCT" default:"0.10"`
	ConsecutiveLosses int     `envconfig:"BREAKER_CONSECUTIVE_LOSSES" default:"5"`
	ErrorsPerHour     int     `envconfig:"BREAKER_ERRORS_PER_HOUR" default:"10"`

	MaxDrawdownOverrides map[string]float64 `envconfig:"BREAKER_MAX_DRAWDOWN_OVERRIDES"`
	DailyLossOverrides   map[string]float64 `envconfig:"BREAKER_DAILY_LOSS_OVERRIDES"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// Base returns the configured deployment-wide thresholds.
func (c Config) Base() Thresholds {
	return Thresholds{
		MaxDrawdownPct:    decimal.NewFromFloat(c.MaxDrawdownPct),
		DailyLossPct:      decimal.NewFromFloat(c.DailyLossPct),
		ConsecutiveLosses: c.ConsecutiveLosses,
		ErrorsPerHour:     c.ErrorsPerHour,
	}
}

// Overrides folds the configured per-exchange adjustments into Override
// values keyed by exchange name.
func (c Config) Overrides() map[string]Override {
	overrides := make(map[string]Override)
	for exchange, pct := range c.MaxDrawdownOverrides {
		o := overrides[exchange]
		o.Exchange = exchange
		dd := decimal.NewFromFloat(pct)
		o.MaxDrawdownPct = &dd
		overrides[exchange] = o
	}
	for exchange, pct := range c.DailyLossOverrides {
		o := overrides[exchange]
		o.Exchange = exchange
		dl := decimal.NewFromFloat(pct)
		o.DailyLossPct = &dl
		overrides[exchange] = o
	}
	return overrides
}

// ----- per-mode scaling -----

// modeScale widens or tightens the loss thresholds per risk mode. Error
// limits do not scale; an erroring bot is broken in any mode.
var modeScale = map[Mode]decimal.Decimal{
	ModeConservative: decimal.NewFromFloat(0.5),
	ModeNormal:       decimal.NewFromFloat(1.0),
	ModeAggressive:   decimal.NewFromFloat(1.5),
}

// ForMode applies a risk-mode scale to the base thresholds. Unknown modes
// fall back to normal.
func ForMode(base Thresholds, mode Mode) Thresholds {
	scale, ok := modeScale[mode]
	if !ok {
		scale = modeScale[ModeNormal]
	}

	scaled := base
	scaled.MaxDrawdownPct = base.MaxDrawdownPct.Mul(scale)
	scaled.DailyLossPct = base.DailyLossPct.Mul(scale)

	losses := decimal.NewFromInt(int64(base.ConsecutiveLosses)).Mul(scale).IntPart()
	if losses < 1 {
		losses = 1
	}
	scaled.ConsecutiveLosses = int(losses)

	return scaled
}

// Override is a per-exchange adjustment applied after mode scaling.
type Override struct {
	Exchange       string
	MaxDrawdownPct *decimal.Decimal
	DailyLossPct   *decimal.Decimal
}

// Apply overlays any set fields of the override.
func (o Override) Apply(t Thresholds) Thresholds {
	if o.MaxDrawdownPct != nil {
		t.MaxDrawdownPct = *o.MaxDrawdownPct
	}
	if o.DailyLossPct != nil {
		t.DailyLossPct = *o.DailyLossPct
	}
	return t
}
