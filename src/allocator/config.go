package allocator

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

const (
	WeightingEqual        = "equal"
	WeightingProportional = "proportional"
)

type Config struct {
	// ReinvestThreshold is the minimum realized profit since the last run
	// before anything is allocated.
	ReinvestThreshold  float64 `envconfig:"REINVEST_THRESHOLD" default:"500"`
	ReinvestTopN       int     `envconfig:"REINVEST_TOP_N" default:"3"`
	ReinvestPercentage float64 `envconfig:"REINVEST_PERCENTAGE" default:"0.8"`

	// ReinvestWeighting is "equal" or "proportional" (to each selected
	// bot's realized PnL).
	ReinvestWeighting string `envconfig:"REINVEST_WEIGHTING" default:"equal"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
