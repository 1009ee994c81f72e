package executors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	SweepPeriod time.Duration `envconfig:"SWEEP_PERIOD" default:"30s"`

	// AllocatorPeriod is how often the allocator is triggered. The run
	// itself is idempotent per UTC day, so a shorter period only adds
	// recorded skips.
	AllocatorPeriod time.Duration `envconfig:"ALLOCATOR_PERIOD" default:"1h"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
