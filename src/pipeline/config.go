package pipeline

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	SlippageBufferBps float64 `envconfig:"SLIPPAGE_BUFFER_BPS" default:"5"`
	SafetyMarginBps   float64 `envconfig:"SAFETY_MARGIN_BPS" default:"2"`

	// SubmitTimeout bounds the venue call so a pending order can never be
	// stuck in submitted behind a hung request.
	SubmitTimeout time.Duration `envconfig:"SUBMIT_TIMEOUT" default:"20s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
