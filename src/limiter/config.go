package limiter

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	MaxTradesPerBotDaily    int `envconfig:"MAX_TRADES_PER_BOT_DAILY" default:"50"`
	MaxTradesPerUserDaily   int `envconfig:"MAX_TRADES_PER_USER_DAILY" default:"200"`
	BurstLimitWindowSeconds int `envconfig:"BURST_LIMIT_WINDOW_SECONDS" default:"60"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
