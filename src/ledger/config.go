package ledger

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// ReconcileThresholdPct flags reconciliation discrepancies above this
	// percentage as a data-integrity issue.
	ReconcileThresholdPct float64 `envconfig:"RECONCILE_THRESHOLD_PCT" default:"0.5"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
