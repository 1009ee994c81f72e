package sweeper

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"botfleet/src/breaker"
	"botfleet/src/database"
	"botfleet/src/events"
	"botfleet/src/executors"
	"botfleet/src/ledger"
	"botfleet/src/lifecycle"
	"botfleet/src/repository"
	"botfleet/src/risk"
)

// Sweeper runs the periodic circuit-breaker sweep over every bot.
type Sweeper struct{}

func (s *Sweeper) Start() error {
	config := executors.GetConfig()
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)

	defer stop()

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to main database")
		return err
	}

	users := repository.NewUserRepository()
	bots := repository.NewBotRepository()
	states := repository.NewBotStateRepository()
	accounts := repository.NewUserExchangeRepository()
	exchanges := repository.NewExchangeRepository()
	fills := repository.NewFillRepository()
	ledgerEvents := repository.NewLedgerEventRepository()
	pendingOrders := repository.NewPendingOrderRepository()
	breakerRecords := repository.NewCircuitBreakerRepository()
	exceptions := repository.NewExceptionRepository()

	notifier := events.NewNotifier(64)
	defer notifier.Close()

	ledgerService := ledger.NewService(fills, ledgerEvents, pendingOrders)
	life := lifecycle.NewService(states, notifier)
	evaluator := breaker.NewEvaluator(ledgerService, exceptions, breakerRecords, life, notifier)

	riskCfg := risk.GetConfig()
	loop := executors.NewSweepLoop(users, bots, states, accounts, exchanges, evaluator, riskCfg.Base(), riskCfg.Overrides())

	logrus.WithField("period", config.SweepPeriod).Info("Starting circuit-breaker sweep loop")

	if err := loop.Start(ctx, config.SweepPeriod); err != nil {
		logrus.WithError(err).Error("Failed to run sweep loop")
		return err
	}

	return nil
}
