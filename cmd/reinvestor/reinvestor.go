package reinvestor

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"botfleet/src/allocator"
	"botfleet/src/database"
	"botfleet/src/events"
	"botfleet/src/executors"
	"botfleet/src/ledger"
	"botfleet/src/repository"
)

// Reinvestor triggers the capital allocator for every user on a fixed
// cadence. The allocator's window claim keeps repeated triggers no-ops.
type Reinvestor struct{}

func (r *Reinvestor) Start() error {
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
	fills := repository.NewFillRepository()
	ledgerEvents := repository.NewLedgerEventRepository()
	pendingOrders := repository.NewPendingOrderRepository()
	reinvestRuns := repository.NewReinvestmentRunRepository()

	notifier := events.NewNotifier(64)
	defer notifier.Close()

	ledgerService := ledger.NewService(fills, ledgerEvents, pendingOrders)
	alloc := allocator.New(allocator.GetConfig(), reinvestRuns, ledgerService, bots, states, notifier)

	loop := executors.NewAllocatorLoop(users, alloc)

	logrus.WithField("period", config.AllocatorPeriod).Info("Starting capital allocator loop")

	if err := loop.Start(ctx, config.AllocatorPeriod); err != nil {
		logrus.WithError(err).Error("Failed to run allocator loop")
		return err
	}

	return nil
}
