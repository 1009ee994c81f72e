package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"botfleet/src/allocator"
	"botfleet/src/auth"
	"botfleet/src/breaker"
	"botfleet/src/connectors"
	"botfleet/src/events"
	"botfleet/src/handler"
	"botfleet/src/ledger"
	"botfleet/src/lifecycle"
	"botfleet/src/limiter"
	"botfleet/src/marketdata"
	"botfleet/src/pipeline"
	"botfleet/src/repository"
	"botfleet/src/security"
)

// accountCredentials resolves a user's venue API keys from the account
// store, decrypting them on demand.
type accountCredentials struct {
	accounts *repository.GormUserExchangeRepository
}

func (a accountCredentials) Credentials(ctx context.Context, userID, exchangeID uint) (string, string, error) {
	account, err := a.accounts.GetByUserAndExchange(ctx, userID, exchangeID)
	if err != nil {
		return "", "", err
	}
	if account == nil {
		return "", "", fmt.Errorf("no credentials configured for user %d on exchange %d", userID, exchangeID)
	}

	apiKey, err := security.DecryptString(account.APIKeyHash)
	if err != nil {
		return "", "", fmt.Errorf("failed to decrypt api key: %w", err)
	}
	apiSecret, err := security.DecryptString(account.APISecretHash)
	if err != nil {
		return "", "", fmt.Errorf("failed to decrypt api secret: %w", err)
	}

	return apiKey, apiSecret, nil
}

func StartServer(port string) {
	// Repositories
	users := repository.NewUserRepository()
	exchanges := repository.NewExchangeRepository()
	accounts := repository.NewUserExchangeRepository()
	bots := repository.NewBotRepository()
	states := repository.NewBotStateRepository()
	fills := repository.NewFillRepository()
	ledgerEvents := repository.NewLedgerEventRepository()
	pendingOrders := repository.NewPendingOrderRepository()
	breakerRecords := repository.NewCircuitBreakerRepository()
	reinvestRuns := repository.NewReinvestmentRunRepository()
	exceptions := repository.NewExceptionRepository()

	// Event fan-out with the websocket hub attached
	hub := events.NewHub()
	notifier := events.NewNotifier(64, hub)
	defer notifier.Close()

	// Services
	ledgerService := ledger.NewService(fills, ledgerEvents, pendingOrders)
	limits := limiter.New(limiter.GetConfig())
	spreads := marketdata.NewSpreadEstimator(marketdata.GetConfig())
	registry := connectors.NewRegistry(
		connectors.GetConfig(),
		accountCredentials{accounts: accounts},
		spreads.LastPrice,
	)
	life := lifecycle.NewService(states, notifier)
	breakerEval := breaker.NewEvaluator(ledgerService, exceptions, breakerRecords, life, notifier)
	pipe := pipeline.New(pipeline.GetConfig(), pendingOrders, bots, states, breakerRecords, exchanges, ledgerService, spreads, limits, registry, notifier, exceptions)
	alloc := allocator.New(allocator.GetConfig(), reinvestRuns, ledgerService, bots, states, notifier)

	reconcileThreshold := decimal.NewFromFloat(ledger.GetConfig().ReconcileThresholdPct)

	// Router with middleware
	r := chi.NewRouter()

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/health error")
		}
	})
	r.Post("/api/users", handler.CreateUserHandler(users))

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(auth.BasicAuth(users))

		r.Post("/api/orders", handler.SubmitOrderHandler(pipe, bots))
		r.Get("/api/limits", handler.LimitsUsageHandler(limits, bots))

		r.Get("/api/portfolio", handler.PortfolioSummaryHandler(ledgerService))
		r.Post("/api/ledger/events", handler.RecordLedgerEventHandler(ledgerService))
		r.Get("/api/ledger/verify", handler.VerifyIntegrityHandler(ledgerService))
		r.Get("/api/ledger/reconcile", handler.ReconcileHandler(ledgerService, states, reconcileThreshold))

		r.Post("/api/bots", handler.CreateBotHandler(bots))
		r.Post("/api/bots/pause_all", handler.PauseAllHandler(life, bots))
		r.Post("/api/bots/resume_all", handler.ResumeAllHandler(life, bots))
		r.Post("/api/bots/{botID}/start", handler.StartBotHandler(life, bots))
		r.Post("/api/bots/{botID}/pause", handler.PauseBotHandler(life, bots))
		r.Post("/api/bots/{botID}/resume", handler.ResumeBotHandler(life, bots))
		r.Post("/api/bots/{botID}/stop", handler.StopBotHandler(life, bots))
		r.Post("/api/bots/{botID}/reset_quarantine", handler.ResetQuarantineHandler(breakerEval, bots))
		r.Get("/api/bots/{botID}/breaker", handler.BreakerHistoryHandler(breakerRecords, bots))
		r.Post("/api/breaker/reset", handler.ResetAccountBreakerHandler(breakerEval))

		r.Post("/api/reinvest", handler.TriggerReinvestHandler(alloc))

		r.Post("/api/exchanges", handler.CreateExchangeHandler(exchanges))
		r.Get("/api/exchanges", handler.ListExchangesHandler(exchanges))
		r.Post("/api/exchanges/credentials", handler.SetExchangeCredentialsHandler(accounts))

		r.Get("/ws", hub.ServeHTTP)
	})

	// Graceful server
	addr := ":" + port
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	// Shutdown on SIGINT or SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
