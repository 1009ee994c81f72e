package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"botfleet/src/auth"
	"botfleet/src/ledger"
	"botfleet/src/model"
)

type ledgerReader interface {
	ComputeAggregates(ctx context.Context, userID uint) (*ledger.Aggregates, error)
	RecordEvent(ctx context.Context, event *model.LedgerEvent) error
	VerifyIntegrity(ctx context.Context, userID uint) (*ledger.IntegrityReport, error)
	Reconcile(ctx context.Context, userID uint, source ledger.CapitalSource, thresholdPct decimal.Decimal) (*ledger.ReconciliationReport, error)
}

// PortfolioSummaryHandler reports the user's derived ledger view.
func PortfolioSummaryHandler(ledg ledgerReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		aggregates, err := ledg.ComputeAggregates(r.Context(), user.ID)
		if err != nil {
			logger.WithError(err).Error("failed to compute aggregates")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(aggregates); err != nil {
			logger.WithError(err).Error("failed to encode portfolio summary")
		}
	}
}

type ledgerEventPayload struct {
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// RecordLedgerEventHandler appends a funding or withdrawal event for the
// user. Allocations are written by the allocator only, never over HTTP.
func RecordLedgerEventHandler(ledg ledgerReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var payload ledgerEventPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		if payload.Type != model.LedgerEventFunding && payload.Type != model.LedgerEventWithdrawal {
			http.Error(w, "type must be funding or withdrawal", http.StatusBadRequest)
			return
		}
		if !payload.Amount.IsPositive() {
			http.Error(w, "amount must be positive", http.StatusBadRequest)
			return
		}

		event := &model.LedgerEvent{
			UserID:      user.ID,
			Type:        payload.Type,
			Amount:      payload.Amount,
			Description: payload.Description,
			Timestamp:   time.Now().UTC(),
		}
		if err := ledg.RecordEvent(r.Context(), event); err != nil {
			logger.WithError(err).Error("failed to record ledger event")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(event); err != nil {
			logger.WithError(err).Error("failed to encode ledger event")
		}
	}
}

// VerifyIntegrityHandler runs the structural ledger checks. A failed check
// is still a 200; the report carries the verdict.
func VerifyIntegrityHandler(ledg ledgerReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		report, err := ledg.VerifyIntegrity(r.Context(), user.ID)
		if err != nil {
			logger.WithError(err).Error("integrity verification failed")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(report); err != nil {
			logger.WithError(err).Error("failed to encode integrity report")
		}
	}
}

// ReconcileHandler compares ledger equity against the summed bot capital.
func ReconcileHandler(ledg ledgerReader, capital ledger.CapitalSource, thresholdPct decimal.Decimal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		report, err := ledg.Reconcile(r.Context(), user.ID, capital, thresholdPct)
		if err != nil {
			logger.WithError(err).Error("reconciliation failed")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(report); err != nil {
			logger.WithError(err).Error("failed to encode reconciliation report")
		}
	}
}
