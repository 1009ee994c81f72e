package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"botfleet/src/model"
)

type exchangeStore interface {
	CreateExchange(ctx context.Context, exchange *model.Exchange) error
	FindByName(ctx context.Context, name string) (*model.Exchange, error)
	ListAll(ctx context.Context) ([]model.Exchange, error)
}

type createExchangePayload struct {
	Name               string `json:"name"`
	TakerFeeBps        string `json:"taker_fee_bps"`
	MakerFeeBps        string `json:"maker_fee_bps"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute"`
}

// CreateExchangeHandler registers a venue with its fee schedule and rate
// limit. Names are unique.
func CreateExchangeHandler(exchanges exchangeStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload createExchangePayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		payload.Name = strings.TrimSpace(payload.Name)
		if payload.Name == "" {
			http.Error(w, "name is required", http.StatusBadRequest)
			return
		}

		existing, err := exchanges.FindByName(r.Context(), payload.Name)
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if existing != nil {
			http.Error(w, "exchange name already taken", http.StatusConflict)
			return
		}

		exchange := &model.Exchange{
			Name:               payload.Name,
			RateLimitPerMinute: payload.RateLimitPerMinute,
		}
		if payload.TakerFeeBps != "" {
			fee, err := decimal.NewFromString(payload.TakerFeeBps)
			if err != nil {
				http.Error(w, "invalid taker_fee_bps", http.StatusBadRequest)
				return
			}
			exchange.TakerFeeBps = fee
		}
		if payload.MakerFeeBps != "" {
			fee, err := decimal.NewFromString(payload.MakerFeeBps)
			if err != nil {
				http.Error(w, "invalid maker_fee_bps", http.StatusBadRequest)
				return
			}
			exchange.MakerFeeBps = fee
		}

		if err := exchanges.CreateExchange(r.Context(), exchange); err != nil {
			logger.WithError(err).Error("failed to create exchange")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(exchange); err != nil {
			logger.WithError(err).Error("failed to encode exchange")
		}
	}
}

// ListExchangesHandler returns every registered venue.
func ListExchangesHandler(exchanges exchangeStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all, err := exchanges.ListAll(r.Context())
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(all); err != nil {
			logger.WithError(err).Error("failed to encode exchanges")
		}
	}
}
