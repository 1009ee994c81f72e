package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"botfleet/src/auth"
	"botfleet/src/lifecycle"
	"botfleet/src/model"
	"botfleet/src/repository"
)

type botLifecycle interface {
	Start(ctx context.Context, botID uint) (*model.BotState, error)
	Pause(ctx context.Context, botID uint, reason string, byUser bool) (*model.BotState, error)
	Resume(ctx context.Context, botID uint) (*model.BotState, error)
	Stop(ctx context.Context, botID uint, reason string) (*model.BotState, error)
	PauseAll(ctx context.Context, botIDs []uint, reason string, byUser bool) []lifecycle.BulkResult
	ResumeAll(ctx context.Context, botIDs []uint) []lifecycle.BulkResult
}

type quarantineResetter interface {
	ResetQuarantine(ctx context.Context, botID uint, reason string) (*model.BotState, error)
}

type botCreator interface {
	Create(ctx context.Context, bot *model.Bot) error
	FindByID(ctx context.Context, id uint) (*model.Bot, error)
	ListByUser(ctx context.Context, userID uint) ([]model.Bot, error)
}

type breakerHistorySource interface {
	History(ctx context.Context, entityType string, entityID uint, limit int) ([]model.CircuitBreakerRecord, error)
}

type allocatorRunner interface {
	Run(ctx context.Context, userID uint, now time.Time) (*model.ReinvestmentRun, error)
}

type reasonPayload struct {
	Reason string `json:"reason"`
}

// ownedBot resolves the {botID} route parameter and enforces ownership.
func ownedBot(w http.ResponseWriter, r *http.Request, bots botFinder) (*model.Bot, bool) {
	user, ok := auth.GetUserFromContext(r.Context())
	if !ok || user == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}

	id, err := strconv.ParseUint(chi.URLParam(r, "botID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid bot id", http.StatusBadRequest)
		return nil, false
	}

	bot, err := bots.FindByID(r.Context(), uint(id))
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return nil, false
	}
	if bot == nil || bot.UserID != user.ID {
		http.Error(w, "Bot not found", http.StatusNotFound)
		return nil, false
	}
	return bot, true
}

func writeState(w http.ResponseWriter, state *model.BotState, err error) {
	if err != nil {
		var invalid *lifecycle.InvalidTransitionError
		if errors.As(err, &invalid) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			if encodeErr := json.NewEncoder(w).Encode(map[string]string{"error": invalid.Error()}); encodeErr != nil {
				logger.WithError(encodeErr).Error("failed to encode transition error")
			}
			return
		}
		logger.WithError(err).Error("lifecycle operation failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(state); err != nil {
		logger.WithError(err).Error("failed to encode bot state")
	}
}

type createBotPayload struct {
	Name       string `json:"name"`
	Symbol     string `json:"symbol"`
	ExchangeID uint   `json:"exchange_id"`
	IsPaper    bool   `json:"is_paper"`
}

func CreateBotHandler(bots botCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var payload createBotPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}
		if payload.Name == "" || payload.Symbol == "" || payload.ExchangeID == 0 {
			http.Error(w, "name, symbol and exchange_id are required", http.StatusBadRequest)
			return
		}

		bot := &model.Bot{
			UserID:     user.ID,
			ExchangeID: payload.ExchangeID,
			Name:       payload.Name,
			Symbol:     payload.Symbol,
			IsPaper:    payload.IsPaper,
		}
		if err := bots.Create(r.Context(), bot); err != nil {
			logger.WithError(err).Error("failed to create bot")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(bot); err != nil {
			logger.WithError(err).Error("failed to encode bot")
		}
	}
}

func StartBotHandler(life botLifecycle, bots botFinder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bot, ok := ownedBot(w, r, bots)
		if !ok {
			return
		}
		state, err := life.Start(r.Context(), bot.ID)
		writeState(w, state, err)
	}
}

func PauseBotHandler(life botLifecycle, bots botFinder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bot, ok := ownedBot(w, r, bots)
		if !ok {
			return
		}
		var payload reasonPayload
		_ = json.NewDecoder(r.Body).Decode(&payload)

		state, err := life.Pause(r.Context(), bot.ID, payload.Reason, true)
		writeState(w, state, err)
	}
}

func ResumeBotHandler(life botLifecycle, bots botFinder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bot, ok := ownedBot(w, r, bots)
		if !ok {
			return
		}
		state, err := life.Resume(r.Context(), bot.ID)
		writeState(w, state, err)
	}
}

func StopBotHandler(life botLifecycle, bots botFinder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bot, ok := ownedBot(w, r, bots)
		if !ok {
			return
		}
		var payload reasonPayload
		_ = json.NewDecoder(r.Body).Decode(&payload)

		state, err := life.Stop(r.Context(), bot.ID, payload.Reason)
		writeState(w, state, err)
	}
}

// ResetQuarantineHandler requires an explicit operator reason; the reset
// lands in paused, never directly in active.
func ResetQuarantineHandler(resetter quarantineResetter, bots botFinder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bot, ok := ownedBot(w, r, bots)
		if !ok {
			return
		}
		var payload reasonPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Reason == "" {
			http.Error(w, "reason is required", http.StatusBadRequest)
			return
		}

		state, err := resetter.ResetQuarantine(r.Context(), bot.ID, payload.Reason)
		writeState(w, state, err)
	}
}

type accountBreakerResetter interface {
	ResetUserBreaker(ctx context.Context, userID uint, reason string) (*model.CircuitBreakerRecord, error)
}

// ResetAccountBreakerHandler clears the user-level circuit breaker so the
// admission gate accepts orders again. Contained bots stay contained until
// resumed or reset individually.
func ResetAccountBreakerHandler(breakers accountBreakerResetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		var payload reasonPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Reason == "" {
			http.Error(w, "reason is required", http.StatusBadRequest)
			return
		}

		record, err := breakers.ResetUserBreaker(r.Context(), user.ID, payload.Reason)
		if err != nil {
			logger.WithError(err).Error("failed to reset account breaker")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(record); err != nil {
			logger.WithError(err).Error("failed to encode breaker record")
		}
	}
}

// PauseAllHandler pauses every bot of the user and reports per-bot
// results; one failing bot does not fail the batch.
func PauseAllHandler(life botLifecycle, bots botCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		var payload reasonPayload
		_ = json.NewDecoder(r.Body).Decode(&payload)

		ownedBots, err := bots.ListByUser(r.Context(), user.ID)
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		ids := make([]uint, 0, len(ownedBots))
		for _, bot := range ownedBots {
			ids = append(ids, bot.ID)
		}

		results := life.PauseAll(r.Context(), ids, payload.Reason, true)
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(results); err != nil {
			logger.WithError(err).Error("failed to encode bulk results")
		}
	}
}

func ResumeAllHandler(life botLifecycle, bots botCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ownedBots, err := bots.ListByUser(r.Context(), user.ID)
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		ids := make([]uint, 0, len(ownedBots))
		for _, bot := range ownedBots {
			ids = append(ids, bot.ID)
		}

		results := life.ResumeAll(r.Context(), ids)
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(results); err != nil {
			logger.WithError(err).Error("failed to encode bulk results")
		}
	}
}

// BreakerHistoryHandler returns the bot's append-only trip/reset history.
func BreakerHistoryHandler(records breakerHistorySource, bots botFinder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bot, ok := ownedBot(w, r, bots)
		if !ok {
			return
		}

		limit := 50
		if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
			parsed, err := strconv.Atoi(limitParam)
			if err != nil || parsed <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		history, err := records.History(r.Context(), model.BreakerEntityBot, bot.ID, limit)
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(history); err != nil {
			logger.WithError(err).Error("failed to encode breaker history")
		}
	}
}

// TriggerReinvestHandler runs the allocator for the user immediately. A
// window already handled comes back as a skip, not an error.
func TriggerReinvestHandler(alloc allocatorRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		run, err := alloc.Run(r.Context(), user.ID, time.Now())
		if err != nil {
			if errors.Is(err, repository.ErrRunExists) {
				w.Header().Set("Content-Type", "application/json")
				if encodeErr := json.NewEncoder(w).Encode(map[string]string{"status": "skipped", "reason": "window already handled"}); encodeErr != nil {
					logger.WithError(encodeErr).Error("failed to encode skip response")
				}
				return
			}
			logger.WithError(err).Error("manual reinvestment trigger failed")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(run); err != nil {
			logger.WithError(err).Error("failed to encode reinvestment run")
		}
	}
}
