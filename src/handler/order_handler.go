package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	logger "github.com/sirupsen/logrus"

	"botfleet/src/auth"
	"botfleet/src/limiter"
	"botfleet/src/model"
	"botfleet/src/pipeline"
)

type orderSubmitter interface {
	SubmitOrder(ctx context.Context, req pipeline.SubmitRequest) (*pipeline.SubmitResult, error)
}

type botFinder interface {
	FindByID(ctx context.Context, id uint) (*model.Bot, error)
}

// SubmitOrderHandler admits one order through the pipeline. Gate
// rejections come back as 422 with the gate and reason in the body; only
// infrastructure failures are 500.
func SubmitOrderHandler(p orderSubmitter, bots botFinder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var req pipeline.SubmitRequest
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}
		if req.IdempotencyKey == "" {
			http.Error(w, "idempotency_key is required", http.StatusBadRequest)
			return
		}

		bot, err := bots.FindByID(r.Context(), req.BotID)
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if bot == nil || bot.UserID != user.ID {
			http.Error(w, "Bot not found", http.StatusNotFound)
			return
		}

		result, err := p.SubmitOrder(r.Context(), req)
		if err != nil && result == nil {
			logger.WithError(err).Error("order submission failed")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if !result.Success {
			w.WriteHeader(http.StatusUnprocessableEntity)
		}
		if err := json.NewEncoder(w).Encode(result); err != nil {
			logger.WithError(err).Error("failed to encode submit result")
		}
	}
}

type limitsSource interface {
	BotUsage(botID uint, now time.Time) limiter.Usage
	UserUsage(userID uint, now time.Time) limiter.Usage
}

// LimitsUsageHandler reports daily counter usage. With a botId query
// parameter it reports that bot's counter, otherwise the user's.
func LimitsUsageHandler(limits limitsSource, bots botFinder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var usage limiter.Usage
		if botParam := r.URL.Query().Get("botId"); botParam != "" {
			id, err := strconv.ParseUint(botParam, 10, 64)
			if err != nil {
				http.Error(w, "invalid botId", http.StatusBadRequest)
				return
			}
			bot, err := bots.FindByID(r.Context(), uint(id))
			if err != nil {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			if bot == nil || bot.UserID != user.ID {
				http.Error(w, "Bot not found", http.StatusNotFound)
				return
			}
			usage = limits.BotUsage(bot.ID, time.Now())
		} else {
			usage = limits.UserUsage(user.ID, time.Now())
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(usage); err != nil {
			logger.WithError(err).Error("failed to encode limits usage")
		}
	}
}
