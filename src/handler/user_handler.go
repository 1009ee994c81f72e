package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"botfleet/src/auth"
	"botfleet/src/model"
	"botfleet/src/security"
)

type userCreator interface {
	Create(ctx context.Context, user *model.User) error
	GetUserByUserName(ctx context.Context, userName string) (*model.User, error)
}

type accountStore interface {
	Create(ctx context.Context, ue *model.UserExchange) error
	GetByUserAndExchange(ctx context.Context, userID, exchangeID uint) (*model.UserExchange, error)
	Update(ctx context.Context, ue *model.UserExchange) error
}

type createUserPayload struct {
	UserName string `json:"user_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func CreateUserHandler(users userCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload createUserPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		payload.UserName = strings.TrimSpace(payload.UserName)
		if payload.UserName == "" || payload.Password == "" {
			http.Error(w, "user_name and password are required", http.StatusBadRequest)
			return
		}

		existing, err := users.GetUserByUserName(r.Context(), payload.UserName)
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if existing != nil {
			http.Error(w, "user_name already taken", http.StatusConflict)
			return
		}

		hashed, err := bcrypt.GenerateFromPassword([]byte(payload.Password), bcrypt.DefaultCost)
		if err != nil {
			logger.WithError(err).Error("failed to hash password")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		user := &model.User{
			UserName:     payload.UserName,
			Email:        strings.TrimSpace(payload.Email),
			PasswordHash: string(hashed),
		}
		if err := users.Create(r.Context(), user); err != nil {
			logger.WithError(err).Error("failed to create user")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(user); err != nil {
			logger.WithError(err).Error("failed to encode user")
		}
	}
}

type credentialsPayload struct {
	ExchangeID uint   `json:"exchange_id"`
	APIKey     string `json:"api_key"`
	APISecret  string `json:"api_secret"`
	RiskMode   string `json:"risk_mode"`
}

// SetExchangeCredentialsHandler stores the user's venue credentials
// encrypted at rest. Existing settings for the exchange are replaced.
func SetExchangeCredentialsHandler(accounts accountStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var payload credentialsPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}
		if payload.ExchangeID == 0 || payload.APIKey == "" || payload.APISecret == "" {
			http.Error(w, "exchange_id, api_key and api_secret are required", http.StatusBadRequest)
			return
		}

		keyHash, err := security.EncryptString(payload.APIKey)
		if err != nil {
			logger.WithError(err).Error("failed to encrypt api key")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		secretHash, err := security.EncryptString(payload.APISecret)
		if err != nil {
			logger.WithError(err).Error("failed to encrypt api secret")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		existing, err := accounts.GetByUserAndExchange(r.Context(), user.ID, payload.ExchangeID)
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		account := existing
		if account == nil {
			account = &model.UserExchange{UserID: user.ID, ExchangeID: payload.ExchangeID}
		}
		account.APIKeyHash = keyHash
		account.APISecretHash = secretHash
		if payload.RiskMode != "" {
			account.RiskMode = payload.RiskMode
		}

		if existing == nil {
			err = accounts.Create(r.Context(), account)
		} else {
			err = accounts.Update(r.Context(), account)
		}
		if err != nil {
			logger.WithError(err).Error("failed to store exchange credentials")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"status": "credentials stored"}); err != nil {
			logger.WithError(err).Error("failed to encode response")
		}
	}
}
