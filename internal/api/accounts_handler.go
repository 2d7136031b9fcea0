package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianhq/mailsync/internal/crypto"
	"github.com/meridianhq/mailsync/internal/db"
	"github.com/meridianhq/mailsync/internal/models"
	"github.com/meridianhq/mailsync/internal/webhook"
)

// AccountsHandler connects and disconnects mail accounts. The main
// application runs the OAuth consent flow and hands the resulting tokens to
// this service.
type AccountsHandler struct {
	pool      *pgxpool.Pool
	encryptor *crypto.Encryptor
	manager   *webhook.Manager
}

// NewAccountsHandler creates a new AccountsHandler instance.
func NewAccountsHandler(pool *pgxpool.Pool, encryptor *crypto.Encryptor, manager *webhook.Manager) *AccountsHandler {
	return &AccountsHandler{
		pool:      pool,
		encryptor: encryptor,
		manager:   manager,
	}
}

type connectAccountRequest struct {
	UserID         string    `json:"user_id"`
	Provider       string    `json:"provider"`
	EmailAddress   string    `json:"email_address"`
	AccessToken    string    `json:"access_token"`
	RefreshToken   string    `json:"refresh_token"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
}

// Handle routes POST /api/v1/accounts and DELETE /api/v1/accounts/{id}.
func (h *AccountsHandler) Handle(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && strings.TrimPrefix(r.URL.Path, "/api/v1/accounts") == "":
		h.connect(w, r)
	case r.Method == http.MethodDelete:
		accountID := strings.TrimPrefix(r.URL.Path, "/api/v1/accounts/")
		if accountID == "" || strings.Contains(accountID, "/") {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		h.disconnect(w, r, accountID)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// connect stores the account with its refresh token encrypted at rest and
// registers the webhook subscription. The first sync pass picks the account
// up on the next scheduled trigger.
func (h *AccountsHandler) connect(w http.ResponseWriter, r *http.Request) {
	var req connectAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.EmailAddress == "" || req.AccessToken == "" || req.RefreshToken == "" {
		http.Error(w, "user_id, email_address, access_token and refresh_token are required", http.StatusBadRequest)
		return
	}

	provider := models.Provider(req.Provider)
	switch provider {
	case models.ProviderOutlook, models.ProviderGmail, models.ProviderYahoo:
	default:
		http.Error(w, "Unknown provider", http.StatusBadRequest)
		return
	}

	encrypted, err := h.encryptor.Encrypt(req.RefreshToken)
	if err != nil {
		log.Printf("API: failed to encrypt refresh token: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	account := &models.Account{
		UserID:                req.UserID,
		Provider:              provider,
		EmailAddress:          req.EmailAddress,
		AccessToken:           req.AccessToken,
		EncryptedRefreshToken: encrypted,
		TokenExpiresAt:        req.TokenExpiresAt,
	}
	if err := db.CreateAccount(r.Context(), h.pool, account); err != nil {
		log.Printf("API: failed to create account: %v", err)
		http.Error(w, "Failed to create account", http.StatusConflict)
		return
	}

	// Subscription failure is not fatal: polling still covers the account,
	// and the next ensure attempt can succeed once the webhook endpoint is
	// reachable from the provider.
	if _, err := h.manager.EnsureSubscription(r.Context(), account); err != nil {
		log.Printf("API: failed to create subscription for account %s: %v", account.ID, err)
	}

	writeJSON(w, http.StatusCreated, account)
}

// disconnect removes the account and everything it owns.
func (h *AccountsHandler) disconnect(w http.ResponseWriter, r *http.Request, accountID string) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	account, err := db.GetAccount(r.Context(), h.pool, accountID)
	if err != nil {
		if errors.Is(err, db.ErrAccountNotFound) {
			http.Error(w, "Account not found", http.StatusNotFound)
			return
		}
		log.Printf("API: failed to load account %s: %v", accountID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if account.UserID != userID {
		http.Error(w, "Account not found", http.StatusNotFound)
		return
	}

	if err := h.manager.DisconnectAccount(r.Context(), account); err != nil {
		log.Printf("API: failed to disconnect account %s: %v", accountID, err)
		http.Error(w, "Failed to disconnect account", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
