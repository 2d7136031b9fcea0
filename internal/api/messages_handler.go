package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianhq/mailsync/internal/assets"
	"github.com/meridianhq/mailsync/internal/auth"
	"github.com/meridianhq/mailsync/internal/bodycache"
	"github.com/meridianhq/mailsync/internal/db"
	"github.com/meridianhq/mailsync/internal/models"
	"github.com/meridianhq/mailsync/internal/provider"
	"github.com/meridianhq/mailsync/internal/sync"
)

// MessagesHandler serves consumer-facing message operations: body fetch and
// move-to-trash.
type MessagesHandler struct {
	pool      *pgxpool.Pool
	store     *assets.Store
	cache     *bodycache.Cache
	tokens    *auth.TokenService
	providers map[models.Provider]provider.Client
}

// NewMessagesHandler creates a new MessagesHandler instance.
func NewMessagesHandler(pool *pgxpool.Pool, store *assets.Store, cache *bodycache.Cache, tokens *auth.TokenService, providers map[models.Provider]provider.Client) *MessagesHandler {
	return &MessagesHandler{
		pool:      pool,
		store:     store,
		cache:     cache,
		tokens:    tokens,
		providers: providers,
	}
}

// bodyResponse is the consumer contract for a body fetch.
type bodyResponse struct {
	Status      string `json:"status"` // ok | rate_limited | error
	Body        string `json:"body,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	// RetryAfter is in seconds, present when rate limited.
	RetryAfter int `json:"retry_after,omitempty"`
}

// Handle routes /api/v1/messages/{id}/body and /api/v1/messages/{id}/trash.
func (h *MessagesHandler) Handle(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/messages/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	messageID, action := parts[0], parts[1]

	switch {
	case action == "body" && r.Method == http.MethodGet:
		h.getBody(w, r, messageID)
	case action == "trash" && r.Method == http.MethodPost:
		h.moveToTrash(w, r, messageID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// loadOwnedMessage resolves the message and checks it belongs to the
// requesting user.
func (h *MessagesHandler) loadOwnedMessage(w http.ResponseWriter, r *http.Request, messageID string) (*models.Message, *models.Account, bool) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return nil, nil, false
	}

	msg, err := db.GetMessage(r.Context(), h.pool, messageID)
	if err != nil {
		if errors.Is(err, db.ErrMessageNotFound) {
			http.Error(w, "Message not found", http.StatusNotFound)
			return nil, nil, false
		}
		log.Printf("API: failed to load message %s: %v", messageID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, nil, false
	}

	account, err := db.GetAccount(r.Context(), h.pool, msg.AccountID)
	if err != nil {
		log.Printf("API: failed to load account %s: %v", msg.AccountID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, nil, false
	}

	if account.UserID != userID {
		http.Error(w, "Message not found", http.StatusNotFound)
		return nil, nil, false
	}

	return msg, account, true
}

// getBody serves a message body: straight from the asset store when the
// sync pass already persisted one, through the body cache (and ultimately
// the provider) otherwise.
func (h *MessagesHandler) getBody(w http.ResponseWriter, r *http.Request, messageID string) {
	msg, _, ok := h.loadOwnedMessage(w, r, messageID)
	if !ok {
		return
	}

	if msg.BodyAssetID != nil {
		content, contentType, err := h.store.Get(r.Context(), *msg.BodyAssetID)
		if err == nil {
			writeJSON(w, http.StatusOK, bodyResponse{Status: "ok", Body: string(content), ContentType: contentType})
			return
		}
		log.Printf("API: failed to read body asset %s: %v", *msg.BodyAssetID, err)
	}

	result := h.cache.Get(r.Context(), messageID)
	switch result.Status {
	case bodycache.StatusLoaded:
		writeJSON(w, http.StatusOK, bodyResponse{Status: "ok", Body: string(result.Body), ContentType: result.ContentType})
	case bodycache.StatusRateLimited:
		seconds := int(result.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		writeJSON(w, http.StatusOK, bodyResponse{Status: "rate_limited", RetryAfter: seconds})
	default:
		writeJSON(w, http.StatusOK, bodyResponse{Status: "error"})
	}

	// Warm the cache for the rest of the thread while the user reads this
	// message.
	if msg.ExternalThreadID != "" {
		go h.prefetchThread(msg)
	}
}

// prefetchThread queues sibling messages of the same conversation.
func (h *MessagesHandler) prefetchThread(msg *models.Message) {
	siblings, err := db.ListMessageIDsInThread(context.Background(), h.pool, msg.AccountID, msg.ExternalThreadID, msg.ID)
	if err != nil {
		return
	}
	h.cache.Prefetch(siblings...)
}

// moveToTrash applies the local-first trash move.
func (h *MessagesHandler) moveToTrash(w http.ResponseWriter, r *http.Request, messageID string) {
	_, account, ok := h.loadOwnedMessage(w, r, messageID)
	if !ok {
		return
	}

	client, ok := h.providers[account.Provider]
	if !ok {
		http.Error(w, "Provider not supported", http.StatusBadRequest)
		return
	}

	token, err := h.tokens.AccessToken(r.Context(), account)
	if err != nil {
		log.Printf("API: failed to obtain access token for account %s: %v", account.ID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if err := sync.MoveToTrash(r.Context(), h.pool, h.store, client, token, account, messageID); err != nil {
		log.Printf("API: failed to move message %s to trash: %v", messageID, err)
		http.Error(w, "Failed to move message", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
