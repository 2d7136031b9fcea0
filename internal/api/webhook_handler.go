package api

import (
	"context"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/meridianhq/mailsync/internal/provider/outlook"
	"github.com/meridianhq/mailsync/internal/webhook"
)

// maxNotificationBody bounds an inbound webhook payload.
const maxNotificationBody = 1 << 20

// backgroundTimeout bounds the notification processing kicked off after the
// handler has already acknowledged the delivery.
const backgroundTimeout = 2 * time.Minute

// WebhookHandler receives provider change notifications. The provider
// demands an answer within seconds and retries aggressively on non-200, so
// the handler acknowledges first and processes in the background.
type WebhookHandler struct {
	manager *webhook.Manager
}

// NewWebhookHandler creates a new WebhookHandler instance.
func NewWebhookHandler(manager *webhook.Manager) *WebhookHandler {
	return &WebhookHandler{manager: manager}
}

// Handle serves both halves of the webhook contract: the GET validation
// handshake and POST notification deliveries.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleValidation(w, r)
	case http.MethodPost:
		h.handleNotifications(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleValidation echoes the validation token as plain text. The provider
// sends this handshake when a subscription is created.
func (h *WebhookHandler) handleValidation(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("validationToken")
	if token == "" {
		http.Error(w, "validationToken is required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(token))
}

// handleNotifications acknowledges the batch and hands it to the manager in
// the background. Malformed payloads are logged and acknowledged anyway:
// provider redelivery of a broken payload will not self-correct, it just
// produces a retry storm.
func (h *WebhookHandler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBody))
	if err != nil {
		log.Printf("Webhook: failed to read notification body: %v", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	notifications, err := outlook.ParseNotifications(body)
	if err != nil {
		log.Printf("Webhook: ignoring malformed notification payload: %v", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()

		for _, notification := range notifications {
			if err := h.manager.HandleNotification(ctx, notification); err != nil {
				log.Printf("Webhook: failed to process notification for subscription %s: %v", notification.SubscriptionID, err)
			}
		}
	}()

	w.WriteHeader(http.StatusOK)
}
