// Package webhook owns the push-notification side of sync: subscription
// lifecycle against the provider and processing of inbound change
// notifications.
package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianhq/mailsync/internal/assets"
	"github.com/meridianhq/mailsync/internal/auth"
	"github.com/meridianhq/mailsync/internal/db"
	"github.com/meridianhq/mailsync/internal/models"
	"github.com/meridianhq/mailsync/internal/provider"
	"github.com/meridianhq/mailsync/internal/sync"
	"github.com/meridianhq/mailsync/internal/taxonomy"
)

const (
	// messagesResource is the provider resource every account subscribes to.
	messagesResource = "/me/messages"

	// subscriptionLifetime stays under the provider's hard cap on message
	// subscriptions (just over 4200 minutes).
	subscriptionLifetime = 4175 * time.Minute

	// renewWindow is how far ahead of expiry the sweep renews.
	renewWindow = 2 * time.Hour
)

// ErrClientStateMismatch is returned when an inbound notification carries a
// clientState that does not match the stored secret. The notification is a
// possible forgery and must not be processed. The provider does not sign
// webhook bodies, so this check is the only authentication there is.
var ErrClientStateMismatch = errors.New("notification clientState does not match subscription secret")

// Manager runs the webhook subscription lifecycle and turns inbound
// notifications into local mailbox updates.
type Manager struct {
	pool      *pgxpool.Pool
	store     *assets.Store
	tokens    *auth.TokenService
	providers map[models.Provider]provider.Client

	// notificationURL is the externally reachable endpoint the provider
	// posts to, e.g. https://sync.example.com/webhooks/outlook.
	notificationURL string
}

func NewManager(pool *pgxpool.Pool, store *assets.Store, tokens *auth.TokenService, providers map[models.Provider]provider.Client, notificationURL string) *Manager {
	return &Manager{
		pool:            pool,
		store:           store,
		tokens:          tokens,
		providers:       providers,
		notificationURL: notificationURL,
	}
}

// EnsureSubscription registers a message subscription for the account,
// returning the existing one unchanged when it is still active. The
// clientState secret is generated fresh per subscription and never reused.
func (m *Manager) EnsureSubscription(ctx context.Context, account *models.Account) (*models.WebhookSubscription, error) {
	existing, err := db.GetSubscriptionForAccount(ctx, m.pool, account.ID, messagesResource)
	switch {
	case err == nil && existing.Status == models.SubscriptionActive && existing.ExpiresAt.After(time.Now()):
		return existing, nil
	case err == nil:
		// Errored or expired registration. Tear it down and start over.
		if err := m.DeleteSubscription(ctx, account); err != nil {
			return nil, fmt.Errorf("failed to replace stale subscription: %w", err)
		}
	case !errors.Is(err, db.ErrSubscriptionNotFound):
		return nil, fmt.Errorf("failed to look up subscription: %w", err)
	}

	client, ok := m.providers[account.Provider]
	if !ok {
		return nil, fmt.Errorf("no provider client for %s", account.Provider)
	}

	// AccessToken refreshes when the token expires within its refresh
	// window, so the subscription is never created with a token about to
	// die mid-handshake.
	token, err := m.tokens.AccessToken(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain access token: %w", err)
	}

	clientState := uuid.NewString()
	created, err := client.CreateSubscription(ctx, token, messagesResource, m.notificationURL, clientState, time.Now().Add(subscriptionLifetime))
	if err != nil {
		return nil, fmt.Errorf("failed to create provider subscription: %w", err)
	}

	sub := &models.WebhookSubscription{
		ID:          created.ID,
		AccountID:   account.ID,
		Resource:    messagesResource,
		ClientState: clientState,
		ExpiresAt:   created.ExpiresAt,
		Status:      models.SubscriptionActive,
	}

	if err := db.CreateSubscription(ctx, m.pool, sub); err != nil {
		// A concurrent EnsureSubscription won the insert. Keep its
		// registration and drop ours at the provider.
		if winner, lookupErr := db.GetSubscriptionForAccount(ctx, m.pool, account.ID, messagesResource); lookupErr == nil {
			if deleteErr := client.DeleteSubscription(ctx, token, created.ID); deleteErr != nil {
				log.Printf("Warning: failed to delete superseded subscription %s: %v", created.ID, deleteErr)
			}
			return winner, nil
		}
		return nil, fmt.Errorf("failed to persist subscription: %w", err)
	}

	return sub, nil
}

// HandleNotification processes one inbound change notification. The caller
// has already acknowledged the delivery; errors here are for logging, not
// for re-signaling the provider.
func (m *Manager) HandleNotification(ctx context.Context, notification provider.Notification) error {
	sub, err := db.GetSubscription(ctx, m.pool, notification.SubscriptionID)
	if err != nil {
		if errors.Is(err, db.ErrSubscriptionNotFound) {
			// Deliveries can trail a deleted subscription. Nothing to do.
			return nil
		}
		return fmt.Errorf("failed to look up subscription %s: %w", notification.SubscriptionID, err)
	}

	if subtle.ConstantTimeCompare([]byte(notification.ClientState), []byte(sub.ClientState)) != 1 {
		log.Printf("Warning: rejecting notification for subscription %s: clientState mismatch", sub.ID)
		return ErrClientStateMismatch
	}

	if err := db.TouchSubscription(ctx, m.pool, sub.ID); err != nil {
		log.Printf("Warning: failed to record notification time for subscription %s: %v", sub.ID, err)
	}

	account, err := db.GetAccount(ctx, m.pool, sub.AccountID)
	if err != nil {
		return fmt.Errorf("failed to load account %s: %w", sub.AccountID, err)
	}

	switch notification.ChangeType {
	case "deleted":
		return m.markTrashed(ctx, account, notification.ResourceID)
	case "created", "updated":
		return m.fetchAndUpsert(ctx, account, notification.ResourceID)
	default:
		log.Printf("Warning: ignoring notification with unknown change type %q", notification.ChangeType)
		return nil
	}
}

// markTrashed flips the referenced message into the trash bucket locally.
// The record itself survives until a delta tombstone confirms the removal.
func (m *Manager) markTrashed(ctx context.Context, account *models.Account, externalID string) error {
	msg, err := db.GetMessageByExternalID(ctx, m.pool, account.ID, externalID)
	if err != nil {
		if errors.Is(err, db.ErrMessageNotFound) {
			return nil
		}
		return fmt.Errorf("failed to look up message %s: %w", externalID, err)
	}

	trash, err := db.GetFolderByCanonical(ctx, m.pool, account.ID, string(taxonomy.FolderTrash))
	if err != nil {
		if errors.Is(err, db.ErrFolderNotFound) {
			// No trash folder mirrored yet. The next sync pass settles it.
			return nil
		}
		return fmt.Errorf("failed to find trash folder: %w", err)
	}

	if err := db.UpdateMessageFolder(ctx, m.pool, msg.ID, taxonomy.FolderTrash, trash.ExternalID); err != nil {
		return fmt.Errorf("failed to move message %s to trash: %w", externalID, err)
	}
	return nil
}

// fetchAndUpsert pulls the single changed message from the provider and
// routes it through the same upsert path the scheduled sync uses. Webhooks
// never bulk-fetch.
func (m *Manager) fetchAndUpsert(ctx context.Context, account *models.Account, externalID string) error {
	client, ok := m.providers[account.Provider]
	if !ok {
		return fmt.Errorf("no provider client for %s", account.Provider)
	}

	var msg *provider.Message
	err := m.withAuthRetry(ctx, account, func(token string) error {
		var err error
		msg, err = client.GetMessage(ctx, token, externalID)
		return err
	})
	if err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			// Deleted between notification and fetch. The delete notification
			// or the next delta pass cleans up.
			return nil
		}
		return fmt.Errorf("failed to fetch message %s: %w", externalID, err)
	}

	if _, err := sync.UpsertMessages(ctx, m.pool, m.store, account, []provider.Message{*msg}, nil); err != nil {
		return fmt.Errorf("failed to upsert message %s: %w", externalID, err)
	}
	return nil
}

// RenewExpiring extends every active subscription expiring within the renew
// window. A subscription the sweep reaches after its expiry is marked
// expired; a renewal failure marks the subscription error rather than
// dropping it, so operators can detect and recreate it.
func (m *Manager) RenewExpiring(ctx context.Context) {
	subs, err := db.ListSubscriptionsExpiringBefore(ctx, m.pool, time.Now().Add(renewWindow))
	if err != nil {
		log.Printf("Warning: failed to list expiring subscriptions: %v", err)
		return
	}

	for _, sub := range subs {
		if !sub.ExpiresAt.After(time.Now()) {
			// Too late to renew. The provider has already dropped the
			// registration; EnsureSubscription recreates it from scratch.
			if err := db.SetSubscriptionStatus(ctx, m.pool, sub.ID, models.SubscriptionExpired); err != nil {
				log.Printf("Warning: failed to mark subscription %s as expired: %v", sub.ID, err)
			}
			continue
		}
		if err := m.renewOne(ctx, sub); err != nil {
			log.Printf("Warning: failed to renew subscription %s: %v", sub.ID, err)
			if statusErr := db.SetSubscriptionStatus(ctx, m.pool, sub.ID, models.SubscriptionError); statusErr != nil {
				log.Printf("Warning: failed to mark subscription %s as errored: %v", sub.ID, statusErr)
			}
		}
	}
}

func (m *Manager) renewOne(ctx context.Context, sub *models.WebhookSubscription) error {
	account, err := db.GetAccount(ctx, m.pool, sub.AccountID)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}

	client, ok := m.providers[account.Provider]
	if !ok {
		return fmt.Errorf("no provider client for %s", account.Provider)
	}

	var granted time.Time
	err = m.withAuthRetry(ctx, account, func(token string) error {
		var err error
		granted, err = client.RenewSubscription(ctx, token, sub.ID, time.Now().Add(subscriptionLifetime))
		return err
	})
	if err != nil {
		return err
	}

	return db.UpdateSubscriptionExpiry(ctx, m.pool, sub.ID, granted)
}

// DeleteSubscription tears down the account's subscription: best-effort at
// the provider (a 404 there counts as deleted), unconditional locally.
func (m *Manager) DeleteSubscription(ctx context.Context, account *models.Account) error {
	sub, err := db.GetSubscriptionForAccount(ctx, m.pool, account.ID, messagesResource)
	if err != nil {
		if errors.Is(err, db.ErrSubscriptionNotFound) {
			return nil
		}
		return fmt.Errorf("failed to look up subscription: %w", err)
	}

	if client, ok := m.providers[account.Provider]; ok {
		err := m.withAuthRetry(ctx, account, func(token string) error {
			return client.DeleteSubscription(ctx, token, sub.ID)
		})
		if err != nil {
			log.Printf("Warning: failed to delete subscription %s at provider: %v", sub.ID, err)
		}
	}

	if err := db.DeleteSubscription(ctx, m.pool, sub.ID); err != nil {
		return fmt.Errorf("failed to delete local subscription: %w", err)
	}
	return nil
}

// DisconnectAccount removes everything the account owns: its provider
// subscription, its message body assets, and finally the account row, which
// cascades to folders, messages and subscriptions.
func (m *Manager) DisconnectAccount(ctx context.Context, account *models.Account) error {
	if err := m.DeleteSubscription(ctx, account); err != nil {
		log.Printf("Warning: failed to delete subscription for account %s: %v", account.ID, err)
	}

	assetIDs, err := db.ListMessageAssetIDs(ctx, m.pool, account.ID)
	if err != nil {
		return fmt.Errorf("failed to list account assets: %w", err)
	}
	m.store.ReleaseAll(ctx, assetIDs)

	if err := db.DeleteAccount(ctx, m.pool, account.ID); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

func (m *Manager) withAuthRetry(ctx context.Context, account *models.Account, fn func(token string) error) error {
	token, err := m.tokens.AccessToken(ctx, account)
	if err != nil {
		return fmt.Errorf("failed to obtain access token: %w", err)
	}

	err = fn(token)
	if !errors.Is(err, provider.ErrUnauthorized) {
		return err
	}

	token, err = m.tokens.Refresh(ctx, account)
	if err != nil {
		return fmt.Errorf("failed to refresh access token: %w", err)
	}
	return fn(token)
}
