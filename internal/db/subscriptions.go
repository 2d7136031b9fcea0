package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/meridianhq/mailsync/internal/models"
)

// ErrSubscriptionNotFound is returned when a requested webhook subscription
// cannot be found.
var ErrSubscriptionNotFound = errors.New("webhook subscription not found")

const subscriptionColumns = `
	id,
	account_id,
	resource,
	client_state,
	expires_at,
	status,
	last_notification_at`

func scanSubscription(row pgx.Row) (*models.WebhookSubscription, error) {
	var sub models.WebhookSubscription
	err := row.Scan(
		&sub.ID,
		&sub.AccountID,
		&sub.Resource,
		&sub.ClientState,
		&sub.ExpiresAt,
		&sub.Status,
		&sub.LastNotificationAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}
	return &sub, nil
}

// CreateSubscription persists a newly registered webhook subscription.
func CreateSubscription(ctx context.Context, pool *pgxpool.Pool, sub *models.WebhookSubscription) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO webhook_subscriptions (id, account_id, resource, client_state, expires_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sub.ID, sub.AccountID, sub.Resource, sub.ClientState, sub.ExpiresAt, sub.Status)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// GetSubscription returns a subscription by its provider-assigned id.
func GetSubscription(ctx context.Context, pool *pgxpool.Pool, subscriptionID string) (*models.WebhookSubscription, error) {
	row := pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE id = $1
	`, subscriptionID)
	return scanSubscription(row)
}

// GetSubscriptionForAccount returns the subscription for an (account,
// resource) pair.
func GetSubscriptionForAccount(ctx context.Context, pool *pgxpool.Pool, accountID, resource string) (*models.WebhookSubscription, error) {
	row := pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM webhook_subscriptions
		WHERE account_id = $1 AND resource = $2
	`, accountID, resource)
	return scanSubscription(row)
}

// ListSubscriptionsExpiringBefore returns active subscriptions whose expiry
// falls before the deadline, for the renewal sweep.
func ListSubscriptionsExpiringBefore(ctx context.Context, pool *pgxpool.Pool, deadline time.Time) ([]*models.WebhookSubscription, error) {
	rows, err := pool.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM webhook_subscriptions
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at
	`, models.SubscriptionActive, deadline)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*models.WebhookSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscriptions: %w", err)
	}

	return subs, nil
}

// UpdateSubscriptionExpiry stores a renewed expiration and resets the
// subscription to active.
func UpdateSubscriptionExpiry(ctx context.Context, pool *pgxpool.Pool, subscriptionID string, expiresAt time.Time) error {
	_, err := pool.Exec(ctx, `
		UPDATE webhook_subscriptions SET expires_at = $2, status = $3 WHERE id = $1
	`, subscriptionID, expiresAt, models.SubscriptionActive)
	if err != nil {
		return fmt.Errorf("failed to update subscription expiry: %w", err)
	}
	return nil
}

// SetSubscriptionStatus updates a subscription's lifecycle status. Failed
// renewals mark the subscription error rather than dropping it, so operators
// can detect and recreate.
func SetSubscriptionStatus(ctx context.Context, pool *pgxpool.Pool, subscriptionID string, status models.SubscriptionStatus) error {
	_, err := pool.Exec(ctx, `
		UPDATE webhook_subscriptions SET status = $2 WHERE id = $1
	`, subscriptionID, status)
	if err != nil {
		return fmt.Errorf("failed to set subscription status: %w", err)
	}
	return nil
}

// TouchSubscription records when the last notification arrived.
func TouchSubscription(ctx context.Context, pool *pgxpool.Pool, subscriptionID string) error {
	_, err := pool.Exec(ctx, `
		UPDATE webhook_subscriptions SET last_notification_at = now() WHERE id = $1
	`, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to touch subscription: %w", err)
	}
	return nil
}

// DeleteSubscription removes a subscription row.
func DeleteSubscription(ctx context.Context, pool *pgxpool.Pool, subscriptionID string) error {
	_, err := pool.Exec(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}
