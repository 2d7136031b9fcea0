package outlook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/meridianhq/mailsync/internal/provider"
)

// CreateSubscription implements provider.Client. Registers a change
// notification subscription for the given resource. The provider calls
// notificationURL with a validation handshake before this returns, so the
// webhook endpoint must already be live.
func (c *Client) CreateSubscription(ctx context.Context, accessToken, resource, notificationURL, clientState string, expiresAt time.Time) (*provider.Subscription, error) {
	ctx = withToken(ctx, accessToken)

	req := graphSubscription{
		ChangeType:         "created,updated,deleted",
		NotificationURL:    notificationURL,
		Resource:           resource,
		ClientState:        clientState,
		ExpirationDateTime: expiresAt.UTC().Format(time.RFC3339),
	}

	var created graphSubscription
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/subscriptions", req, &created); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	expiry, err := time.Parse(time.RFC3339, created.ExpirationDateTime)
	if err != nil {
		return nil, fmt.Errorf("failed to parse subscription expiry %q: %w", created.ExpirationDateTime, err)
	}

	return &provider.Subscription{
		ID:        created.ID,
		Resource:  created.Resource,
		ExpiresAt: expiry,
	}, nil
}

// RenewSubscription implements provider.Client. Returns the expiry the
// provider actually granted, which may differ from the one requested.
func (c *Client) RenewSubscription(ctx context.Context, accessToken, subscriptionID string, expiresAt time.Time) (time.Time, error) {
	ctx = withToken(ctx, accessToken)

	req := graphSubscription{ExpirationDateTime: expiresAt.UTC().Format(time.RFC3339)}

	var renewed graphSubscription
	url := fmt.Sprintf("%s/subscriptions/%s", c.baseURL, subscriptionID)
	if err := c.doJSON(ctx, http.MethodPatch, url, req, &renewed); err != nil {
		return time.Time{}, fmt.Errorf("failed to renew subscription %s: %w", subscriptionID, err)
	}

	expiry, err := time.Parse(time.RFC3339, renewed.ExpirationDateTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse subscription expiry %q: %w", renewed.ExpirationDateTime, err)
	}

	return expiry, nil
}

// DeleteSubscription implements provider.Client. A subscription that is
// already gone counts as deleted.
func (c *Client) DeleteSubscription(ctx context.Context, accessToken, subscriptionID string) error {
	ctx = withToken(ctx, accessToken)

	url := fmt.Sprintf("%s/subscriptions/%s", c.baseURL, subscriptionID)
	if err := c.doJSON(ctx, http.MethodDelete, url, nil, nil); err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete subscription %s: %w", subscriptionID, err)
	}
	return nil
}

// ParseNotifications decodes an inbound webhook batch into normalized
// notifications. Malformed input returns an error; the webhook handler still
// acknowledges the delivery in that case, it just has nothing to process.
func ParseNotifications(body []byte) ([]provider.Notification, error) {
	var envelope notificationEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode notification payload: %w", err)
	}

	notifications := make([]provider.Notification, 0, len(envelope.Value))
	for _, raw := range envelope.Value {
		notifications = append(notifications, provider.Notification{
			SubscriptionID: raw.SubscriptionID,
			ClientState:    raw.ClientState,
			ChangeType:     raw.ChangeType,
			ResourceID:     raw.ResourceData.ID,
		})
	}
	return notifications, nil
}
