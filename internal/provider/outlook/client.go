// Package outlook is the Graph-style REST adapter for Outlook mailboxes.
// It is the only package that sees raw Graph payloads.
package outlook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/meridianhq/mailsync/internal/models"
	"github.com/meridianhq/mailsync/internal/provider"
)

const (
	// DefaultBaseURL is the production Graph endpoint.
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"

	requestTimeout = 30 * time.Second

	// maxRetryElapsed bounds transient-error (5xx, network) retries per call.
	maxRetryElapsed = 20 * time.Second
)

// Client talks to the Graph REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

var _ provider.Client = (*Client)(nil)

// NewClient creates an Outlook client against the production Graph endpoint.
func NewClient() *Client {
	return NewClientWithBaseURL(DefaultBaseURL)
}

// NewClientWithBaseURL creates an Outlook client against a custom endpoint.
// Tests point this at a local fake.
func NewClientWithBaseURL(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    baseURL,
	}
}

// Name implements provider.Client.
func (c *Client) Name() models.Provider {
	return models.ProviderOutlook
}

// MovePreservesID implements provider.Client. Outlook reassigns message ids
// on move, which is what makes the duplicate reconciliation in the message
// store necessary.
func (c *Client) MovePreservesID() bool {
	return false
}

// doJSON performs one authenticated request and decodes the response into
// out (when non-nil). Transient failures (network errors, 5xx) are retried
// with exponential backoff; 401/404/429 map to the provider error taxonomy
// and are not retried here.
func (c *Client) doJSON(ctx context.Context, method, url string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	accessToken, ok := ctx.Value(accessTokenKey{}).(string)
	if !ok {
		return fmt.Errorf("missing access token")
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if err := checkResponse(resp); err != nil {
			if resp.StatusCode >= 500 {
				return err
			}
			return backoff.Permanent(err)
		}

		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = maxRetryElapsed
	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}

// checkResponse maps non-2xx responses onto the provider error taxonomy.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return provider.ErrUnauthorized
	case http.StatusNotFound:
		return provider.ErrNotFound
	case http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if header := resp.Header.Get("Retry-After"); header != "" {
			if seconds, err := strconv.Atoi(header); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return &provider.RateLimitError{RetryAfter: retryAfter}
	}

	var graphErr graphErrorResponse
	detail := ""
	if body, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil {
		if json.Unmarshal(body, &graphErr) == nil && graphErr.Error.Code != "" {
			detail = fmt.Sprintf(" (%s: %s)", graphErr.Error.Code, graphErr.Error.Message)
		}
	}

	return fmt.Errorf("provider returned status %d%s", resp.StatusCode, detail)
}

type accessTokenKey struct{}

// withToken carries the access token down to doJSON without threading it
// through every URL-building helper.
func withToken(ctx context.Context, accessToken string) context.Context {
	return context.WithValue(ctx, accessTokenKey{}, accessToken)
}

// ListFolders implements provider.Client. Follows paging links until the
// listing is complete: reconciliation needs the full set, not a page.
func (c *Client) ListFolders(ctx context.Context, accessToken string) ([]provider.Folder, error) {
	ctx = withToken(ctx, accessToken)

	url := c.baseURL + "/me/mailFolders?$top=100&includeHiddenFolders=false"
	var folders []provider.Folder

	for url != "" {
		var page graphFolderListResponse
		if err := c.doJSON(ctx, http.MethodGet, url, nil, &page); err != nil {
			return nil, fmt.Errorf("failed to list folders: %w", err)
		}

		for _, raw := range page.Value {
			folders = append(folders, convertFolder(raw))
		}
		url = page.NextLink
	}

	return folders, nil
}

// DeltaMessages implements provider.Client. The delta token is the opaque
// deltaLink URL from the previous round; empty requests a full fetch. Pages
// are drained in one call so the returned cursor always represents a
// complete pass. Canonical folder resolution is left to the caller, which
// already holds the folder record it is syncing.
func (c *Client) DeltaMessages(ctx context.Context, accessToken, folderExternalID, deltaToken string) (*provider.Delta, error) {
	ctx = withToken(ctx, accessToken)

	url := deltaToken
	if url == "" {
		url = fmt.Sprintf("%s/me/mailFolders/%s/messages/delta?$top=50", c.baseURL, folderExternalID)
	}

	delta := &provider.Delta{}
	for {
		var page graphDeltaResponse
		if err := c.doJSON(ctx, http.MethodGet, url, nil, &page); err != nil {
			return nil, fmt.Errorf("failed to fetch message delta: %w", err)
		}

		for _, raw := range page.Value {
			delta.Messages = append(delta.Messages, convertMessage(raw, ""))
		}

		if page.NextLink != "" {
			url = page.NextLink
			continue
		}

		delta.NextToken = page.DeltaLink
		return delta, nil
	}
}

// GetMessage implements provider.Client. The canonical folder is left for
// the caller to resolve against its local folder mirror, since a single
// message fetch only carries the parent folder id.
func (c *Client) GetMessage(ctx context.Context, accessToken, messageID string) (*provider.Message, error) {
	ctx = withToken(ctx, accessToken)

	var raw graphMessage
	url := fmt.Sprintf(
		"%s/me/messages/%s?$select=id,conversationId,subject,bodyPreview,from,toRecipients,ccRecipients,receivedDateTime,isRead,flag,importance,inferenceClassification,parentFolderId",
		c.baseURL, messageID,
	)
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &raw); err != nil {
		return nil, fmt.Errorf("failed to fetch message %s: %w", messageID, err)
	}

	msg := convertMessage(raw, "")
	return &msg, nil
}

// MoveMessage implements provider.Client. Returns the message's external id
// after the move; for Outlook this is a newly assigned id.
func (c *Client) MoveMessage(ctx context.Context, accessToken, messageID, destFolderExternalID string) (string, error) {
	ctx = withToken(ctx, accessToken)

	var moved graphMessage
	url := fmt.Sprintf("%s/me/messages/%s/move", c.baseURL, messageID)
	if err := c.doJSON(ctx, http.MethodPost, url, graphMoveRequest{DestinationID: destFolderExternalID}, &moved); err != nil {
		return "", fmt.Errorf("failed to move message %s: %w", messageID, err)
	}

	return moved.ID, nil
}
