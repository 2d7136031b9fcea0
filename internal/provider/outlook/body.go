package outlook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/cenkalti/backoff/v4"
	"github.com/jhillyerd/enmime"

	"github.com/meridianhq/mailsync/internal/provider"
)

// maxBodySize caps a single fetched message body. Anything larger is
// truncated rather than rejected since partial content still renders.
const maxBodySize = 10 << 20

// GetMessageBody implements provider.Client. Fetches the raw MIME stream
// for the message and extracts the renderable body, preferring HTML over
// plain text.
func (c *Client) GetMessageBody(ctx context.Context, accessToken, messageID string) (*provider.Body, error) {
	raw, err := c.fetchRawMIME(ctx, accessToken, messageID)
	if err != nil {
		return nil, err
	}

	envelope, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message %s: %w", messageID, err)
	}

	if envelope.HTML != "" {
		return &provider.Body{Content: []byte(envelope.HTML), ContentType: "text/html"}, nil
	}
	return &provider.Body{Content: []byte(envelope.Text), ContentType: "text/plain"}, nil
}

// fetchRawMIME reads the message's $value stream with the same retry and
// error mapping as the JSON paths.
func (c *Client) fetchRawMIME(ctx context.Context, accessToken, messageID string) ([]byte, error) {
	url := fmt.Sprintf("%s/me/messages/%s/$value", c.baseURL, messageID)

	var raw []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)

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

		raw, err = io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return fmt.Errorf("failed to read message body: %w", err)
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = maxRetryElapsed
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, fmt.Errorf("failed to fetch body for message %s: %w", messageID, err)
	}
	return raw, nil
}
