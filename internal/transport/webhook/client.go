// Package webhook posts messages to the SMS gateway over HTTP.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"clinotify/internal/observability"
)

type Client struct {
	url  string
	http *http.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:  url,
		http: &http.Client{Timeout: timeout},
	}
}

type sendRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
}

type sendResponse struct {
	Message   string `json:"message"`
	MessageID string `json:"messageId"`
}

// Send posts one message. The gateway contract is 202 Accepted plus a
// messageId; anything else is a failure the caller may retry.
func (c *Client) Send(ctx context.Context, recipient, body string) (string, error) {
	reqBody, err := json.Marshal(sendRequest{PhoneNumber: recipient, Message: body})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	observability.GatewayLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(raw))
	}

	var sr sendResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return "", fmt.Errorf("failed to decode json: %w body=%q", err, string(raw))
	}
	if sr.MessageID == "" {
		return "", fmt.Errorf("missing messageId in response body=%q", string(raw))
	}
	return sr.MessageID, nil
}
