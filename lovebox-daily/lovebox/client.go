// Package lovebox sends images to a Lovebox device through the Lovebox
// GraphQL API.
package lovebox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"lovebox_automation/lovebox-daily/apperr"
)

// DefaultEndpoint is the Lovebox GraphQL endpoint.
const DefaultEndpoint = "https://app-api.loveboxlove.com/v1/graphql"

const sendMessageMutation = `mutation sendMessage($recipient: String!, $base64: String!) {
  sendMessage(recipient: $recipient, base64: $base64) {
    _id
  }
}`

// maxErrorBody caps how much of a failed response is kept for reporting.
const maxErrorBody = 64 << 10

// Config configures a Client.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Client talks to the Lovebox API.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type sendMessageResponse struct {
	Data *struct {
		SendMessage *struct {
			ID string `json:"_id"`
		} `json:"sendMessage"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

// NewClient creates a Client.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
}

// Send delivers a base64-encoded image to recipientID. A transport error,
// a non-2xx status or a GraphQL error all fail with apperr.ErrDeliveryFailed.
func (c *Client) Send(ctx context.Context, recipientID, base64Image string) error {
	payload, err := json.Marshal(graphQLRequest{
		Query: sendMessageMutation,
		Variables: map[string]any{
			"recipient": recipientID,
			"base64":    base64Image,
		},
	})
	if err != nil {
		return apperr.DeliveryFailed("failed to marshal request", nil, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return apperr.DeliveryFailed("failed to create request", nil, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.DeliveryFailed("failed to make request", nil, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return apperr.DeliveryFailed("failed to read response", nil, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.DeliveryFailed(fmt.Sprintf("Failed to send image to Lovebox: status %d: %s", resp.StatusCode, body), body, nil)
	}

	var out sendMessageResponse
	if err := json.Unmarshal(body, &out); err != nil {
		// the device accepted the call; an unparseable body is only logged
		c.log.Warn().Err(err).Msg("could not parse Lovebox response")
		return nil
	}
	if len(out.Errors) > 0 {
		msgs := make([]string, len(out.Errors))
		for i, e := range out.Errors {
			msgs[i] = e.Message
		}
		return apperr.DeliveryFailed("Lovebox rejected the message: "+strings.Join(msgs, "; "), body, nil)
	}

	if out.Data != nil && out.Data.SendMessage != nil {
		c.log.Info().Str("message_id", out.Data.SendMessage.ID).Msg("image delivered to Lovebox")
	}
	return nil
}
