// Package resend is a minimal client for the Resend email API used by the
// campaign stage.
package resend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// RateLimitedError means Resend refused the send for pacing reasons. The
// campaign stage skips the lead and retries on a later run.
type RateLimitedError struct {
	Err error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("resend: rate limited: %v", e.Err)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// Client sends transactional email through Resend.
type Client struct {
	baseURL   string
	apiKey    string
	fromEmail string
	fromName  string
	http      *http.Client
}

// NewClient creates a Resend client with a default sender identity.
func NewClient(baseURL, apiKey, fromEmail, fromName string) *Client {
	return &Client{
		baseURL:   baseURL,
		apiKey:    apiKey,
		fromEmail: fromEmail,
		fromName:  fromName,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

// Email is one outbound message.
type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
	ReplyTo string
	Tags    map[string]string
}

type sendPayload struct {
	From    string    `json:"from"`
	To      []string  `json:"to"`
	Subject string    `json:"subject"`
	Text    string    `json:"text,omitempty"`
	HTML    string    `json:"html,omitempty"`
	ReplyTo string    `json:"reply_to,omitempty"`
	Tags    []sendTag `json:"tags,omitempty"`
}

type sendTag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type sendResponse struct {
	ID string `json:"id"`
}

// Send delivers one email and returns the Resend message id.
func (c *Client) Send(ctx context.Context, email Email) (string, error) {
	from := c.fromEmail
	if c.fromName != "" {
		from = fmt.Sprintf("%s <%s>", c.fromName, c.fromEmail)
	}
	payload := sendPayload{
		From:    from,
		To:      []string{email.To},
		Subject: email.Subject,
		Text:    email.Text,
		HTML:    email.HTML,
		ReplyTo: email.ReplyTo,
	}
	for name, value := range email.Tags {
		payload.Tags = append(payload.Tags, sendTag{Name: name, Value: value})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", eris.Wrap(err, "resend: encode payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "resend: build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "resend: send")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", &RateLimitedError{Err: eris.Errorf("resend: %s", raw)}
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", eris.Errorf("resend: send to %s: HTTP %d: %s", email.To, resp.StatusCode, raw)
	}

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", eris.Wrap(err, "resend: decode response")
	}
	zap.L().Info("resend: email sent",
		zap.String("to", email.To),
		zap.String("message_id", out.ID),
	)
	return out.ID, nil
}
