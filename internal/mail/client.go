// Package mail is the narrow contract toward the email provider.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"league-jobs-service/internal/jobs"
)

type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Content     []byte `json:"content"`
}

type Message struct {
	To          string       `json:"to"`
	Subject     string       `json:"subject"`
	HTML        string       `json:"html,omitempty"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Sender delivers one message. Implementations report provider failures
// through the engine error taxonomy so per-item retry decisions stay uniform.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// HTTPSender posts messages to the provider's JSON API.
type HTTPSender struct {
	endpoint string
	apiKey   string
	from     string
	client   *http.Client
}

func NewHTTPSender(endpoint, apiKey, from string, timeout time.Duration) *HTTPSender {
	return &HTTPSender{
		endpoint: endpoint,
		apiKey:   apiKey,
		from:     from,
		client:   &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSender) Send(ctx context.Context, msg Message) error {
	payload := struct {
		Message
		From string `json:"from"`
	}{Message: msg, From: s.from}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return jobs.Transient(jobs.CategoryNetwork, "email_unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return jobs.Transient(jobs.CategoryRateLimit, "email_rate_limited", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return jobs.Transient(jobs.CategoryServerError, "email_server_error", fmt.Errorf("status %d", resp.StatusCode))
	default:
		return jobs.Validation("email_rejected", fmt.Sprintf("provider rejected message with status %d", resp.StatusCode))
	}
}
