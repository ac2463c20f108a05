// Package pdf wraps the external single-card renderer and the local merge
// step behind narrow interfaces so handlers and tests stay independent of
// the concrete services.
package pdf

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"league-jobs-service/internal/jobs"
)

// RenderRequest identifies one appointment card: a match and the official
// appointed to it.
type RenderRequest struct {
	MatchID    string `json:"matchId"`
	OfficialID string `json:"officialId"`
}

// Generator renders a single document.
type Generator interface {
	Render(ctx context.Context, req RenderRequest) ([]byte, error)
}

// HTTPGenerator calls the external renderer service, which returns the
// document as base64-encoded bytes.
type HTTPGenerator struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPGenerator(baseURL, apiKey string, timeout time.Duration) *HTTPGenerator {
	return &HTTPGenerator{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGenerator) Render(ctx context.Context, req RenderRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal render request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/render", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, jobs.Transient(jobs.CategoryNetwork, "pdf_render_unreachable", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, "pdf_render"); err != nil {
		return nil, err
	}

	var out struct {
		Document string `json:"document"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode render response: %w", err)
	}

	doc, err := base64.StdEncoding.DecodeString(out.Document)
	if err != nil {
		return nil, fmt.Errorf("decode rendered document: %w", err)
	}
	return doc, nil
}

// classifyStatus maps a collaborator HTTP status to the engine taxonomy.
func classifyStatus(code int, prefix string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return jobs.Transient(jobs.CategoryRateLimit, prefix+"_rate_limited", fmt.Errorf("status %d", code))
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return jobs.Transient(jobs.CategoryTimeout, prefix+"_timeout", fmt.Errorf("status %d", code))
	case code >= 500:
		return jobs.Transient(jobs.CategoryServerError, prefix+"_server_error", fmt.Errorf("status %d", code))
	default:
		return jobs.Validation(prefix+"_rejected", fmt.Sprintf("%s rejected request with status %d", prefix, code))
	}
}
