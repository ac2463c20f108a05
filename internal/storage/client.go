// Package storage is the narrow contract toward the object store holding
// job artifacts.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"league-jobs-service/internal/jobs"
)

type Client interface {
	// Upload upserts the object at path. Artifact paths are deterministic
	// per job, so a retried upload phase overwrites its own earlier output.
	Upload(ctx context.Context, path string, data []byte, contentType string) error

	// CreateSignedURL returns a short-lived download URL for the object.
	CreateSignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// HTTPClient talks to the storage service's REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/object/"+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return jobs.Transient(jobs.CategoryNetwork, "storage_unreachable", err)
	}
	defer resp.Body.Close()

	return c.checkStatus(resp.StatusCode, "upload")
}

func (c *HTTPClient) CreateSignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	body, err := json.Marshal(map[string]any{"expiresIn": int(ttl.Seconds())})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sign/"+path, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", jobs.Transient(jobs.CategoryNetwork, "storage_unreachable", err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp.StatusCode, "sign"); err != nil {
		return "", err
	}

	var out struct {
		SignedURL string `json:"signedUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode signed url response: %w", err)
	}
	return out.SignedURL, nil
}

func (c *HTTPClient) checkStatus(code int, op string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return jobs.Transient(jobs.CategoryRateLimit, "storage_rate_limited", fmt.Errorf("%s: status %d", op, code))
	case code >= 500:
		return jobs.Transient(jobs.CategoryServerError, "storage_server_error", fmt.Errorf("%s: status %d", op, code))
	default:
		return jobs.Validation("storage_rejected", fmt.Sprintf("storage rejected %s with status %d", op, code))
	}
}
