package bookapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"bookgen/internal/core/domain"
)

const (
	startPath    = "/generate-pending-books"
	progressPath = "/generation-progress/"

	// maxErrorBody bounds how much of an error response is kept for logs.
	maxErrorBody = 2048
)

// Client implements ports.GenerationAPI over the service's REST API.
type Client struct {
	baseURL   *url.URL
	client    *http.Client
	userAgent string
}

// NewClient creates a new Client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https, got %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:   parsed,
		client:    &http.Client{Timeout: timeout},
		userAgent: "bookgen-cli/1",
	}, nil
}

// StartGeneration issues POST /generate-pending-books.
func (c *Client) StartGeneration(ctx context.Context, token string) (*domain.StartResponse, error) {
	var resp domain.StartResponse
	if err := c.doJSON(ctx, http.MethodPost, startPath, token, map[string]any{}, &resp); err != nil {
		return nil, err
	}
	if err := domain.ValidateJobID(resp.JobID); err != nil {
		return nil, fmt.Errorf("%w: start response job_id: %v", domain.ErrMalformedResponse, err)
	}
	return &resp, nil
}

// GetProgress issues GET /generation-progress/{job_id}.
func (c *Client) GetProgress(ctx context.Context, jobID, token string) (*domain.GenerationJob, error) {
	if err := domain.ValidateJobID(jobID); err != nil {
		return nil, err
	}
	var job domain.GenerationJob
	if err := c.doJSON(ctx, http.MethodGet, progressPath+url.PathEscape(jobID), token, nil, &job); err != nil {
		return nil, err
	}
	if !job.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown job status %q", domain.ErrMalformedResponse, job.Status)
	}
	if job.JobID == "" {
		job.JobID = jobID
	}
	return &job, nil
}

func (c *Client) doJSON(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(path).String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &domain.APIError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", domain.ErrMalformedResponse, path, err)
	}
	return nil
}
