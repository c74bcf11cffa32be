package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultPaths are lightweight endpoints of the generation service, tried in order.
var DefaultPaths = []string{"/env-status", "/books", "/health", "/"}

// HTTPProber implements ports.Prober using plain GET requests.
type HTTPProber struct {
	baseURL *url.URL
	paths   []string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPProber creates a new HTTPProber. Empty paths fall back to DefaultPaths.
func NewHTTPProber(baseURL string, paths []string, timeout time.Duration) (*HTTPProber, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProber{
		baseURL: parsed,
		paths:   paths,
		timeout: timeout,
		client:  &http.Client{},
	}, nil
}

// Probe returns the first path that answers within the timeout with a
// non-5xx status.
func (p *HTTPProber) Probe(ctx context.Context) (string, error) {
	var errs []error
	for _, path := range p.paths {
		if err := p.try(ctx, path); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		return path, nil
	}
	return "", fmt.Errorf("no endpoint reachable at %s: %w", p.baseURL.Redacted(), errors.Join(errs...))
}

func (p *HTTPProber) try(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL.JoinPath(path).String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}
