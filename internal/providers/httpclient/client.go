// ABOUTME: Shared HTTP GET helper used by the feed connectors.
// ABOUTME: Applies a user agent, bounds body size, and maps non-2xx responses to typed errors.

package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultUserAgent identifies the service to upstream feeds
const DefaultUserAgent = "ThreatPulse/1.0 (+https://github.com/jfeddern/ThreatPulse)"

// maxBodyBytes bounds how much of a response body is read
const maxBodyBytes = 32 << 20

// ErrRateLimited is returned when an upstream answers 429
var ErrRateLimited = errors.New("upstream rate limited")

// StatusError reports an unexpected HTTP status
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Client performs GET requests against public feeds
type Client struct {
	http      *http.Client
	userAgent string
	logger    *logrus.Logger
}

// New creates a client. Deadlines come from the request context.
func New(userAgent string, logger *logrus.Logger) *Client {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		userAgent: userAgent,
		logger:    logger,
	}
}

// Get fetches url and returns the body of a 2xx response
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	c.logger.WithFields(logrus.Fields{
		"url":      url,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("Upstream request completed")

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%s: %w", url, ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", url, err)
	}
	return body, nil
}

// GetJSON fetches url and decodes the JSON body into out
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, out interface{}) error {
	if headers == nil {
		headers = map[string]string{}
	}
	if _, ok := headers["Accept"]; !ok {
		headers["Accept"] = "application/json"
	}
	body, err := c.Get(ctx, url, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse JSON from %s: %w", url, err)
	}
	return nil
}
