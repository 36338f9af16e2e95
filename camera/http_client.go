package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultFetchTimeout bounds one HTTP request for the initial map
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMaxRetries is the number of attempts before giving up
	DefaultMaxRetries = 3

	defaultBaseBackoff = 500 * time.Millisecond

	// maxResponseBytes caps the map document size
	maxResponseBytes = 50 << 20
)

// FetchOption configures FetchMapPayload
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	client      *http.Client
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) FetchOption {
	return func(c *fetchConfig) { c.timeout = d }
}

// WithMaxRetries sets the maximum number of attempts.
func WithMaxRetries(n int) FetchOption {
	return func(c *fetchConfig) { c.maxRetries = n }
}

// WithBaseBackoff sets the delay before the second attempt; it doubles after each failure.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(c *fetchConfig) { c.baseBackoff = d }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) FetchOption {
	return func(c *fetchConfig) { c.client = client }
}

// errPermanent marks failures that a retry cannot fix
type errPermanent struct{ error }

func (e errPermanent) Unwrap() error { return e.error }

// FetchMapPayload downloads a Hypfer map document from the vacuum's REST API,
// e.g. "http://robot.local/api/v2/robot/state/map", and checks that it
// decodes. Network errors and 5xx responses are retried with exponential
// backoff; 4xx responses and undecodable documents are not.
func FetchMapPayload(ctx context.Context, apiURL string, opts ...FetchOption) ([]byte, error) {
	if apiURL == "" {
		return nil, errors.New("fetch map: API URL is empty")
	}

	cfg := fetchConfig{
		timeout:     DefaultFetchTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}

	var lastErr error
	backoff := cfg.baseBackoff
	for attempt := range max(cfg.maxRetries, 1) {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("fetch map: %w", ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		body, err := doFetch(ctx, client, apiURL)
		if err != nil {
			var permanent errPermanent
			if errors.As(err, &permanent) {
				return nil, fmt.Errorf("fetch map: %w", err)
			}
			lastErr = err
			continue
		}

		if _, err := Decode(FormatHypfer, body, DecodeOptions{}); err != nil {
			return nil, fmt.Errorf("fetch map: %w", err)
		}
		return body, nil
	}
	return nil, fmt.Errorf("fetch map: all %d attempts failed: %w", max(cfg.maxRetries, 1), lastErr)
}

func doFetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errPermanent{fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, errPermanent{fmt.Errorf("HTTP GET %s: status %d", url, resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("HTTP GET %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}
	return body, nil
}
