package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rightsideup/youthrank/internal/metrics"
)

// StatusError reports a non-success upstream status that was not worth
// retrying (or exhausted its retries).
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d for %s", e.StatusCode, e.URL)
}

// IsNotFound reports whether err is an upstream 404. Stage 2 uses this to
// invalidate stale profile cache entries.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Response is the body and metadata of a successful upstream fetch.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Client is the upstream HTTP client shared by both scraper stages. The
// transport keeps connections alive across workers; retry state is
// per-request, so one Client is safe for concurrent use.
type Client struct {
	httpClient  *http.Client
	userAgent   string
	maxRetries  int
	backoffBase time.Duration
}

// NewClient creates an upstream client.
func NewClient(userAgent string, timeout time.Duration, maxRetries int, backoffBase time.Duration) *Client {
	return &Client{
		userAgent:   userAgent,
		maxRetries:  maxRetries,
		backoffBase: backoffBase,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Get fetches url with retry logic. Transient failures (5xx, timeouts,
// connection resets) are retried with exponential backoff; a 429 doubles the
// backoff base for the remaining attempts. 404 and other client errors are
// returned immediately as *StatusError.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	backoffBase := c.backoffBase
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: base, 2*base, 4*base
			backoff := backoffBase * time.Duration(1<<uint(attempt-1))
			log.Debug().
				Str("url", url).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Retrying upstream request after backoff")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		start := time.Now()
		resp, err := c.doOnce(ctx, url)
		duration := time.Since(start).Seconds()

		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			metrics.RecordHTTPRequest(url, "error", duration)
			metrics.RecordRetry("network")
			lastErr = fmt.Errorf("upstream request failed: %w", err)
			continue
		}

		metrics.RecordHTTPRequest(url, fmt.Sprintf("%d", resp.StatusCode), duration)

		switch {
		case resp.StatusCode == http.StatusOK:
			return resp, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			// Rate limited: double the backoff base for this request's
			// remaining attempts.
			backoffBase *= 2
			metrics.RecordRetry("rate_limited")
			log.Warn().
				Str("url", url).
				Int("attempt", attempt+1).
				Dur("backoff_base", backoffBase).
				Msg("Upstream rate limit, doubling backoff")
			lastErr = &StatusError{StatusCode: resp.StatusCode, URL: url}

		case resp.StatusCode >= 500:
			metrics.RecordRetry("server_error")
			log.Warn().
				Str("url", url).
				Int("status", resp.StatusCode).
				Int("attempt", attempt+1).
				Msg("Upstream server error, will retry")
			lastErr = &StatusError{StatusCode: resp.StatusCode, URL: url}

		default:
			// 404 and other client errors are not retryable.
			return nil, &StatusError{StatusCode: resp.StatusCode, URL: url}
		}
	}

	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/json;q=0.9,*/*;q=0.8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
