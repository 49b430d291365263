package webwatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MrWong99/moodsense/internal/observe"
)

// UserAgent is sent with every page request.
const UserAgent = "Mozilla/5.0 (Android)"

const maxPageBytes = 5 << 20

// Fetcher downloads pages with a bounded number of attempts.
type Fetcher struct {
	client   *http.Client
	attempts int
	backoff  time.Duration
	timeout  time.Duration
	metrics  *observe.Metrics
}

// NewFetcher returns a Fetcher. Non-positive values select 3 attempts, 1s
// backoff and a 10s per-attempt timeout. client may be nil.
func NewFetcher(client *http.Client, attempts int, backoff, timeout time.Duration) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if attempts <= 0 {
		attempts = 3
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fetcher{client: client, attempts: attempts, backoff: backoff, timeout: timeout}
}

// statusError is a non-2xx reply.
type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("unexpected status %d", e.code) }

// Fetch returns the page body of url. Each failed attempt, including a
// non-2xx status, is followed by the backoff delay unless it was the last.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		body, err := f.once(ctx, url)
		f.record(ctx, err)
		if err == nil {
			return body, nil
		}
		lastErr = err
		observe.Logger(ctx).Debug("page fetch failed", "url", url, "attempt", attempt, "err", err)
		if attempt == f.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.backoff):
		}
	}
	return nil, fmt.Errorf("webwatch: fetch %s: %d attempts: %w", url, f.attempts, lastErr)
}

func (f *Fetcher) once(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &statusError{code: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
}

func (f *Fetcher) record(ctx context.Context, err error) {
	if f.metrics == nil {
		return
	}
	var se *statusError
	switch {
	case err == nil:
		f.metrics.RecordFetch(ctx, "ok")
	case errors.As(err, &se):
		f.metrics.RecordFetch(ctx, "status")
	default:
		f.metrics.RecordFetch(ctx, "error")
	}
}
