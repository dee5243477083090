package identity

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tempolink/tempolink/internal/v1/logging"
)

const (
	quoteTimeout  = 3 * time.Second
	quoteTTL      = 60 * time.Second
	quoteCoalesce = 600 * time.Millisecond
	maxQuoteLen   = 256
)

// QuoteCache fetches the inspirational quote that decorates the welcome
// banner. One value is held for 60s; a 600ms coalescing window ensures a
// burst of authentications issues at most one upstream call. Failures are
// swallowed: the banner simply loses its quote.
type QuoteCache struct {
	url  string
	http *http.Client

	mu          sync.Mutex
	value       string
	fetchedAt   time.Time
	lastAttempt time.Time
}

// NewQuoteCache creates a cache for the given quote URL. An empty URL
// disables fetching; Get then always returns "".
func NewQuoteCache(url string) *QuoteCache {
	return &QuoteCache{
		url:  url,
		http: &http.Client{Timeout: quoteTimeout},
	}
}

// Get returns the cached quote, refreshing it when stale. Concurrent
// callers within the coalescing window reuse the previous value.
func (q *QuoteCache) Get(ctx context.Context) string {
	if q.url == "" {
		return ""
	}

	q.mu.Lock()
	now := time.Now()
	if now.Sub(q.fetchedAt) < quoteTTL || now.Sub(q.lastAttempt) < quoteCoalesce {
		v := q.value
		q.mu.Unlock()
		return v
	}
	q.lastAttempt = now
	q.mu.Unlock()

	v := q.fetch(ctx)

	q.mu.Lock()
	if v != "" {
		q.value = v
		q.fetchedAt = time.Now()
	}
	v = q.value
	q.mu.Unlock()
	return v
}

func (q *QuoteCache) fetch(ctx context.Context) string {
	reqCtx, cancel := context.WithTimeout(ctx, quoteTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, q.url, nil)
	if err != nil {
		return ""
	}

	resp, err := q.http.Do(req)
	if err != nil {
		logging.Warn(ctx, "quote fetch failed", zap.Error(err))
		return ""
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxQuoteLen))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(body))
}
