// Package identity talks to the upstream identity service: player lookup
// for authentication, chart metadata, and post-play records. All calls carry
// bounded timeouts and run behind a circuit breaker so a degraded upstream
// cannot pile up goroutines inside the coordination server.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/tempolink/tempolink/internal/v1/logging"
	"github.com/tempolink/tempolink/internal/v1/metrics"
	"github.com/tempolink/tempolink/internal/v1/types"
)

// RequestTimeout bounds identity, chart, and record calls.
const RequestTimeout = 8 * time.Second

// Client is the upstream identity HTTP client.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewClient creates a Client for the given base URL.
func NewClient(baseURL string) *Client {
	st := gobreaker.Settings{
		Name:        "identity",
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateVal)
		},
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: RequestTimeout},
		breaker: gobreaker.NewCircuitBreaker(st),
	}
}

// BaseURL returns the configured upstream base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Me resolves an access token into the player's identity via GET /me.
func (c *Client) Me(ctx context.Context, token string) (types.UserInfo, error) {
	var me types.UserInfo
	err := c.getJSON(ctx, "/me", token, &me, func(status int) error {
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return types.CodeAuthInvalidToken
		}
		return types.CodeAuthFetchMeFailed
	})
	return me, err
}

// Chart fetches chart metadata via GET /chart/{id}.
func (c *Client) Chart(ctx context.Context, id int32) (types.Chart, error) {
	var chart types.Chart
	err := c.getJSON(ctx, fmt.Sprintf("/chart/%d", id), "", &chart, func(int) error {
		return types.CodeChartFetchFailed
	})
	return chart, err
}

// Record fetches an uploaded play record via GET /record/{id}.
func (c *Client) Record(ctx context.Context, id int32) (types.Record, error) {
	var record types.Record
	err := c.getJSON(ctx, fmt.Sprintf("/record/%d", id), "", &record, func(int) error {
		return types.CodeRecordFetchFailed
	})
	return record, err
}

// getJSON performs a GET under the breaker and decodes a 2xx JSON body.
// statusErr maps non-2xx statuses to the caller's typed error code.
func (c *Client) getJSON(ctx context.Context, path, token string, out any, statusErr func(status int) error) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		reqCtx, cancel := context.WithTimeout(ctx, RequestTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
				return nil, types.CodeNetRequestTimeout
			}
			return nil, statusErr(0)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			logging.Warn(ctx, "identity upstream returned non-2xx",
				zap.String("path", path), zap.Int("status", resp.StatusCode))
			return nil, statusErr(resp.StatusCode)
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, statusErr(resp.StatusCode)
		}
		return nil, nil
	})
	if err != nil {
		var code types.Code
		if errors.As(err, &code) {
			return code
		}
		// Breaker open or unexpected transport failure.
		return statusErr(0)
	}
	return nil
}
