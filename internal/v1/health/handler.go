// Package health exposes Kubernetes-style liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tempolink/tempolink/internal/v1/logging"
)

const readinessTimeout = 3 * time.Second

// UpstreamChecker probes the identity upstream.
type UpstreamChecker interface {
	Check(ctx context.Context) string
}

// HTTPUpstreamChecker probes an HTTP base URL with a HEAD request. Any
// response, including an error status, counts as reachable; only a
// transport failure marks the upstream unhealthy.
type HTTPUpstreamChecker struct {
	BaseURL string
	Client  *http.Client
}

// Check reports "healthy" or "unhealthy" for the upstream.
func (c *HTTPUpstreamChecker) Check(ctx context.Context) string {
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.BaseURL, nil)
	if err != nil {
		return "unhealthy"
	}
	resp, err := client.Do(req)
	if err != nil {
		logging.Warn(ctx, "identity upstream health check failed", zap.Error(err))
		return "unhealthy"
	}
	_ = resp.Body.Close()
	return "healthy"
}

// Handler manages the health check endpoints.
type Handler struct {
	upstream UpstreamChecker
}

// NewHandler creates a health handler probing the given identity base URL.
func NewHandler(identityBaseURL string) *Handler {
	return &Handler{
		upstream: &HTTPUpstreamChecker{
			BaseURL: identityBaseURL,
			Client:  &http.Client{Timeout: readinessTimeout},
		},
	}
}

// NewHandlerWithChecker creates a handler with a custom upstream checker.
func NewHandlerWithChecker(checker UpstreamChecker) *Handler {
	return &Handler{upstream: checker}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health/live. It returns 200 whenever the process
// is alive; no dependencies are consulted.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready. It returns 200 only while the
// identity upstream is reachable, 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	checks := map[string]string{
		"identity": h.upstream.Check(ctx),
	}

	status := "ready"
	statusCode := http.StatusOK
	if checks["identity"] != "healthy" {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
