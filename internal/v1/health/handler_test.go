package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChecker struct{ status string }

func (s *stubChecker) Check(context.Context) string { return s.status }

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

func probe(t *testing.T, h *Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	router := gin.New()
	router.GET("/health/live", h.Liveness)
	router.GET("/health/ready", h.Readiness)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestLiveness(t *testing.T) {
	h := NewHandlerWithChecker(&stubChecker{status: "unhealthy"})

	w := probe(t, h, "/health/live")
	require.Equal(t, http.StatusOK, w.Code)

	var resp LivenessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "alive", resp.Status)
	assert.NotEmpty(t, resp.Timestamp)
}

func TestReadiness_Healthy(t *testing.T) {
	h := NewHandlerWithChecker(&stubChecker{status: "healthy"})

	w := probe(t, h, "/health/ready")
	require.Equal(t, http.StatusOK, w.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, "healthy", resp.Checks["identity"])
}

func TestReadiness_Unhealthy(t *testing.T) {
	h := NewHandlerWithChecker(&stubChecker{status: "unhealthy"})

	w := probe(t, h, "/health/ready")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "unavailable", resp.Status)
	assert.Equal(t, "unhealthy", resp.Checks["identity"])
}

func TestHTTPUpstreamChecker(t *testing.T) {
	// An error status still proves the upstream is reachable.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(ts.Close)

	c := &HTTPUpstreamChecker{BaseURL: ts.URL}
	assert.Equal(t, "healthy", c.Check(context.Background()))

	down := &HTTPUpstreamChecker{BaseURL: "http://127.0.0.1:1"}
	assert.Equal(t, "unhealthy", down.Check(context.Background()))
}
