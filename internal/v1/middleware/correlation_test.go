package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tempolink/tempolink/internal/v1/logging"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

func runRequest(t *testing.T, incoming string) (*httptest.ResponseRecorder, string) {
	t.Helper()

	var seen string
	router := gin.New()
	router.Use(CorrelationID())
	router.GET("/", func(c *gin.Context) {
		seen = c.GetString(string(logging.CorrelationIDKey))
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if incoming != "" {
		req.Header.Set(HeaderXCorrelationID, incoming)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w, seen
}

func TestCorrelationID_EchoesIncoming(t *testing.T) {
	w, seen := runRequest(t, "req-abc-123")

	assert.Equal(t, "req-abc-123", w.Header().Get(HeaderXCorrelationID))
	assert.Equal(t, "req-abc-123", seen)
}

func TestCorrelationID_MintsWhenMissing(t *testing.T) {
	w, seen := runRequest(t, "")

	minted := w.Header().Get(HeaderXCorrelationID)
	require.NotEmpty(t, minted)
	assert.Equal(t, minted, seen)

	_, err := uuid.Parse(minted)
	assert.NoError(t, err)
}
