// Package ratelimit implements rate limiting for the admin HTTP surface
// using an in-memory store.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/tempolink/tempolink/internal/v1/auth"
	"github.com/tempolink/tempolink/internal/v1/config"
	"github.com/tempolink/tempolink/internal/v1/logging"
	"github.com/tempolink/tempolink/internal/v1/metrics"
)

// RateLimiter holds the limiter instances for the admin surface.
type RateLimiter struct {
	apiGlobal *limiter.Limiter
	apiAdmin  *limiter.Limiter
	store     limiter.Store
}

// NewRateLimiter creates a RateLimiter from the configured rate strings
// (e.g. "1000-M").
func NewRateLimiter(cfg *config.Config) (*RateLimiter, error) {
	globalRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIGlobal)
	if err != nil {
		return nil, fmt.Errorf("invalid API global rate: %w", err)
	}

	adminRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIAdmin)
	if err != nil {
		return nil, fmt.Errorf("invalid API admin rate: %w", err)
	}

	store := memory.NewStore()
	return &RateLimiter{
		apiGlobal: limiter.New(store, globalRate),
		apiAdmin:  limiter.New(store, adminRate),
		store:     store,
	}, nil
}

// GlobalMiddleware enforces the per-IP global limit on every request.
func (rl *RateLimiter) GlobalMiddleware() gin.HandlerFunc {
	return rl.middleware(rl.apiGlobal, "ip")
}

// AdminMiddleware enforces the stricter per-caller limit on admin routes.
// Authenticated callers are keyed by token subject, others by IP.
func (rl *RateLimiter) AdminMiddleware() gin.HandlerFunc {
	return rl.middleware(rl.apiAdmin, "admin")
}

func (rl *RateLimiter) middleware(instance *limiter.Limiter, limitType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if claims, exists := c.Get("claims"); exists {
			if userClaims, ok := claims.(*auth.CustomClaims); ok && userClaims.Subject != "" {
				key = userClaims.Subject
			}
		}

		ctx := c.Request.Context()
		lctx, err := instance.Get(ctx, key)
		if err != nil {
			// Fail open: availability over strictness when the store errors.
			logging.Error(ctx, "rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(c.FullPath(), limitType).Inc()
			c.Header("Retry-After", strconv.FormatInt(lctx.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"retry_after": lctx.Reset,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(c.FullPath()).Inc()
		c.Next()
	}
}
