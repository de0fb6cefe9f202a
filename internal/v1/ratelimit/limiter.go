// Package ratelimit implements rate limiting backed by Redis or local memory.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/config"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/logging"
)

// RateLimiter holds the limiter instances for the three abuse surfaces:
// WebSocket upgrades (per IP), chat lines (per user), uploads (per IP).
type RateLimiter struct {
	wsIP     *limiter.Limiter
	chatUser *limiter.Limiter
	uploadIP *limiter.Limiter
	store    limiter.Store
}

// New creates a RateLimiter. A nil redisClient falls back to the in-memory
// store, which is fine for single-instance deployments.
func New(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	wsRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsIP)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}

	chatRate, err := limiter.NewRateFromFormatted(cfg.RateLimitChatUser)
	if err != nil {
		return nil, fmt.Errorf("invalid chat user rate: %w", err)
	}

	uploadRate, err := limiter.NewRateFromFormatted(cfg.RateLimitUploadIP)
	if err != nil {
		return nil, fmt.Errorf("invalid upload IP rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "✅ Rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "⚠️  Rate limiter using Memory store (Redis disabled or unavailable)")
	}

	return &RateLimiter{
		wsIP:     limiter.New(store, wsRate),
		chatUser: limiter.New(store, chatRate),
		uploadIP: limiter.New(store, uploadRate),
		store:    store,
	}, nil
}

// CheckWebSocket enforces the per-IP upgrade limit. Writes a 429 response
// and returns false when the limit is exceeded.
func (rl *RateLimiter) CheckWebSocket(c *gin.Context) bool {
	key := "ws:ip:" + c.ClientIP()
	lctx, err := rl.wsIP.Get(c.Request.Context(), key)
	if err != nil {
		// Fail open: a limiter store outage should not take the product down.
		logging.Warn(c.Request.Context(), "Rate limiter store error, allowing request")
		return true
	}

	if lctx.Reached {
		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return false
	}
	return true
}

// AllowChat enforces the per-user chat limit.
func (rl *RateLimiter) AllowChat(ctx context.Context, userID string) bool {
	lctx, err := rl.chatUser.Get(ctx, "chat:user:"+userID)
	if err != nil {
		return true
	}
	return !lctx.Reached
}

// UploadMiddleware enforces the per-IP upload limit on the upload route.
func (rl *RateLimiter) UploadMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "upload:ip:" + c.ClientIP()
		lctx, err := rl.uploadIP.Get(c.Request.Context(), key)
		if err != nil {
			c.Next()
			return
		}
		if lctx.Reached {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
