package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/internal/metrics"
)

// RateLimitConfig tunes the per-user request limiter.
type RateLimitConfig struct {
	RequestsPerWindow int
	Window            time.Duration
}

// RateLimit throttles requests per authenticated user with a fixed Redis
// INCR window. Redis being down fails open: throttling is protection, not a
// correctness requirement, and dropping all traffic on a cache outage would
// be worse than dropping none.
func RateLimit(rdb *redis.Client, cfg RateLimitConfig, logger *zap.Logger) Middleware {
	if cfg.RequestsPerWindow <= 0 {
		cfg.RequestsPerWindow = 30
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := userIDFrom(r.Context())
			if !ok || rdb == nil {
				next.ServeHTTP(w, r)
				return
			}

			window := time.Now().Unix() / int64(cfg.Window.Seconds())
			key := fmt.Sprintf("ratelimit:%s:%d", userID, window)

			count, err := rdb.Incr(r.Context(), key).Result()
			if err != nil {
				logger.Warn("rate limiter unavailable, allowing request", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if count == 1 {
				rdb.Expire(r.Context(), key, cfg.Window)
			}

			remaining := int64(cfg.RequestsPerWindow) - count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.RequestsPerWindow))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			if count > int64(cfg.RequestsPerWindow) {
				metrics.RateLimitedTotal.Inc()
				logger.Warn("request rate limited",
					zap.String("user_id", userID.String()),
					zap.Int64("count", count))
				w.Header().Set("Retry-After", strconv.Itoa(int(cfg.Window.Seconds())))
				sendError(w, http.StatusTooManyRequests, "rate_limited", "too many requests, slow down")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
