package httpapi

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatbi-labs/queryassist/internal/circuitbreaker"
	"github.com/chatbi-labs/queryassist/internal/metrics"
)

// requestIDMiddleware tags every request with an id for log correlation,
// honoring one supplied by an upstream proxy.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := r.URL.Path
		metrics.RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
		metrics.RequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	})
}

// RateLimiter is a fixed-window per-client limiter on Redis. When Redis is
// unreachable it fails open: limiting is a shield, not a dependency.
type RateLimiter struct {
	rdb       *circuitbreaker.RedisWrapper
	perMinute int
	logger    *zap.Logger
}

// NewRateLimiter creates a limiter allowing perMinute requests per client.
func NewRateLimiter(rdb *circuitbreaker.RedisWrapper, perMinute int, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if perMinute <= 0 {
		perMinute = 120
	}
	return &RateLimiter{rdb: rdb, perMinute: perMinute, logger: logger}
}

// Middleware enforces the limit.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientKey(r)
		window := time.Now().Unix() / 60
		key := fmt.Sprintf("ratelimit:%s:%d", client, window)

		count, err := rl.rdb.Incr(r.Context(), key).Result()
		if err != nil {
			rl.logger.Warn("rate limiter unavailable, allowing request", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if count == 1 {
			if err := rl.rdb.Expire(r.Context(), key, 2*time.Minute).Err(); err != nil {
				rl.logger.Warn("rate limit window expire failed", zap.Error(err))
			}
		}

		remaining := int64(rl.perMinute) - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.perMinute))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(rl.perMinute) {
			metrics.RateLimitExceeded.Inc()
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
