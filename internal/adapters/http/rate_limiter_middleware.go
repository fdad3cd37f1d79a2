package http

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"musicstream-payments/internal/core/ports"
)

// RateLimiterMiddleware throttles requests per client IP using the Redis
// fixed-window counter behind the RateLimiterRepository port.
type RateLimiterMiddleware struct {
	repo   ports.RateLimiterRepository
	logger *slog.Logger
	limit  int
	window time.Duration
}

func NewRateLimiterMiddleware(repo ports.RateLimiterRepository, logger *slog.Logger, limit int, window time.Duration) *RateLimiterMiddleware {
	return &RateLimiterMiddleware{
		repo:   repo,
		logger: logger,
		limit:  limit,
		window: window,
	}
}

func (m *RateLimiterMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			m.logger.Error("failed to extract client IP", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		allowed, err := m.repo.IsAllowed(r.Context(), ip, m.limit, m.window)
		if err != nil {
			// Fail open on limiter errors.
			m.logger.Error("rate limit check failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			writeJSONError(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}
