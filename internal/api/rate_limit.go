package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelframe/internal/ratelimit"
)

// RateLimiter spends cost tokens from subject's bucket.
type RateLimiter interface {
	Allow(ctx context.Context, subject string, cost int64) (ratelimit.Decision, error)
}

// Request costs in tokens. Rasterizing a full export is far heavier than
// applying a batch of gestures.
const (
	costDefault     = 1
	costUpload      = 3
	costAsyncExport = 5
	costExport      = 10
)

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !shouldRateLimit(r) {
			next.ServeHTTP(w, r)
			return
		}

		subject := rateLimitSubject(r, s.rateLimitUserIDHeader)
		subject = subject + ":" + routeLabel(r.URL.Path)

		decision, err := s.rateLimiter.Allow(r.Context(), subject, requestCost(r))
		if err != nil {
			s.logger.Printf("rate limiter check failed for subject=%s err=%v", subject, err)
			next.ServeHTTP(w, r)
			return
		}

		if decision.Limit > 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if decision.ResetAfter > 0 {
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(ceilSeconds(decision.ResetAfter), 10))
		}
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := max(1, int(decision.RetryAfter.Round(time.Second).Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		s.metrics.rateLimitRejected.WithLabelValues(routeLabel(r.URL.Path)).Inc()
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "rate limit exceeded",
		})
	})
}

func ceilSeconds(d time.Duration) int64 {
	return int64((d + time.Second - 1) / time.Second)
}

// shouldRateLimit covers session mutations and synchronous renders.
func shouldRateLimit(r *http.Request) bool {
	if !strings.HasPrefix(r.URL.Path, "/v1/sessions") {
		return false
	}
	if r.Method == http.MethodGet {
		return strings.Contains(r.URL.Path, "/export/")
	}
	return true
}

func requestCost(r *http.Request) int64 {
	switch {
	case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/export/"):
		return costExport
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/exports"):
		return costAsyncExport
	case r.Method == http.MethodPut && strings.HasSuffix(r.URL.Path, "/photo"):
		return costUpload
	default:
		return costDefault
	}
}

func rateLimitSubject(r *http.Request, header string) string {
	if subject := strings.TrimSpace(r.Header.Get(header)); subject != "" {
		return subject
	}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) >= 3 && parts[1] == "sessions" {
		return "session:" + parts[2]
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return "addr:" + host
	}
	return "anonymous"
}
