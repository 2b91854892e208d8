// Package ratelimit implements a fixed window request limiter keyed by
// client IP.
package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

// DefaultMessage is returned to clients that exceeded their allowance.
const DefaultMessage = "Too many requests from this IP, please try again in an hour!"

// Store counts hits per key within a window.
type Store interface {
	// Hit records one request and returns the count in the current window
	// and the time until the window resets.
	Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// Limiter rejects clients that send more than max requests per window.
type Limiter struct {
	store   Store
	max     int64
	window  time.Duration
	message string
}

func New(store Store, max int, window time.Duration) *Limiter {
	return &Limiter{store: store, max: int64(max), window: window, message: DefaultMessage}
}

// Middleware enforces the limit. A max of zero disables limiting. Store
// failures let the request through.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.max <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		count, reset, err := l.store.Hit(r.Context(), "ratelimit:"+clientIP(r), l.window)
		if err != nil {
			slog.WarnContext(r.Context(), "rate limit store unavailable", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := l.max - count
		if remaining < 0 {
			remaining = 0
		}
		h := w.Header()
		h.Set("RateLimit-Limit", strconv.FormatInt(l.max, 10))
		h.Set("RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		h.Set("RateLimit-Reset", strconv.Itoa(int(reset.Round(time.Second).Seconds())))

		if count > l.max {
			h.Set("Retry-After", strconv.Itoa(int(reset.Round(time.Second).Seconds())))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "fail", "message": l.message})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP expects RemoteAddr to already reflect proxy headers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
