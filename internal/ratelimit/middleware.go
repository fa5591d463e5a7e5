package ratelimit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Middleware returns an HTTP middleware that bounds the rate of op per
// client IP. The counter key is "{op}:{ip}".
//
// Rate-limit headers are always set on the response:
//
//	X-RateLimit-Limit     — maximum requests allowed in the window
//	X-RateLimit-Remaining — requests remaining in the current window
//	X-RateLimit-Reset     — Unix timestamp when the window ends
//
// When the limit is exceeded the middleware responds with HTTP 429, a
// Retry-After header, and a JSON error body. A failing limiter backend
// fails open: blocking all traffic on a counter outage is worse than
// briefly losing abuse deterrence.
func Middleware(limiter Limiter, op string, limit int, window time.Duration, onReject ...func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := fmt.Sprintf("%s:%s", op, clientIP(r))

			d, err := limiter.Allow(r.Context(), key, limit, window)
			if err != nil {
				slog.Error("rate limiter unavailable", "op", op, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.ResetAt.IsZero() {
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			}

			if !d.Allowed {
				for _, fn := range onReject {
					fn()
				}
				retryAfter := int64(d.RetryAfter(time.Now()).Seconds())
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"error": map[string]string{
						"code":    "rate_limited",
						"message": "Rate limit exceeded. Try again later.",
					},
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP resolves the counter key for a request. Only the last hop of
// X-Forwarded-For is used: that is the one appended by our own proxy, and
// everything before it is client-controlled. Falls back to the socket
// address when no proxy is in front.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		hops := strings.Split(fwd, ",")
		return strings.TrimSpace(hops[len(hops)-1])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
