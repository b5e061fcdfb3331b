package middleware

import (
	"net/http"
	"strconv"

	"github.com/phrazzld/forge-api/internal/api/shared"
	"github.com/phrazzld/forge-api/internal/ratelimit"
)

// QuotaReader reports the rate-limit state for an identity without charging.
type QuotaReader interface {
	Snapshot(identity string) ratelimit.Result
}

// RateLimitHeaders stamps X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset (unix seconds) on every response, gated endpoints and
// free ones alike. The snapshot is taken when the response is committed, so
// it reflects any quota charge the handler just made.
func RateLimitHeaders(quota QuotaReader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := shared.ClientIdentity(r)

			wrapped := &headerWriter{
				ResponseWriter: w,
				inject: func(h http.Header) {
					result := quota.Snapshot(identity)
					h.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
					h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
					h.Set("X-RateLimit-Reset", strconv.FormatInt(result.Reset.Unix(), 10))
				},
			}

			next.ServeHTTP(wrapped, r)
		})
	}
}
