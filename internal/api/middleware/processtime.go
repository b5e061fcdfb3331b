package middleware

import (
	"net/http"
	"strconv"
	"time"
)

// ProcessTime stamps every response with an X-Process-Time header holding the
// elapsed handling time in seconds as a decimal float.
func ProcessTime(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &headerWriter{
			ResponseWriter: w,
			inject: func(h http.Header) {
				elapsed := time.Since(start).Seconds()
				h.Set("X-Process-Time", strconv.FormatFloat(elapsed, 'f', -1, 64))
			},
		}

		next.ServeHTTP(wrapped, r)
	})
}
