package middleware

import (
	"net/http"
	"time"
)

type RequestObserver interface {
	ObserveRequest(method, route string, status int, d time.Duration)
}

// Metrics records request durations labelled by the matched route pattern.
// It must wrap the ServeMux directly so the pattern is set when it reads it.
func Metrics(obs RequestObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			obs.ObserveRequest(r.Method, route, rec.status, time.Since(start))
		})
	}
}
