// Package middleware holds the HTTP middleware chain: request logging,
// panic recovery, shared-secret auth for operator surfaces and the
// standard security headers.
package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/patronhq/payment-service/internal/domain/ports"
	"github.com/patronhq/payment-service/pkg/observability"
)

// Chain applies middlewares outermost-first.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// statusRecorder captures the response status for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// RequestLogger logs one line per request and feeds the HTTP metrics.
func RequestLogger(logger ports.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			elapsed := time.Since(start)
			// Route pattern keeps the metric cardinality bounded.
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			observability.RecordHTTPRequest(r.Method, route, rec.status, elapsed)
			logger.Info("http request",
				ports.String("method", r.Method),
				ports.String("path", r.URL.Path),
				ports.Int("status", rec.status),
				ports.Duration("elapsed", elapsed),
				ports.String("remote_addr", r.RemoteAddr))
		})
	}
}

// Recover converts handler panics into a 500 instead of killing the
// connection.
func Recover(logger ports.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("handler panic",
						ports.String("path", r.URL.Path),
						ports.Any("panic", rec),
						ports.String("stack", string(debug.Stack())))
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": "internal error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// SecretAuth guards operator endpoints with a shared secret, accepted
// either as the named header or as a Bearer token. An empty configured
// secret disables the surface entirely rather than leaving it open.
func SecretAuth(headerName, secret string, logger ports.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" || !authenticated(r, headerName, secret) {
				logger.Warn("unauthorized operator request",
					ports.String("path", r.URL.Path),
					ports.String("remote_addr", r.RemoteAddr))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func authenticated(r *http.Request, headerName, secret string) bool {
	if equal(r.Header.Get(headerName), secret) {
		return true
	}
	return equal(r.Header.Get("Authorization"), "Bearer "+secret)
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// SecurityHeaders sets the standard protective headers. The service is
// a JSON API, so the policy blocks everything browser-facing.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}
