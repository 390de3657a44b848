package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/TriMatrix-Network/matrix_layer/internal/middleware"
)

// openPaths bypass authentication so probes and scrapers work unauthenticated.
var openPaths = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

// WrapWithAuth guards the API with static bearer tokens, falling back to the
// JWT middleware when one is supplied. With neither configured the API is
// open.
func WrapWithAuth(next http.Handler, tokens []string, jwtAuth *middleware.AuthMiddleware) http.Handler {
	allowed := make(map[string]bool, len(tokens))
	for _, token := range tokens {
		if trimmed := strings.TrimSpace(token); trimmed != "" {
			allowed[trimmed] = true
		}
	}
	if len(allowed) == 0 && jwtAuth == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if openPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		if len(allowed) > 0 {
			header := r.Header.Get("Authorization")
			if token, ok := strings.CutPrefix(header, "Bearer "); ok && allowed[strings.TrimSpace(token)] {
				next.ServeHTTP(w, r)
				return
			}
		}
		if jwtAuth != nil {
			jwtAuth.Handler(next).ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
	})
}

// WrapWithAudit records every handled request in the audit log.
func WrapWithAudit(next http.Handler, audit *auditLog) http.Handler {
	if audit == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		audit.add(AuditEntry{
			Time:       time.Now().UTC(),
			Path:       r.URL.Path,
			Method:     r.Method,
			Status:     rec.status,
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
