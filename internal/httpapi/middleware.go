package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/internal/metrics"
)

type contextKey string

const userIDKey contextKey = "user_id"

// userIDFrom returns the authenticated user set by Identity.
func userIDFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok
}

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares right to left, so the first listed runs first.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// pathUserSegment extracts the user id segment from an /api/{userID}/...
// path. Every route under /api/ starts with the user id, so this works
// before route matching has happened.
func pathUserSegment(path string) string {
	rest, ok := strings.CutPrefix(path, "/api/")
	if !ok {
		return ""
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[:i]
	}
	return rest
}

// Identity authenticates the caller from the X-User-ID header. Token
// verification happens upstream; by the time a request reaches this service
// the header carries a verified identity. The user id segment of the path
// must match the header identity, otherwise the request is refused before
// any handler runs. The segment is read straight from the URL because this
// middleware wraps the whole /api/ subtree and runs before route matching.
func Identity(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("X-User-ID")
			if raw == "" {
				sendError(w, http.StatusUnauthorized, "unauthorized", "missing X-User-ID header")
				return
			}
			userID, err := uuid.Parse(raw)
			if err != nil {
				sendError(w, http.StatusUnauthorized, "unauthorized", "X-User-ID must be a valid UUID")
				return
			}

			if pathUser := pathUserSegment(r.URL.Path); pathUser != "" && pathUser != userID.String() {
				logger.Warn("user id mismatch",
					zap.String("path_user", pathUser),
					zap.String("header_user", userID.String()))
				sendError(w, http.StatusForbidden, "forbidden", "user ID in path does not match authenticated user")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// RequestLogger logs each request with its outcome and feeds the request
// counter.
func RequestLogger(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := r.Method + " " + r.URL.Path
			metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)))
		})
	}
}
