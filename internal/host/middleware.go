// HTTP middleware for the plugin host.
//
// DESIGN: Middleware chain (applied in order):
//  1. panicRecovery: Catch panics, return 500, log stack trace
//  2. logging:       Request ID + structured request/response logging
//  3. security:      Security headers
//  4. frame:         Establish the ambient context frame for the request
//
// The frame middleware is innermost so every handler, and every hook
// handler fired beneath it, sees the request's frame.
package host

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/forumkit/pluginhost/internal/monitoring"
	"github.com/forumkit/pluginhost/internal/reqctx"
)

// HeaderRequestID carries the request id back to the client.
const HeaderRequestID = "X-Request-ID"

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader captures the status code before writing it.
func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Unwrap exposes the underlying writer so optional interfaces such as
// http.Hijacker remain reachable through http.ResponseController-style
// unwrapping (required for websocket upgrades).
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Flush implements http.Flusher to support streaming responses.
func (w *responseWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// logging assigns a request id and logs request details with timing.
func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(HeaderRequestID, requestID)

		ctx := monitoring.WithRequestIDContext(r.Context(), requestID)
		r = r.WithContext(ctx)

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		log.Info().
			Str("id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// panicRecovery recovers from panics and returns a 500 error. Panics
// inside hook handlers never reach here; the dispatcher contains those.
func (s *Server) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().Interface("panic", err).
					Str("stack", string(debug.Stack())).
					Str("id", monitoring.RequestIDFromContext(r.Context())).
					Msg("panic")
				s.writeError(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// security adds security headers.
func (s *Server) security(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// frame establishes the request's ambient context frame for its entire
// processing, including any hook handlers fired beneath it. The frame is
// torn down with the request; concurrent requests never see each other's.
func (s *Server) frame(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := reqctx.With(r.Context(), reqctx.Frame{
			HTTP: &reqctx.HTTPContext{Req: r, Res: w},
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
