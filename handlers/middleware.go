package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"crispy/utils"

	"github.com/go-chi/chi/v5/middleware"
)

// NewStructuredLogger logs one line per request through slog.
func NewStructuredLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				level := slog.LevelInfo
				if status >= http.StatusInternalServerError {
					level = slog.LevelError
				}
				logger.Log(r.Context(), level, "Request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", status,
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start).String(),
					"request_id", middleware.GetReqID(r.Context()),
					"remote_addr", r.RemoteAddr,
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// RequireAdmin rejects requests that do not present the configured admin secret.
func RequireAdmin(app App) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !app.Admin().Verify(utils.AdminCredential(r)) {
				app.Logger().Warn("Rejected unauthorized admin request", "method", r.Method, "path", r.URL.Path, "ip", utils.GetIPAddress(r))
				respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"}, app)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit applies the per-IP limiter to write endpoints.
func RateLimit(app App) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := utils.GetIPAddress(r)
			if !app.RateLimiter().GetLimiter(ip).Allow() {
				app.Logger().Warn("Rate limit exceeded", "ip", ip, "path", r.URL.Path)
				respondJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Rate limit exceeded. Please wait a moment."}, app)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
