// Package shield provides the HTTP middleware applied to relwatch's
// read-only status surface: security headers, HEAD handling, request IDs
// with a per-request logger, and panic recovery.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.StatusStack(logger) {
//	    r.Use(mw)
//	}
package shield

import (
	"log/slog"
	"net/http"
)

type contextKey string

const (
	// LoggerKey is the context key for the per-request structured logger.
	LoggerKey contextKey = "shield_logger"

	// RequestIDKey is the context key for the request ID.
	RequestIDKey contextKey = "shield_request_id"
)

// StatusStack returns the middleware stack for the status server, ordered
// Recover → HeadToGet → SecurityHeaders → RequestID.
func StatusStack(logger *slog.Logger) []func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return []func(http.Handler) http.Handler{
		Recover(logger),
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		RequestID(logger),
	}
}
