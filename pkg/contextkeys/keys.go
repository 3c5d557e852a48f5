// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application are defined here so that
// producers and consumers agree on one key and one value type.
//
//	ctx = contextkeys.WithSession(ctx, session)
//	session := contextkeys.GetSession(ctx)
package contextkeys

import (
	"context"

	"github.com/platinummonkey/entitle/pkg/auth"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// SessionKey contains *auth.Session
	// Set by: middleware.SessionMiddleware
	// Required by: every authenticated endpoint
	SessionKey Key = "session"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: middleware.RequestID
	// Used by: logger, error responses
	RequestIDKey Key = "request_id"

	// UserIDKey contains the caller's user ID string
	// Set by: middleware.SessionMiddleware
	// Used by: logger
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	// Set by: middleware.RequestLogger
	LoggerKey Key = "logger"
)

// WithSession adds the verified session to the context
func WithSession(ctx context.Context, session *auth.Session) context.Context {
	ctx = context.WithValue(ctx, SessionKey, session)
	if session != nil {
		ctx = WithUserID(ctx, session.UserID)
	}
	return ctx
}

// GetSession returns the verified session, or nil for anonymous callers
func GetSession(ctx context.Context) *auth.Session {
	session, _ := ctx.Value(SessionKey).(*auth.Session)
	return session
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	requestID, _ := ctx.Value(RequestIDKey).(string)
	return requestID
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID retrieves the user ID from context
func GetUserID(ctx context.Context) string {
	userID, _ := ctx.Value(UserIDKey).(string)
	return userID
}
