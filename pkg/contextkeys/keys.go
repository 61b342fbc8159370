// Package contextkeys holds the context keys shared between the HTTP
// middleware and the handlers that read what the middleware stored.
//
//	ctx = contextkeys.WithAuth(ctx, authCtx)
//	authCtx, _ := ctx.Value(contextkeys.AuthKey).(*auth.AuthContext)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AuthKey contains *auth.AuthContext.
	// Set by middleware.Authenticator, read by every protected handler.
	AuthKey Key = "auth_context"

	// RateLimitKey contains the string the rate limiter bucketed the request under.
	RateLimitKey Key = "rate_limit_key"
)

// WithAuth adds authentication context to the context
func WithAuth(ctx context.Context, authCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthKey, authCtx)
}

// WithRateLimitKey records the bucket key chosen by the rate limiter.
func WithRateLimitKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, RateLimitKey, key)
}

// GetRateLimitKey returns the bucket key, or "" when the request was not limited.
func GetRateLimitKey(ctx context.Context) string {
	if key, ok := ctx.Value(RateLimitKey).(string); ok {
		return key
	}
	return ""
}
