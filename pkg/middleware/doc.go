// Package middleware provides the authentication, role gating and rate
// limiting middleware for the API router.
//
//	authn := middleware.NewAuthenticator(creds, userStore, false)
//	admin := router.PathPrefix("/api/dashboard").Subrouter()
//	admin.Use(authn.Handler, middleware.RequireAdmin)
//
// RateLimiter keeps its counters in Redis; with no Redis client it admits
// every request.
package middleware
