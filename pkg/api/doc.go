// Package api is the HTTP layer of the PING platform.
//
// # Overview
//
// Handlers are grouped by domain. Each group implements RouteRegistrar and
// is mounted on a gorilla/mux router by NewServer:
//
//   - AuthHandlers: registration, login, guest sessions and consent
//   - DashboardHandlers: the admin overview, account sync and app registry
//   - ClassHandlers: class management, join codes and invitations
//   - TelemetryHandlers: event ingestion and the admin session export
//
// NewServer also mounts /healthz, /readyz and /metrics and wraps the router
// in request id, logging, recovery, CORS, body size and timeout middleware.
//
//	server := api.NewServer(api.ServerOptions{
//		Logger:   logger,
//		Metrics:  metrics,
//		Registry: registry,
//		Health:   health,
//	}, authHandlers, dashboardHandlers, classHandlers, telemetryHandlers)
//	http.ListenAndServe(":8000", server)
//
// # Errors
//
// Service errors are translated by writeError into {"error": "..."} bodies.
// Unknown errors are logged with the request id and answered with a 500
// whose body never carries the cause.
package api
