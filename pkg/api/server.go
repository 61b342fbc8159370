package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/CatfishW/ping-agaii-org/pkg/httputil"
	"github.com/CatfishW/ping-agaii-org/pkg/observability"
)

// RouteRegistrar is implemented by every handler group.
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// ServerOptions configures the middleware stack.
type ServerOptions struct {
	Logger         *observability.Logger
	Metrics        *observability.Metrics
	Registry       *prometheus.Registry
	Health         *observability.HealthChecker
	CORSOrigins    []string
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	Tracing        bool
	ServiceName    string
}

// Server is the HTTP entry point of the platform.
type Server struct {
	router  *mux.Router
	handler http.Handler
}

// NewServer builds the router, mounts the ops routes and every handler
// group, and wraps the result in the middleware stack.
func NewServer(opts ServerOptions, groups ...RouteRegistrar) *Server {
	router := mux.NewRouter()

	if opts.Health != nil {
		router.HandleFunc("/healthz", opts.Health.Liveness).Methods("GET")
		router.HandleFunc("/readyz", opts.Health.Readiness).Methods("GET")
	}
	if opts.Registry != nil {
		router.Handle("/metrics", observability.MetricsHandler(opts.Registry)).Methods("GET")
	}

	for _, group := range groups {
		group.RegisterRoutes(router)
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "Not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	// The metrics middleware runs inside the router so route templates
	// are available for labels.
	if opts.Metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(opts.Metrics))
	}

	logger := opts.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	middlewares := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware(logger),
		httputil.LoggingMiddleware,
		httputil.RecoveryMiddleware,
		httputil.CORSMiddleware(opts.CORSOrigins),
	}
	if opts.MaxBodyBytes > 0 {
		middlewares = append(middlewares, httputil.MaxBytesMiddleware(opts.MaxBodyBytes))
	}
	if opts.RequestTimeout > 0 {
		middlewares = append(middlewares, httputil.TimeoutMiddleware(opts.RequestTimeout))
	}

	handler := httputil.Chain(middlewares...)(router)
	if opts.Tracing {
		name := opts.ServiceName
		if name == "" {
			name = "ping-api"
		}
		handler = otelhttp.NewHandler(handler, name)
	}

	return &Server{router: router, handler: handler}
}

// Router exposes the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
