// Package handler exposes the aggregator over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/aggregate"
	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/logging"
	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/pagination"
	"github.com/go-chi/chi/v5"
)

// Aggregator is the report builder behind the /api routes.
type Aggregator interface {
	Dashboard(ctx context.Context) (*aggregate.Report, error)
	CourseContent(ctx context.Context) (*aggregate.Report, error)
	CurrentTermGrades(ctx context.Context) (*aggregate.Report, error)
}

// Fetcher is the raw paginated fetch behind /api/fetch.
type Fetcher interface {
	Fetch(ctx context.Context, path string, opts pagination.Options) (pagination.Result, error)
}

// RouterDeps bundles the router dependencies.
type RouterDeps struct {
	Aggregator        Aggregator
	Fetcher           Fetcher
	CORSAllowedOrigin string

	// MaxPages caps /api/fetch requests (0 = fetcher default).
	MaxPages int

	// Ready reports readiness; nil means always ready.
	Ready func(ctx context.Context) error

	// Metrics serves /metrics; nil disables the route.
	Metrics http.Handler
}

// NewRouter builds the HTTP routes and middleware chain:
//
//	Recovery → RequestID → Logging → CORS → NoCache (API routes only)
func NewRouter(deps *RouterDeps) http.Handler {
	logger := logging.NewLogger(logging.ComponentHTTP)
	h := &Handler{deps: deps, logger: logger}

	r := chi.NewRouter()
	r.Use(NewRecoveryMiddleware(logger))
	r.Use(RequestIDMiddleware)
	r.Use(NewLoggingMiddleware(logger))
	r.Use(NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(NoCacheMiddleware)

		r.Get("/dashboard", h.Dashboard)
		r.Get("/courses/content", h.CourseContent)
		r.Get("/grades/current", h.CurrentTermGrades)
		r.Get("/fetch", h.Fetch)
	})

	return r
}
