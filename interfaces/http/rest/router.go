// Package rest wires the HTTP surface of the memory engine.
package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/services"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/interfaces/http/rest/handlers"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/interfaces/http/rest/middleware"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/observability"
)

// Router builds the chi router over the engine.
type Router struct {
	engine    *services.Engine
	collector *observability.Collector
	logger    *zap.Logger
}

// NewRouter creates a router. The collector may be nil; metrics middleware
// and the /metrics endpoint are then omitted.
func NewRouter(engine *services.Engine, collector *observability.Collector, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{engine: engine, collector: collector, logger: logger}
}

// Setup configures all routes and middleware.
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger))
	if rt.collector != nil {
		router.Use(middleware.Metrics(rt.collector))
	}

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID", middleware.TenantHeader},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	router.Get("/healthz", rt.healthCheck)
	if rt.collector != nil {
		router.Method(http.MethodGet, "/metrics", rt.collector.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireTenant)

		memoryHandler := handlers.NewMemoryHandler(rt.engine, rt.collector, rt.logger)
		r.Route("/memories", func(r chi.Router) {
			r.Post("/", memoryHandler.Store)
			r.Post("/query", memoryHandler.Query)
			r.Get("/stats", memoryHandler.Stats)
		})

		adminHandler := handlers.NewAdminHandler(rt.engine, rt.collector, rt.logger)
		r.Delete("/tenants/{tenantID}", adminHandler.DeleteTenant)
		r.Route("/maintenance", func(r chi.Router) {
			r.Post("/consolidate", adminHandler.Consolidate)
			r.Post("/reflect", adminHandler.Reflect)
			r.Post("/erase", adminHandler.EraseUser)
		})
	})

	return router
}

func (rt *Router) healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}
