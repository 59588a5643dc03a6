// Package api provides HTTP handlers and routing for the reference pipeline
// service that graph editors talk to.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server holds the HTTP handlers and dependencies.
type Server struct {
	router   *mux.Router
	handlers *Handlers
}

// NewServer creates a new API server with the given handlers.
func NewServer(h *Handlers) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		handlers: h,
	}
	s.setupRoutes()
	return s
}

// Router returns the configured router for use with http.Server.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	// Health endpoints
	s.router.HandleFunc("/health", s.handlers.Health).Methods("GET")
	s.router.HandleFunc("/healthz", s.handlers.Health).Methods("GET")
	s.router.HandleFunc("/ready", s.handlers.Ready).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// API routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Pipelines
	api.HandleFunc("/pipelines", s.handlers.CreatePipeline).Methods("POST")
	api.HandleFunc("/pipelines", s.handlers.ListPipelines).Methods("GET")
	api.HandleFunc("/pipelines/{uuid}", s.handlers.GetPipeline).Methods("GET")
	api.HandleFunc("/pipelines/{uuid}", s.handlers.DeletePipeline).Methods("DELETE")

	// Nodes
	api.HandleFunc("/pipelines/{uuid}/nodes", s.handlers.CreateNode).Methods("POST")
	api.HandleFunc("/pipelines/{uuid}/nodes/{node}", s.handlers.GetNode).Methods("GET")
	api.HandleFunc("/pipelines/{uuid}/nodes/{node}", s.handlers.UpdateNode).Methods("PATCH")
	api.HandleFunc("/pipelines/{uuid}/nodes/{node}", s.handlers.DeleteNode).Methods("DELETE")
	api.HandleFunc("/pipelines/{uuid}/nodes/{node}/execute", s.handlers.ExecuteNode).Methods("POST")

	// Connections
	api.HandleFunc("/pipelines/{uuid}/connections", s.handlers.Connect).Methods("POST")
	api.HandleFunc("/pipelines/{uuid}/connections", s.handlers.Disconnect).Methods("DELETE")

	// Saved arrangements
	if s.handlers.positions != nil {
		api.HandleFunc("/pipelines/{uuid}/positions", s.handlers.GetPositions).Methods("GET")
		api.HandleFunc("/pipelines/{uuid}/positions", s.handlers.PutPositions).Methods("PUT")
	}

	// Node type catalogue
	api.HandleFunc("/node-types", s.handlers.ListNodeTypes).Methods("GET")
	api.HandleFunc("/node-types/{type}/validate", s.handlers.ValidateNodeInput).Methods("POST")

	// Preflight for every path
	s.router.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Apply middleware
	cfg := s.handlers.config
	s.router.Use(NewTracingMiddleware(cfg.TracingEnabled).Middleware)
	s.router.Use(s.handlers.CORSMiddleware)
	s.router.Use(s.handlers.LoggingMiddleware)
	if cfg.RateLimitRPS > 0 {
		s.router.Use(NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).Handler)
	}
	s.router.Use(s.handlers.RecoveryMiddleware)
}
