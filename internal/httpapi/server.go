// Package httpapi exposes the engine over JSON HTTP under /api/v1.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/chatbi-labs/queryassist/internal/health"
	"github.com/chatbi-labs/queryassist/internal/orchestrator"
)

// Server holds the router and its dependencies.
type Server struct {
	svc     *orchestrator.Service
	health  *health.Manager
	limiter *RateLimiter
	logger  *zap.Logger
	router  *mux.Router
	version string
}

// NewServer builds the API server; limiter may be nil to disable limiting.
func NewServer(svc *orchestrator.Service, hm *health.Manager, limiter *RateLimiter, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		svc:     svc,
		health:  hm,
		limiter: limiter,
		logger:  logger,
		version: version,
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.metricsMiddleware)
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}

	r.HandleFunc("/", s.handleInfo).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/autocomplete", s.handleAutocomplete).Methods(http.MethodPost)
	api.HandleFunc("/similar-queries", s.handleSimilarQueries).Methods(http.MethodPost)
	api.HandleFunc("/related-queries", s.handleRelatedQueries).Methods(http.MethodPost)
	api.HandleFunc("/feedback", s.handleFeedback).Methods(http.MethodPost)
	api.HandleFunc("/documents", s.handleAddDocument).Methods(http.MethodPost)
	api.HandleFunc("/documents/bulk", s.handleBulkAddDocuments).Methods(http.MethodPost)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	return r
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "queryassist",
		"version": s.version,
		"status":  "running",
		"endpoints": []string{
			"POST /api/v1/autocomplete",
			"POST /api/v1/similar-queries",
			"POST /api/v1/related-queries",
			"POST /api/v1/feedback",
			"POST /api/v1/documents",
			"POST /api/v1/documents/bulk",
			"GET /api/v1/health",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.health.Check(r.Context())
	status := "healthy"
	if !st.Healthy {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":             status,
		"lexical_connected":  st.Components["lexical"],
		"vector_connected":   st.Components["vector"],
		"behavior_connected": st.Components["behavior"],
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// NewHTTPServer wraps the handler in an http.Server with sane timeouts.
func NewHTTPServer(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration) *http.Server {
	if readTimeout == 0 {
		readTimeout = 10 * time.Second
	}
	if writeTimeout == 0 {
		writeTimeout = 10 * time.Second
	}
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
}
