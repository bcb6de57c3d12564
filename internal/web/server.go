// Package web provides the HTTP server and handlers for the file ingestion API.
package web

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/parsekit/fileparser/internal/auth"
	"github.com/parsekit/fileparser/internal/config"
	"github.com/parsekit/fileparser/internal/ingest"
	"github.com/parsekit/fileparser/internal/notify"
	mw "github.com/parsekit/fileparser/internal/web/middleware"
)

// Server is the HTTP server for the file ingestion API.
type Server struct {
	service *ingest.Service
	store   ingest.Store
	users   auth.UserStore
	tokens  *auth.Manager
	hub     *notify.Hub
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server
}

// NewServer creates a new Server instance.
func NewServer(service *ingest.Service, store ingest.Store, users auth.UserStore, tokens *auth.Manager, hub *notify.Hub, cfg *config.Config) *Server {
	s := &Server{
		service: service,
		store:   store,
		users:   users,
		tokens:  tokens,
		hub:     hub,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)

	// Security hardening
	s.router.Use(securityHeaders)

	s.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}).Handler)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	requireAuth := mw.RequireAuth(s.tokens)

	s.router.Route("/auth", func(r chi.Router) {
		r.Post("/signup", s.handleSignup)
		r.Post("/login", s.handleLogin)
	})

	s.router.Route("/files", func(r chi.Router) {
		// Mutations require a valid bearer token
		r.With(requireAuth).Post("/", s.handleUpload)
		r.With(requireAuth).Delete("/{fileID}", s.handleDeleteFile)

		r.Get("/", s.handleListFiles)
		r.Get("/{fileID}/progress", s.handleProgress)
		r.Get("/{fileID}", s.handleContent)
		r.Get("/{fileID}/events", s.handleEvents)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout, // zero keeps SSE streams open
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent MIME type sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		// Control referrer information
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}
