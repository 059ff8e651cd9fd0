// Package server exposes the HTTP surface: the gateway webhook, the
// operator dashboard API, and the health check.
package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/tesivil/crmbot/internal/config"
	"github.com/tesivil/crmbot/internal/database"
	"github.com/tesivil/crmbot/internal/gemini"
	"github.com/tesivil/crmbot/internal/ingest"
	"github.com/tesivil/crmbot/internal/logger"
	"github.com/tesivil/crmbot/internal/whatsapp"
)

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	store     database.Store
	processor *ingest.Processor
	oracle    gemini.Client
	sender    whatsapp.Sender
	log       *slog.Logger
	cfg       config.ServerConfig
}

// New creates the HTTP server component.
func New(store database.Store, processor *ingest.Processor, oracle gemini.Client, sender whatsapp.Sender, cfg config.ServerConfig, log *slog.Logger) *Server {
	return &Server{
		store:     store,
		processor: processor,
		oracle:    oracle,
		sender:    sender,
		log:       log.With("component", "server"),
		cfg:       cfg,
	}
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(logger.Middleware(s.log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "x-app-key"},
		MaxAge:         300,
	}))
	r.Use(httprate.LimitByIP(s.cfg.RateLimit, time.Minute))

	r.Get("/health", s.handleHealth)

	// The gateway retries on non-200, so the webhook accepts everything.
	r.Post("/webhook", s.handleWebhook)
	r.Post("/api/webhook", s.handleWebhook)

	r.Route("/api/conversations", func(r chi.Router) {
		r.Use(s.requireAppKey)

		r.Get("/", s.handleListConversations)
		r.Post("/by-phone", s.handleGetOrCreateByPhone)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/messages", s.handleGetHistory)
			r.Post("/messages", s.handleSendManual)
			r.Patch("/status", s.handleUpdateStatus)
			r.Get("/tech-view", s.handleTechView)
		})
	})

	return r
}

// requireAppKey guards the dashboard API with the shared application key.
func (s *Server) requireAppKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("x-app-key")
		if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.APIKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing app key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "ERROR", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "OK",
		"server_time": time.Now().UTC().Format(time.RFC3339),
	})
}
