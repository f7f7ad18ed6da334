// Package api exposes the REST and SSE surface: inbound messages, graph and
// bot management, session inspection, and credential administration.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/parleyhq/parley/internal/engine"
	"github.com/parleyhq/parley/internal/graph"
	"github.com/parleyhq/parley/internal/secrets"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/streaming"
)

// MessageProcessor runs one conversation turn. Satisfied by *engine.Engine.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, req engine.Request) (*engine.Reply, error)
}

// Deps holds the server's collaborators. Vault may be nil when credential
// management is disabled.
type Deps struct {
	Store     store.Store
	Engine    MessageProcessor
	Validator *graph.Validator
	Hub       streaming.EventHub
	Vault     secrets.Vault
	Logger    *slog.Logger
}

// Server serves the public HTTP API.
type Server struct {
	deps Deps
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{deps: deps}
}

// Handler returns the HTTP handler for all API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Conversation.
	mux.HandleFunc("POST /v1/messages", s.handleMessage)

	// Graphs.
	mux.HandleFunc("POST /v1/graphs", s.handleCreateGraph)
	mux.HandleFunc("GET /v1/graphs", s.handleListGraphs)
	mux.HandleFunc("GET /v1/graphs/{id}", s.handleGetGraph)
	mux.HandleFunc("DELETE /v1/graphs/{id}", s.handleDeleteGraph)
	mux.HandleFunc("POST /v1/graphs/validate", s.handleValidateGraph)

	// Bots.
	mux.HandleFunc("POST /v1/bots", s.handleRegisterBot)
	mux.HandleFunc("GET /v1/bots", s.handleListBots)
	mux.HandleFunc("GET /v1/bots/{id}", s.handleGetBot)

	// Sessions.
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("GET /v1/sessions/{id}/messages", s.handleListSessionMessages)
	mux.HandleFunc("GET /v1/sessions/{id}/evaluations", s.handleListGoalEvaluations)
	mux.HandleFunc("GET /v1/sessions/{id}/events", s.handleSessionEvents)

	// Per-organization credentials.
	mux.HandleFunc("PUT /v1/orgs/{id}/credentials", s.handlePutCredentials)
	mux.HandleFunc("DELETE /v1/orgs/{id}/credentials", s.handleDeleteCredentials)

	return s.withRequestLog(mux)
}

// withRequestLog logs each request with its duration.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.deps.Logger.DebugContext(r.Context(), "http request",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start).String())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
