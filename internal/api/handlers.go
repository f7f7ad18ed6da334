package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/engine"
	"github.com/parleyhq/parley/internal/secrets"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/pkg/schema"
)

// --- Conversation ---

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	reply, err := s.deps.Engine.ProcessMessage(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// --- Graphs ---

func (s *Server) handleCreateGraph(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		ID          string                 `json:"id"`
		Name        string                 `json:"name"`
		Description string                 `json:"description"`
		Definition  schema.GraphDefinition `json:"definition"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}

	result := s.deps.Validator.Validate(&body.Definition)
	if !result.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]any{"validation": result})
		return
	}

	if body.ID == "" {
		body.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	g := &store.Graph{
		ID:          body.ID,
		Name:        body.Name,
		Description: body.Description,
		Definition:  body.Definition,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.deps.Store.CreateGraph(ctx, g); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       g.ID,
		"warnings": result.Warnings,
	})
}

func (s *Server) handleListGraphs(w http.ResponseWriter, r *http.Request) {
	graphs, err := s.deps.Store.ListGraphs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"graphs": graphs})
}

func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	g, err := s.deps.Store.GetGraph(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleDeleteGraph(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteGraph(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleValidateGraph(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Definition schema.GraphDefinition `json:"definition"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Validator.Validate(&body.Definition))
}

// --- Bots ---

func (s *Server) handleRegisterBot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		ID      string                 `json:"id"`
		OrgID   string                 `json:"org_id"`
		Name    string                 `json:"name"`
		GraphID string                 `json:"graph_id"`
		Persona schema.BusinessContext `json:"persona"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.Name == "" || body.OrgID == "" || body.GraphID == "" {
		writeBadRequest(w, "name, org_id and graph_id are required")
		return
	}

	// The graph must exist before a bot can point at it.
	if _, err := s.deps.Store.GetGraph(ctx, body.GraphID); err != nil {
		writeError(w, err)
		return
	}

	if body.ID == "" {
		body.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	b := &store.Bot{
		ID:        body.ID,
		OrgID:     body.OrgID,
		Name:      body.Name,
		GraphID:   body.GraphID,
		Persona:   body.Persona,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.deps.Store.RegisterBot(ctx, b); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": b.ID})
}

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	bots, err := s.deps.Store.ListBots(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bots": bots})
}

func (s *Server) handleGetBot(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Store.GetBot(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// --- Sessions ---

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Store.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListSessionMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.deps.Store.ListMessages(r.Context(), r.PathValue("id"), 0)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleListGoalEvaluations(w http.ResponseWriter, r *http.Request) {
	evals, err := s.deps.Store.ListGoalEvaluations(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"evaluations": evals})
}

// --- Credentials ---

func (s *Server) handlePutCredentials(w http.ResponseWriter, r *http.Request) {
	if s.deps.Vault == nil {
		writeError(w, schema.NewError(schema.ErrCodeNotConfigured, "credential vault is not configured"))
		return
	}

	var creds secrets.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeBadRequest(w, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if err := s.deps.Vault.Put(r.Context(), r.PathValue("id"), &creds); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteCredentials(w http.ResponseWriter, r *http.Request) {
	if s.deps.Vault == nil {
		writeError(w, schema.NewError(schema.ErrCodeNotConfigured, "credential vault is not configured"))
		return
	}
	if err := s.deps.Vault.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
