package services

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/prepdeck/coach/models"
	"github.com/prepdeck/coach/repository"
)

type SessionEndpoints struct {
	engine *SessionEngine
	store  repository.Store
}

func NewSessionEndpoints(engine *SessionEngine, store repository.Store) *SessionEndpoints {
	return &SessionEndpoints{
		engine: engine,
		store:  store,
	}
}

type CreateSessionResponse struct {
	Session *models.Session `json:"session"`
	Message string          `json:"message"`
}

type GetSessionsResponse struct {
	Sessions []models.Session `json:"sessions"`
	Count    int              `json:"count"`
}

func (e *SessionEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", e.CreateSessionHandler)
		r.Get("/", e.GetSessionsHandler)
		r.Get("/{id}", e.GetSessionHandler)
		r.Post("/{id}/activate", e.ActivateSessionHandler)
		r.Post("/{id}/pause", e.PauseSessionHandler)
		r.Post("/{id}/resume", e.ResumeSessionHandler)
		r.Post("/{id}/complete", e.CompleteSessionHandler)
		r.Get("/{id}/summary", e.GetSummaryHandler)
	})
}

func (e *SessionEndpoints) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	session, err := e.engine.CreateSession(r.Context(), user.ID, req)
	if err != nil {
		slog.Error("Failed to create session", "error", err, "user_id", user.ID)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateSessionResponse{
		Session: session,
		Message: "Session created successfully",
	})
}

func (e *SessionEndpoints) GetSessionsHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	sessions, err := e.store.GetSessionsByOwner(r.Context(), user.ID)
	if err != nil {
		slog.Error("Failed to get sessions", "error", err, "user_id", user.ID)
		http.Error(w, "Failed to get sessions", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(GetSessionsResponse{
		Sessions: sessions,
		Count:    len(sessions),
	})
}

func (e *SessionEndpoints) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	user, sessionID, ok := e.requireSession(w, r)
	if !ok {
		return
	}

	session, err := e.engine.GetSession(r.Context(), sessionID, user.ID)
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	questions, err := e.store.GetQuestions(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to get questions", "error", err, "session_id", sessionID)
		http.Error(w, "Failed to load session", http.StatusInternalServerError)
		return
	}
	evaluations, err := e.store.GetEvaluations(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to get evaluations", "error", err, "session_id", sessionID)
		http.Error(w, "Failed to load session", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"session":     session,
		"questions":   questions,
		"evaluations": evaluations,
	})
}

func (e *SessionEndpoints) ActivateSessionHandler(w http.ResponseWriter, r *http.Request) {
	user, sessionID, ok := e.requireSession(w, r)
	if !ok {
		return
	}

	session, question, err := e.engine.Activate(r.Context(), sessionID, user.ID)
	if err != nil {
		writeEngineError(w, err, sessionID, "activate")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"session":  session,
		"question": question,
	})
}

func (e *SessionEndpoints) PauseSessionHandler(w http.ResponseWriter, r *http.Request) {
	user, sessionID, ok := e.requireSession(w, r)
	if !ok {
		return
	}

	session, err := e.engine.Pause(r.Context(), sessionID, user.ID)
	if err != nil {
		writeEngineError(w, err, sessionID, "pause")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"session": session})
}

func (e *SessionEndpoints) ResumeSessionHandler(w http.ResponseWriter, r *http.Request) {
	user, sessionID, ok := e.requireSession(w, r)
	if !ok {
		return
	}

	session, err := e.engine.Resume(r.Context(), sessionID, user.ID)
	if err != nil {
		writeEngineError(w, err, sessionID, "resume")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"session": session})
}

func (e *SessionEndpoints) CompleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	user, sessionID, ok := e.requireSession(w, r)
	if !ok {
		return
	}

	summary, err := e.engine.Complete(r.Context(), sessionID, user.ID)
	if err != nil {
		writeEngineError(w, err, sessionID, "complete")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"summary": summary})
}

func (e *SessionEndpoints) GetSummaryHandler(w http.ResponseWriter, r *http.Request) {
	user, sessionID, ok := e.requireSession(w, r)
	if !ok {
		return
	}

	session, err := e.engine.GetSession(r.Context(), sessionID, user.ID)
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	summary, err := e.engine.Summary(r.Context(), session)
	if err != nil {
		slog.Error("Failed to build session summary", "error", err, "session_id", sessionID)
		http.Error(w, "Failed to build summary", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"summary": summary})
}

// requireSession extracts the authenticated user and session ID, writing an
// error response when either is missing.
func (e *SessionEndpoints) requireSession(w http.ResponseWriter, r *http.Request) (*models.User, string, bool) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return nil, "", false
	}

	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		http.Error(w, "Session ID is required", http.StatusBadRequest)
		return nil, "", false
	}
	return user, sessionID, true
}

func writeEngineError(w http.ResponseWriter, err error, sessionID, action string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		http.Error(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrSessionBusy):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	default:
		slog.Error("Session operation failed", "action", action, "session_id", sessionID, "error", err)
		http.Error(w, "Session operation failed", http.StatusInternalServerError)
	}
}
