package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"jamroom/internal/auth"
	"jamroom/internal/models"
	"jamroom/internal/services"
	"jamroom/pkg/logger"

	"github.com/google/uuid"
)

type SessionHandlers struct {
	sessionService *services.SessionService
	authService    *auth.Service
}

func NewSessionHandlers(sessionService *services.SessionService, authService *auth.Service) *SessionHandlers {
	return &SessionHandlers{
		sessionService: sessionService,
		authService:    authService,
	}
}

func (h *SessionHandlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	user, err := h.getUserFromToken(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req models.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	session, err := h.sessionService.CreateSession(r.Context(), &req, user.ID)
	if err != nil {
		logger.Error("Create session error: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(session)
}

func (h *SessionHandlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	if _, err := h.getUserFromToken(r); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sessions, err := h.sessionService.ListPublicSessions(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		logger.Error("List sessions error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessions)
}

func (h *SessionHandlers) GetSession(w http.ResponseWriter, r *http.Request) {
	if _, err := h.getUserFromToken(r); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sessionID, err := h.getSessionIDFromPath(r)
	if err != nil {
		http.Error(w, "invalid session ID", http.StatusBadRequest)
		return
	}

	session, err := h.sessionService.GetSession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(session)
}

func (h *SessionHandlers) ResolveJoinCode(w http.ResponseWriter, r *http.Request) {
	user, err := h.getUserFromToken(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	parts := strings.Split(r.URL.Path, "/")
	code := parts[len(parts)-1]
	session, err := h.sessionService.ResolveJoinCode(r.Context(), code, user.ID)
	if err != nil {
		http.Error(w, "unknown join code", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(session)
}

func (h *SessionHandlers) EndSession(w http.ResponseWriter, r *http.Request) {
	user, err := h.getUserFromToken(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sessionID, err := h.getSessionIDFromPath(r)
	if err != nil {
		http.Error(w, "invalid session ID", http.StatusBadRequest)
		return
	}

	if err := h.sessionService.EndSession(r.Context(), sessionID, user.ID); err != nil {
		if strings.Contains(err.Error(), "forbidden") {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandlers) getUserFromToken(r *http.Request) (*models.User, error) {
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" || token == header {
		return nil, fmt.Errorf("missing bearer token")
	}
	return h.authService.GetUserFromToken(r.Context(), token)
}

func (h *SessionHandlers) getSessionIDFromPath(r *http.Request) (uuid.UUID, error) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 {
		return uuid.Nil, fmt.Errorf("invalid path")
	}
	return uuid.Parse(parts[1])
}
