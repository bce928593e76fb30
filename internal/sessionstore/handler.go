package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sehatline/triage-ai/pkg/logging"
)

// SessionStore is the persistence surface the HTTP handler needs.
type SessionStore interface {
	GetSession(ctx context.Context, id string) (*SessionRecord, []MessageRecord, error)
	CreateSession(ctx context.Context) (*SessionRecord, error)
	CompleteSession(ctx context.Context, id string) error
	UpdateSummary(ctx context.Context, id string, summary json.RawMessage) error
	InsertMessage(ctx context.Context, sessionID, role, content string, metadata json.RawMessage) (*MessageRecord, error)
}

// Handler serves the triage session-store HTTP contract consumed by the
// conversation coordinator.
type Handler struct {
	store  SessionStore
	logger *logging.Logger
}

// NewHandler creates the session-store handler.
func NewHandler(store SessionStore, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, logger: logger}
}

// Register mounts the session-store routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/triage/session", h.GetSession)
	r.Post("/triage/session/reset", h.ResetSession)
	r.Post("/triage/session/complete", h.CompleteSession)
	r.Put("/triage/session/summary", h.UpdateSummary)
	r.Post("/triage/message", h.PersistMessage)
}

type wireSession struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Summary   json.RawMessage `json:"summary"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type wireMessage struct {
	ID        string          `json:"id"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// GetSession handles GET /triage/session?sessionId=
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	rec, msgs, err := h.store.GetSession(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("session lookup failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "session lookup failed")
		return
	}

	resp := struct {
		Session  *wireSession  `json:"session"`
		Messages []wireMessage `json:"messages"`
	}{Messages: []wireMessage{}}
	if rec != nil {
		resp.Session = &wireSession{ID: rec.ID, Status: rec.Status, Summary: rec.Summary, UpdatedAt: rec.UpdatedAt}
		for _, m := range msgs {
			resp.Messages = append(resp.Messages, wireMessage{
				ID: m.ID, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt, Metadata: m.Metadata,
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ResetSession handles POST /triage/session/reset by minting a fresh session.
func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.CreateSession(r.Context())
	if err != nil {
		h.logger.Error("session reset failed", "error", err)
		writeError(w, http.StatusInternalServerError, "session reset failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session": map[string]any{"id": rec.ID, "summary": rec.Summary},
	})
}

// CompleteSession handles POST /triage/session/complete.
func (h *Handler) CompleteSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	if err := h.store.CompleteSession(r.Context(), req.SessionID); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("session complete failed", "session_id", req.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "session complete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateSummary handles PUT /triage/session/summary, replacing the stored
// summary blob the AI backend committed for a session.
func (h *Handler) UpdateSummary(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string          `json:"sessionId"`
		Summary   json.RawMessage `json:"summary"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	if err := h.store.UpdateSummary(r.Context(), req.SessionID, req.Summary); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("summary update failed", "session_id", req.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "summary update failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PersistMessage handles POST /triage/message for synthetic messages.
func (h *Handler) PersistMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string          `json:"sessionId"`
		Role      string          `json:"role"`
		Content   string          `json:"content"`
		Metadata  json.RawMessage `json:"metadata,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.SessionID == "" || req.Role == "" {
		writeError(w, http.StatusBadRequest, "sessionId and role are required")
		return
	}

	rec, err := h.store.InsertMessage(r.Context(), req.SessionID, req.Role, req.Content, req.Metadata)
	if err != nil {
		h.logger.Error("message persist failed", "session_id", req.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "message persist failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": rec.ID})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
