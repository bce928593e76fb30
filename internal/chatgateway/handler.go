package chatgateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/sehatline/triage-ai/internal/catalog"
	"github.com/sehatline/triage-ai/internal/transcript"
	"github.com/sehatline/triage-ai/internal/triage"
	"github.com/sehatline/triage-ai/pkg/logging"
)

// Conversation is the coordinator surface the gateway drives. One
// conversation is created per websocket connection.
type Conversation interface {
	Subscribe() (<-chan triage.Event, func())
	Snapshot() triage.Snapshot
	Restore(ctx context.Context, sessionID string)
	Send(ctx context.Context, text string) error
	Reset(ctx context.Context) error
	RequestMedications(ctx context.Context, replaceCart bool)
	Close()
}

// TranscriptReader replays cached history to reconnecting clients.
type TranscriptReader interface {
	List(ctx context.Context, sessionID string, limit int64) ([]transcript.Message, error)
}

// Handler bridges websocket clients to triage conversations.
type Handler struct {
	newConversation func() Conversation
	transcript      TranscriptReader
	logger          *logging.Logger

	mu    sync.Mutex
	conns map[string]struct{}
}

// NewHandler creates the gateway. newConversation is called once per
// websocket connection.
func NewHandler(newConversation func() Conversation, reader TranscriptReader, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		newConversation: newConversation,
		transcript:      reader,
		logger:          logger,
		conns:           make(map[string]struct{}),
	}
}

// InboundMessage is what the patient client sends.
type InboundMessage struct {
	Type        string `json:"type"` // "message", "reset", "add_to_cart", "ping"
	Text        string `json:"text,omitempty"`
	ReplaceCart bool   `json:"replace_cart,omitempty"`
}

// OutboundMessage is what the gateway pushes to the client.
type OutboundMessage struct {
	Type        string               `json:"type"`
	SessionID   string               `json:"session_id,omitempty"`
	Status      string               `json:"status,omitempty"`
	MessageID   string               `json:"message_id,omitempty"`
	Text        string               `json:"text,omitempty"`
	Message     *triage.ChatMessage  `json:"message,omitempty"`
	Summary     *triage.Summary      `json:"summary,omitempty"`
	Banner      *triage.Banner       `json:"banner,omitempty"`
	BannerShown *bool                `json:"banner_shown,omitempty"`
	Suggestions []catalog.Suggestion `json:"suggestions,omitempty"`
	Messages    []HistoryMessage     `json:"messages,omitempty"`
	Timestamp   string               `json:"timestamp,omitempty"`
}

// HistoryMessage is a trimmed transcript entry for history replay.
type HistoryMessage struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// HandleWebSocket upgrades to WebSocket and runs the conversation loop.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	sessionID := r.URL.Query().Get("session")

	conv := h.newConversation()
	defer conv.Close()

	if sessionID != "" {
		conv.Restore(r.Context(), sessionID)
		h.replayHistory(r.Context(), conn, sessionID)
	}

	snap := conv.Snapshot()
	if snap.SessionID != "" {
		sessionID = snap.SessionID
	}
	_ = websocket.JSON.Send(conn, OutboundMessage{
		Type:      "session",
		SessionID: sessionID,
		Status:    string(snap.Status),
	})

	events, cancel := conv.Subscribe()
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	go h.forwardEvents(conn, events, done)

	connID := uuid.NewString()
	h.mu.Lock()
	h.conns[connID] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.conns, connID)
		h.mu.Unlock()
	}()

	h.logger.Info("chat connection opened", "session_id", sessionID)

	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("chat connection closed", "session_id", sessionID, "error", err)
			return
		}

		switch msg.Type {
		case "ping":
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "pong"})
		case "message":
			// Blank text still goes through: the coordinator answers it
			// with its no-context fallback.
			if err := conv.Send(r.Context(), msg.Text); err != nil {
				h.logger.Error("send failed", "session_id", sessionID, "error", err)
				_ = websocket.JSON.Send(conn, OutboundMessage{
					Type: "error",
					Text: "Pesan tidak dapat diproses, coba lagi.",
				})
			}
		case "reset":
			if err := conv.Reset(r.Context()); err != nil {
				h.logger.Error("reset failed", "session_id", sessionID, "error", err)
				_ = websocket.JSON.Send(conn, OutboundMessage{
					Type: "error",
					Text: "Sesi tidak dapat dimulai ulang.",
				})
			}
		case "add_to_cart":
			conv.RequestMedications(r.Context(), msg.ReplaceCart)
		}
	}
}

// forwardEvents pushes coordinator events to the socket until the reader
// loop exits.
func (h *Handler) forwardEvents(conn *websocket.Conn, events <-chan triage.Event, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = websocket.JSON.Send(conn, translateEvent(ev))
		}
	}
}

func translateEvent(ev triage.Event) OutboundMessage {
	out := OutboundMessage{Type: string(ev.Kind), SessionID: ev.SessionID}
	switch ev.Kind {
	case triage.EventStatus:
		out.Status = string(ev.Status)
	case triage.EventTyping:
		out.MessageID = ev.MessageID
	case triage.EventChunk:
		out.MessageID = ev.MessageID
		out.Text = ev.Chunk
	case triage.EventMessage:
		out.Message = ev.Message
	case triage.EventSummary:
		out.Summary = ev.Summary
	case triage.EventBanner:
		shown := ev.Banner != nil
		out.Banner = ev.Banner
		out.BannerShown = &shown
	case triage.EventSuggestions:
		out.Suggestions = ev.Suggestions
	}
	return out
}

func (h *Handler) replayHistory(ctx context.Context, conn *websocket.Conn, sessionID string) {
	if h.transcript == nil {
		return
	}
	msgs, err := h.transcript.List(ctx, sessionID, 50)
	if err != nil || len(msgs) == 0 {
		return
	}
	history := make([]HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, HistoryMessage{
			Role:      m.Role,
			Text:      m.Content,
			Timestamp: m.Timestamp.Format(time.RFC3339),
		})
	}
	_ = websocket.JSON.Send(conn, OutboundMessage{Type: "history", Messages: history})
}

// HandleHistory is the HTTP fallback for loading cached history.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		http.Error(w, "session parameter required", http.StatusBadRequest)
		return
	}

	history := []HistoryMessage{}
	if h.transcript != nil {
		msgs, err := h.transcript.List(r.Context(), sessionID, 100)
		if err != nil {
			h.logger.Error("history load failed", "session_id", sessionID, "error", err)
			http.Error(w, "failed to load history", http.StatusInternalServerError)
			return
		}
		for _, m := range msgs {
			history = append(history, HistoryMessage{
				Role:      m.Role,
				Text:      m.Content,
				Timestamp: m.Timestamp.Format(time.RFC3339),
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"messages": history})
}
