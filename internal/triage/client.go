package triage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sehatline/triage-ai/internal/catalog"
	"github.com/sehatline/triage-ai/pkg/logging"
)

const sessionHeader = "x-triage-session"

// HistoryTurn is one prior conversation turn sent as model context.
type HistoryTurn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// StreamContext carries optional patient and summary context for the model.
type StreamContext struct {
	Patient       map[string]any `json:"patient,omitempty"`
	TriageSummary *Summary       `json:"triageSummary,omitempty"`
}

// StreamRequest is the payload for opening an assistant reply stream.
type StreamRequest struct {
	SessionID         string
	LatestUserMessage ChatMessage
	History           []HistoryTurn
	Context           *StreamContext
}

// Stream is a live assistant reply body. It is finite and not restartable;
// the caller owns Close.
type Stream struct {
	SessionID string
	body      io.ReadCloser
}

func (s *Stream) Read(p []byte) (int, error) { return s.body.Read(p) }
func (s *Stream) Close() error               { return s.body.Close() }

// StoredSession is the server-held session state returned by the session
// store.
type StoredSession struct {
	ID        string
	Status    Status
	Summary   *Summary
	UpdatedAt time.Time
	Messages  []ChatMessage
}

// ResetState is the fresh identity handed out by the reset endpoint.
type ResetState struct {
	SessionID string
	Summary   *Summary
}

// DraftRequest asks the prescription service for OTC suggestions matching the
// committed summary.
type DraftRequest struct {
	Patient       map[string]any `json:"patient,omitempty"`
	TriageSummary Summary        `json:"triageSummary"`
}

// APIClient talks to the triage backend. The streaming client carries no
// timeout: a reply stream is open-ended and cancelled through the request
// context. All other calls use a bounded client.
type APIClient struct {
	baseURL      string
	streamClient *http.Client
	httpClient   *http.Client
	logger       *logging.Logger
}

// APIClientConfig configures an APIClient.
type APIClientConfig struct {
	BaseURL string
	Timeout time.Duration
	Logger  *logging.Logger
}

// NewAPIClient builds a client for the triage backend.
func NewAPIClient(cfg APIClientConfig) *APIClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &APIClient{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		streamClient: &http.Client{},
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger,
	}
}

type wireUserMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type streamPayload struct {
	SessionID         *string         `json:"sessionId"`
	LatestUserMessage wireUserMessage `json:"latestUserMessage"`
	Messages          []HistoryTurn   `json:"messages"`
	Context           *StreamContext  `json:"context,omitempty"`
}

// OpenStream starts an assistant reply stream. The returned Stream's
// SessionID is set when the server assigned one via the x-triage-session
// header.
func (c *APIClient) OpenStream(ctx context.Context, req StreamRequest) (*Stream, error) {
	payload := streamPayload{
		LatestUserMessage: wireUserMessage{
			ID:        req.LatestUserMessage.ID,
			Content:   req.LatestUserMessage.Content,
			CreatedAt: req.LatestUserMessage.OccurredAt,
		},
		Messages: req.History,
		Context:  req.Context,
	}
	if req.SessionID != "" {
		payload.SessionID = &req.SessionID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("triage: marshal stream request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/triage/stream", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("triage: build stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("triage: open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("triage: open stream: unexpected status %d", resp.StatusCode)
	}
	return &Stream{SessionID: resp.Header.Get(sessionHeader), body: resp.Body}, nil
}

type wireSession struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Summary   *Summary  `json:"summary"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type wireMessage struct {
	ID        string           `json:"id"`
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	CreatedAt time.Time        `json:"created_at"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
}

type sessionResponse struct {
	Session  *wireSession  `json:"session"`
	Messages []wireMessage `json:"messages"`
}

// FetchSession loads server-held session state. A (nil, nil) return means the
// store has no session under that id.
func (c *APIClient) FetchSession(ctx context.Context, sessionID string) (*StoredSession, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/triage/session?sessionId="+sessionID, nil)
	if err != nil {
		return nil, fmt.Errorf("triage: build session request: %w", err)
	}
	var out sessionResponse
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	if out.Session == nil {
		return nil, nil
	}
	stored := &StoredSession{
		ID:        out.Session.ID,
		Status:    out.Session.Status,
		Summary:   out.Session.Summary,
		UpdatedAt: out.Session.UpdatedAt,
	}
	for _, m := range out.Messages {
		stored.Messages = append(stored.Messages, ChatMessage{
			ID:         m.ID,
			Role:       m.Role,
			Content:    m.Content,
			OccurredAt: m.CreatedAt,
			Metadata:   m.Metadata,
		})
	}
	return stored, nil
}

type resetResponse struct {
	Session struct {
		ID      string   `json:"id"`
		Summary *Summary `json:"summary"`
	} `json:"session"`
}

// ResetSession asks the store for a fresh session identity.
func (c *APIClient) ResetSession(ctx context.Context) (*ResetState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/triage/session/reset", nil)
	if err != nil {
		return nil, fmt.Errorf("triage: build reset request: %w", err)
	}
	var out resetResponse
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	if out.Session.ID == "" {
		return nil, fmt.Errorf("triage: reset returned no session id")
	}
	return &ResetState{SessionID: out.Session.ID, Summary: out.Session.Summary}, nil
}

// CompleteSession marks the session completed server-side.
func (c *APIClient) CompleteSession(ctx context.Context, sessionID string) error {
	body, _ := json.Marshal(map[string]string{"sessionId": sessionID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/triage/session/complete", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("triage: build complete request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, nil)
}

// PersistMessage stores a synthetic message in the remote message store.
func (c *APIClient) PersistMessage(ctx context.Context, sessionID string, msg ChatMessage) error {
	body, err := json.Marshal(map[string]any{
		"sessionId": sessionID,
		"role":      msg.Role,
		"content":   msg.Content,
		"metadata":  msg.Metadata,
	})
	if err != nil {
		return fmt.Errorf("triage: marshal message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/triage/message", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("triage: build message request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, nil)
}

type draftResponse struct {
	Suggestions []catalog.Suggestion `json:"suggestions"`
}

// DraftSuggestions asks the prescription service for OTC candidates.
func (c *APIClient) DraftSuggestions(ctx context.Context, req DraftRequest) ([]catalog.Suggestion, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("triage: marshal draft request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prescription/draft", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("triage: build draft request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	var out draftResponse
	if err := c.doJSON(httpReq, &out); err != nil {
		return nil, err
	}
	return out.Suggestions, nil
}

func (c *APIClient) doJSON(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("triage: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("triage: %s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("triage: decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
