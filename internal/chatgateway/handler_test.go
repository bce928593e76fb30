package chatgateway

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/sehatline/triage-ai/internal/transcript"
	"github.com/sehatline/triage-ai/internal/triage"
)

type fakeConversation struct {
	mu        sync.Mutex
	events    chan triage.Event
	snapshot  triage.Snapshot
	sent      []string
	resets    int
	restored  []string
	carts     []bool
	closed    bool
	sendErr   error
	resetErr  error
	subCancel int
}

func newFakeConversation() *fakeConversation {
	return &fakeConversation{events: make(chan triage.Event, 16)}
}

func (f *fakeConversation) Subscribe() (<-chan triage.Event, func()) {
	return f.events, func() {
		f.mu.Lock()
		f.subCancel++
		f.mu.Unlock()
	}
}

func (f *fakeConversation) Snapshot() triage.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

func (f *fakeConversation) Restore(_ context.Context, sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restored = append(f.restored, sessionID)
}

func (f *fakeConversation) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return f.sendErr
}

func (f *fakeConversation) Reset(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return f.resetErr
}

func (f *fakeConversation) RequestMedications(_ context.Context, replace bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.carts = append(f.carts, replace)
}

func (f *fakeConversation) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConversation) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeReader struct {
	msgs []transcript.Message
	err  error
}

func (r *fakeReader) List(_ context.Context, _ string, _ int64) ([]transcript.Message, error) {
	return r.msgs, r.err
}

func dialTest(t *testing.T, h *Handler, query string) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, conn.Request())
	}))
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws" + query
	conn, err := websocket.Dial(url, "", srv.URL)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func recvOutbound(t *testing.T, conn *websocket.Conn) OutboundMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg OutboundMessage
	if err := websocket.JSON.Receive(conn, &msg); err != nil {
		t.Fatalf("receive: %v", err)
	}
	return msg
}

func TestWebSocketSessionAnnouncement(t *testing.T) {
	conv := newFakeConversation()
	conv.snapshot = triage.Snapshot{SessionID: "sess-1", Status: triage.StatusActive}
	h := NewHandler(func() Conversation { return conv }, nil, nil)

	conn, cleanup := dialTest(t, h, "")
	defer cleanup()

	msg := recvOutbound(t, conn)
	require.Equal(t, "session", msg.Type)
	assert.Equal(t, "sess-1", msg.SessionID)
	assert.Equal(t, "active", msg.Status)
}

func TestWebSocketRestoresAndReplaysHistory(t *testing.T) {
	conv := newFakeConversation()
	reader := &fakeReader{msgs: []transcript.Message{
		{Role: "user", Content: "saya demam", Timestamp: time.Now()},
		{Role: "ai", Content: "Sejak kapan?", Timestamp: time.Now()},
	}}
	h := NewHandler(func() Conversation { return conv }, reader, nil)

	conn, cleanup := dialTest(t, h, "?session=sess-9")
	defer cleanup()

	history := recvOutbound(t, conn)
	require.Equal(t, "history", history.Type)
	require.Len(t, history.Messages, 2)
	assert.Equal(t, "saya demam", history.Messages[0].Text)

	conv.mu.Lock()
	restored := append([]string(nil), conv.restored...)
	conv.mu.Unlock()
	require.Equal(t, []string{"sess-9"}, restored)
}

func TestWebSocketRoutesInboundMessages(t *testing.T) {
	conv := newFakeConversation()
	h := NewHandler(func() Conversation { return conv }, nil, nil)

	conn, cleanup := dialTest(t, h, "")
	defer cleanup()
	recvOutbound(t, conn) // session announcement

	if err := websocket.JSON.Send(conn, InboundMessage{Type: "message", Text: "saya pusing"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := websocket.JSON.Send(conn, InboundMessage{Type: "reset"}); err != nil {
		t.Fatalf("send reset: %v", err)
	}
	if err := websocket.JSON.Send(conn, InboundMessage{Type: "add_to_cart", ReplaceCart: true}); err != nil {
		t.Fatalf("send add_to_cart: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conv.mu.Lock()
		done := len(conv.sent) == 1 && conv.resets == 1 && len(conv.carts) == 1
		conv.mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, []string{"saya pusing"}, conv.sentMessages())
	conv.mu.Lock()
	defer conv.mu.Unlock()
	assert.Equal(t, 1, conv.resets)
	require.Equal(t, []bool{true}, conv.carts)
}

func TestWebSocketForwardsEvents(t *testing.T) {
	conv := newFakeConversation()
	h := NewHandler(func() Conversation { return conv }, nil, nil)

	conn, cleanup := dialTest(t, h, "")
	defer cleanup()
	recvOutbound(t, conn) // session announcement

	conv.events <- triage.Event{Kind: triage.EventChunk, MessageID: "m1", Chunk: "Baik, "}
	msg := recvOutbound(t, conn)
	require.Equal(t, "chunk", msg.Type)
	assert.Equal(t, "Baik, ", msg.Text)
	assert.Equal(t, "m1", msg.MessageID)

	conv.events <- triage.Event{Kind: triage.EventBanner, Banner: nil}
	msg = recvOutbound(t, conn)
	require.Equal(t, "banner", msg.Type)
	require.NotNil(t, msg.BannerShown)
	assert.False(t, *msg.BannerShown)

	conv.events <- triage.Event{Kind: triage.EventStatus, Status: triage.StatusCompleted}
	msg = recvOutbound(t, conn)
	require.Equal(t, "status", msg.Type)
	assert.Equal(t, "completed", msg.Status)
}

func TestWebSocketPing(t *testing.T) {
	conv := newFakeConversation()
	h := NewHandler(func() Conversation { return conv }, nil, nil)

	conn, cleanup := dialTest(t, h, "")
	defer cleanup()
	recvOutbound(t, conn)

	if err := websocket.JSON.Send(conn, InboundMessage{Type: "ping"}); err != nil {
		t.Fatalf("send ping: %v", err)
	}
	assert.Equal(t, "pong", recvOutbound(t, conn).Type)
}

func TestHandleHistoryHTTP(t *testing.T) {
	reader := &fakeReader{msgs: []transcript.Message{{Role: "user", Content: "halo", Timestamp: time.Now()}}}
	h := NewHandler(func() Conversation { return newFakeConversation() }, reader, nil)

	rr := httptest.NewRecorder()
	h.HandleHistory(rr, httptest.NewRequest("GET", "/chat/history?session=sess-1", nil))
	require.Equal(t, 200, rr.Code)
	assert.Contains(t, rr.Body.String(), "halo")

	rr = httptest.NewRecorder()
	h.HandleHistory(rr, httptest.NewRequest("GET", "/chat/history", nil))
	assert.Equal(t, 400, rr.Code)
}
