package triage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sehatline/triage-ai/internal/catalog"
)

func TestSendStreamsAndCommitsSummary(t *testing.T) {
	chunks := []string{
		"Baik, saya catat keluhannya. ",
		"RISK: moderate\nRED FLAGS: demam tinggi menetap\n",
		"SYMPTOMS: demam\nDURATION: 1 hari\nRECOMMENDATION: otc\n",
		"Istirahat cukup ya.",
	}
	api := &fakeAPI{
		bodies:        [][]string{chunks},
		assignSession: "sess-1",
		suggestions:   []catalog.Suggestion{{Name: "Paracetamol", Strength: "500mg"}},
	}
	c := NewCoordinator(api, nil, WithCompletionDelay(30*time.Millisecond))
	defer c.Close()

	events, cancel := c.Subscribe()
	defer cancel()

	if err := c.Send(context.Background(), "saya demam"); err != nil {
		t.Fatalf("send: %v", err)
	}

	snap := c.Snapshot()
	if snap.SessionID != "sess-1" {
		t.Fatalf("server-assigned session id not adopted: %q", snap.SessionID)
	}
	if snap.Summary.RiskLevel != RiskModerate {
		t.Fatalf("risk = %q, want moderate", snap.Summary.RiskLevel)
	}
	if len(snap.Summary.Symptoms) != 1 || snap.Summary.Symptoms[0] != "demam" || snap.Summary.Duration != "1 hari" {
		t.Fatalf("deferred fields not committed at stream end: %+v", snap.Summary)
	}
	if snap.Banner == nil || snap.Banner.Severity != BannerWarning {
		t.Fatalf("expected warning banner, got %+v", snap.Banner)
	}

	ai := snap.Messages[len(snap.Messages)-1]
	if ai.Role != RoleAI || ai.Pending {
		t.Fatalf("unexpected final assistant message: %+v", ai)
	}
	if ai.Content != strings.Join(chunks, "") {
		t.Fatalf("assistant content = %q", ai.Content)
	}
	if ai.CompletedAt == nil || ai.RiskLevel != RiskModerate || ai.RedFlag != "demam tinggi menetap" {
		t.Fatalf("final message not stamped: %+v", ai)
	}

	var chunkEvents, summaryEvents int
	sawTyping := false
drain:
	for {
		select {
		case ev := <-events:
			switch ev.Kind {
			case EventTyping:
				sawTyping = true
			case EventChunk:
				chunkEvents++
			case EventSummary:
				summaryEvents++
			}
		default:
			break drain
		}
	}
	if !sawTyping {
		t.Error("no typing event before first chunk")
	}
	if chunkEvents != len(chunks) {
		t.Errorf("chunk events = %d, want %d", chunkEvents, len(chunks))
	}
	// At least one mid-stream significant commit plus the final commit.
	if summaryEvents < 2 {
		t.Errorf("summary events = %d, want >= 2", summaryEvents)
	}

	// A recommendation was present in the final commit, so the session
	// completes after the debounce.
	waitFor(t, time.Second, func() bool { return c.Snapshot().Status == StatusCompleted })
}

func TestSendEmptyHistorySkipsNetwork(t *testing.T) {
	api := &fakeAPI{}
	c := NewCoordinator(api, nil)
	defer c.Close()

	if err := c.Send(context.Background(), "   "); err != nil {
		t.Fatalf("send: %v", err)
	}
	if api.openCalls != 0 {
		t.Fatalf("blank input must not open a stream, got %d calls", api.openCalls)
	}
	snap := c.Snapshot()
	ai := snap.Messages[len(snap.Messages)-1]
	if ai.Content != fallbackNoContext || ai.Pending {
		t.Fatalf("expected literal fallback message, got %+v", ai)
	}
}

func TestSendTransportFailurePreservesSummary(t *testing.T) {
	api := &fakeAPI{
		bodies: [][]string{{"RISK: moderate\nRED FLAGS: demam tinggi\n"}},
	}
	c := NewCoordinator(api, nil, WithCompletionDelay(time.Hour))
	defer c.Close()

	if err := c.Send(context.Background(), "saya demam"); err != nil {
		t.Fatalf("send: %v", err)
	}
	before := c.Snapshot()
	if before.Banner == nil {
		t.Fatal("expected banner before failure")
	}

	api.openErr = errors.New("gateway timeout")
	if err := c.Send(context.Background(), "masih demam"); err != nil {
		t.Fatalf("transport failure must be recovered, got %v", err)
	}

	snap := c.Snapshot()
	ai := snap.Messages[len(snap.Messages)-1]
	if ai.Content != degradedMessage {
		t.Fatalf("expected degraded message, got %q", ai.Content)
	}
	if snap.Banner != nil {
		t.Fatalf("banner must be hidden on failure, got %+v", snap.Banner)
	}
	if snap.Summary.RiskLevel != before.Summary.RiskLevel || len(snap.Summary.RedFlags) != len(before.Summary.RedFlags) {
		t.Fatalf("clinical fields changed on transport failure: %+v", snap.Summary)
	}
	if !snap.Summary.UpdatedAt.After(before.Summary.UpdatedAt) {
		t.Fatalf("updatedAt not refreshed on failure")
	}
}

func TestSendMidStreamReadFailure(t *testing.T) {
	api := &fakeAPI{
		bodies:        [][]string{{"Sebentar, "}},
		streamReadErr: errors.New("connection reset"),
	}
	c := NewCoordinator(api, nil)
	defer c.Close()

	if err := c.Send(context.Background(), "halo dok"); err != nil {
		t.Fatalf("read failure must be recovered, got %v", err)
	}
	snap := c.Snapshot()
	ai := snap.Messages[len(snap.Messages)-1]
	if ai.Content != degradedMessage || ai.Pending {
		t.Fatalf("expected degraded message after read failure, got %+v", ai)
	}
}

func TestSendHistoryCappedAndFiltered(t *testing.T) {
	api := &fakeAPI{bodies: [][]string{{"Baik.\n"}}}
	c := NewCoordinator(api, nil, WithHistoryLimit(4))
	defer c.Close()

	c.mu.Lock()
	for i := 0; i < 10; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAI
		}
		c.messages = append(c.messages, ChatMessage{ID: newMessageID(), Role: role, Content: "turn"})
	}
	c.messages = append(c.messages, ChatMessage{
		ID: newMessageID(), Role: RoleAI, Metadata: &MessageMetadata{Type: "appointment"},
	})
	history := c.historyLocked()
	c.mu.Unlock()

	if len(history) != 4 {
		t.Fatalf("history len = %d, want 4", len(history))
	}
	for _, turn := range history {
		if turn.Content == "" {
			t.Fatalf("synthetic message leaked into history: %+v", history)
		}
	}
}
