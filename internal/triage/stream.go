package triage

import (
	"context"
	"io"
	"strings"
	"time"
)

// Send runs one full user turn: append the user message, open the assistant
// reply stream, feed every chunk through the parser, and commit summary
// changes as they become significant. Transport failures are recovered
// locally with a degraded assistant message and never bubble up as errors.
func (c *Coordinator) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.streaming {
		c.mu.Unlock()
		return ErrStreamInProgress
	}
	c.streaming = true
	if c.status == StatusIdle {
		c.status = StatusActive
		c.publishLocked(Event{Kind: EventStatus, Status: c.status})
	}

	now := time.Now().UTC()
	userMsg := ChatMessage{ID: newMessageID(), Role: RoleUser, Content: text, OccurredAt: now}
	c.appendMessageLocked(userMsg)

	history := c.historyLocked()
	preSummary := c.summary
	sessionID := c.sessionID

	placeholder := ChatMessage{ID: newMessageID(), Role: RoleAI, OccurredAt: now, Pending: true}
	c.appendMessageLocked(placeholder)
	c.publishLocked(Event{Kind: EventTyping, MessageID: placeholder.ID})
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.streaming = false
		c.mu.Unlock()
	}()

	// Nothing to say to the model: short-circuit with the literal fallback
	// and never touch the network.
	if len(history) == 0 {
		c.mu.Lock()
		c.finishMessageLocked(placeholder.ID, fallbackNoContext, c.summary)
		c.mu.Unlock()
		return nil
	}

	req := StreamRequest{
		SessionID:         sessionID,
		LatestUserMessage: userMsg,
		History:           history,
	}
	if c.patient != nil || preSummary.UpdatedAt != (time.Time{}) {
		req.Context = &StreamContext{Patient: c.patient, TriageSummary: cloneSummary(preSummary)}
	}

	started := time.Now()
	stream, err := c.api.OpenStream(ctx, req)
	if err != nil {
		c.logger.Error("assistant stream open failed", "session_id", sessionID, "error", err)
		c.failStream(placeholder.ID, started)
		return nil
	}
	defer stream.Close()

	if stream.SessionID != "" && stream.SessionID != sessionID {
		c.mu.Lock()
		c.sessionID = stream.SessionID
		c.mu.Unlock()
	}

	var accumulated strings.Builder
	buf := make([]byte, 1024)
	first := true
	for {
		n, readErr := stream.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			accumulated.WriteString(chunk)
			c.metrics.ObserveChunk()

			c.mu.Lock()
			if first {
				first = false
				c.setMessagePendingLocked(placeholder.ID, false)
			}
			c.updateMessageContentLocked(placeholder.ID, accumulated.String())
			c.publishLocked(Event{Kind: EventChunk, MessageID: placeholder.ID, Chunk: chunk})

			candidate := ParseSummary(accumulated.String(), c.summary)
			if HasSignificantChange(c.summary, candidate) {
				c.commitSummaryLocked(candidate, "significant")
			}
			c.mu.Unlock()
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			c.logger.Error("assistant stream read failed", "session_id", sessionID, "error", readErr)
			c.failStream(placeholder.ID, started)
			return nil
		}
	}

	finalText := accumulated.String()
	c.mu.Lock()
	defer c.mu.Unlock()

	// The final commit is decided against the pre-stream summary, not the
	// last partial, and is authoritative: it carries the deferred symptom and
	// duration fields alongside any late risk correction.
	final := ParseSummary(finalText, preSummary)
	kind := "final"
	if HasSignificantChange(preSummary, final) {
		kind = "final-significant"
	}
	c.commitSummaryLocked(final, kind)

	if finalText == "" {
		finalText = fallbackNoContext
	}
	c.finishMessageLocked(placeholder.ID, finalText, final)
	c.metrics.ObserveStream("ok", time.Since(started).Seconds())
	return nil
}

// historyLocked builds the model context from the last turns of real
// conversation text: user and assistant messages with visible content,
// synthetic bubbles excluded.
func (c *Coordinator) historyLocked() []HistoryTurn {
	turns := make([]HistoryTurn, 0, len(c.messages))
	for _, msg := range c.messages {
		if msg.Pending || msg.Metadata != nil || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		role := "user"
		if msg.Role != RoleUser {
			role = "assistant"
		}
		turns = append(turns, HistoryTurn{Role: role, Content: msg.Content})
	}
	if len(turns) > c.historyLimit {
		turns = turns[len(turns)-c.historyLimit:]
	}
	return turns
}

func (c *Coordinator) setMessagePendingLocked(id string, pending bool) {
	for i := range c.messages {
		if c.messages[i].ID == id {
			c.messages[i].Pending = pending
			return
		}
	}
}

func (c *Coordinator) updateMessageContentLocked(id, content string) {
	for i := range c.messages {
		if c.messages[i].ID == id {
			c.messages[i].Content = content
			return
		}
	}
}

// finishMessageLocked stamps the assistant message with its final content,
// completion time, and the risk context resolved for this turn.
func (c *Coordinator) finishMessageLocked(id, content string, s Summary) {
	done := time.Now().UTC()
	for i := range c.messages {
		if c.messages[i].ID != id {
			continue
		}
		c.messages[i].Content = content
		c.messages[i].Pending = false
		c.messages[i].CompletedAt = &done
		c.messages[i].RiskLevel = s.RiskLevel
		if len(s.RedFlags) > 0 {
			c.messages[i].RedFlag = s.RedFlags[0]
		}
		msg := c.messages[i]
		c.publishLocked(Event{Kind: EventMessage, Message: &msg})
		c.mirrorToCache(msg)
		return
	}
}

// failStream recovers a transport failure: the placeholder becomes a generic
// degraded message, the banner is hidden, and the summary keeps its clinical
// fields with only the timestamp refreshed.
func (c *Coordinator) failStream(messageID string, started time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishMessageLocked(messageID, degradedMessage, Summary{RiskLevel: c.summary.RiskLevel, RedFlags: c.summary.RedFlags})
	c.banner = nil
	c.summary.UpdatedAt = time.Now().UTC()
	c.publishLocked(Event{Kind: EventSummary, Summary: cloneSummary(c.summary)})
	c.publishLocked(Event{Kind: EventBanner, Banner: nil})
	c.metrics.ObserveStream("error", time.Since(started).Seconds())
}
