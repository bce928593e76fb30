package triage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sehatline/triage-ai/internal/catalog"
	"github.com/sehatline/triage-ai/internal/events"
	"github.com/sehatline/triage-ai/internal/observability/metrics"
	"github.com/sehatline/triage-ai/internal/transcript"
	"github.com/sehatline/triage-ai/pkg/logging"
)

// ErrClosed is returned by operations on a closed coordinator.
var ErrClosed = errors.New("triage: coordinator closed")

// ErrStreamInProgress is returned when a send arrives while a previous
// assistant reply is still streaming.
var ErrStreamInProgress = errors.New("triage: stream already in progress")

const (
	defaultCompletionDelay = time.Second
	defaultHistoryLimit    = 16
	defaultWelcomeMessage  = "Halo! Ceritakan keluhan yang Anda rasakan, saya bantu menilainya."
	fallbackNoContext      = "Maaf, saya belum menangkap keluhan Anda. Bisa diceritakan kembali?"
	degradedMessage        = "Maaf, layanan sedang terganggu. Silakan coba lagi sebentar lagi."
)

// API is the remote triage backend as seen by the coordinator.
type API interface {
	OpenStream(ctx context.Context, req StreamRequest) (*Stream, error)
	FetchSession(ctx context.Context, sessionID string) (*StoredSession, error)
	ResetSession(ctx context.Context) (*ResetState, error)
	CompleteSession(ctx context.Context, sessionID string) error
	PersistMessage(ctx context.Context, sessionID string, msg ChatMessage) error
	DraftSuggestions(ctx context.Context, req DraftRequest) ([]catalog.Suggestion, error)
}

// EventKind labels coordinator events pushed to subscribers.
type EventKind string

const (
	EventStatus      EventKind = "status"
	EventMessage     EventKind = "message"
	EventTyping      EventKind = "typing"
	EventChunk       EventKind = "chunk"
	EventSummary     EventKind = "summary"
	EventBanner      EventKind = "banner"
	EventSuggestions EventKind = "suggestions"
)

// Event is one observable state change. Only the fields relevant to the kind
// are populated.
type Event struct {
	Kind        EventKind
	SessionID   string
	Status      Status
	MessageID   string
	Chunk       string
	Message     *ChatMessage
	Summary     *Summary
	Banner      *Banner
	Suggestions []catalog.Suggestion
}

// Snapshot is a point-in-time copy of coordinator state for new observers.
type Snapshot struct {
	SessionID   string
	Status      Status
	Messages    []ChatMessage
	Summary     Summary
	Banner      *Banner
	Suggestions []catalog.Suggestion
	Streaming   bool
}

// Coordinator owns one patient's triage conversation: session identity,
// status, message history, the committed summary, and every side effect
// derived from it. All state is guarded by a single mutex so summary commits
// from the stream loop, the completion timer, and the OTC fetch goroutine are
// strictly serialized.
type Coordinator struct {
	api     API
	logger  *logging.Logger
	metrics *metrics.TriageMetrics
	bus     *events.MedicationBus
	cache   *transcript.Store

	completionDelay time.Duration
	historyLimit    int
	welcome         string
	patient         map[string]any

	mu            sync.Mutex
	closed        bool
	sessionID     string
	status        Status
	messages      []ChatMessage
	lastMessageID string
	summary       Summary
	banner        *Banner
	suggestions   []catalog.Suggestion
	guard         *sideEffectGuard
	streaming     bool

	completionTimer *time.Timer
	completionArmed bool

	subs    map[int]chan Event
	nextSub int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithCompletionDelay overrides the auto-completion debounce.
func WithCompletionDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.completionDelay = d
		}
	}
}

// WithMetrics attaches triage metrics.
func WithMetrics(m *metrics.TriageMetrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithMedicationBus attaches the bus used to hand resolved-medication
// requests to the cart side.
func WithMedicationBus(bus *events.MedicationBus) Option {
	return func(c *Coordinator) { c.bus = bus }
}

// WithTranscriptCache mirrors committed messages into the Redis transcript
// cache for gateway history replay.
func WithTranscriptCache(store *transcript.Store) Option {
	return func(c *Coordinator) { c.cache = store }
}

// WithWelcomeMessage overrides the greeting shown after a reset.
func WithWelcomeMessage(msg string) Option {
	return func(c *Coordinator) {
		if msg != "" {
			c.welcome = msg
		}
	}
}

// WithHistoryLimit caps how many turns are replayed to the model.
func WithHistoryLimit(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.historyLimit = n
		}
	}
}

// WithPatientContext attaches patient profile data sent as model context.
func WithPatientContext(patient map[string]any) Option {
	return func(c *Coordinator) { c.patient = patient }
}

// NewCoordinator builds a coordinator in the idle state.
func NewCoordinator(api API, logger *logging.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = logging.Default()
	}
	c := &Coordinator{
		api:             api,
		logger:          logger,
		completionDelay: defaultCompletionDelay,
		historyLimit:    defaultHistoryLimit,
		welcome:         defaultWelcomeMessage,
		status:          StatusIdle,
		guard:           newSideEffectGuard(),
		subs:            make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// newMessageID returns an id sortable by creation time.
func newMessageID() string {
	return fmt.Sprintf("%013x-%s", time.Now().UnixNano(), uuid.NewString()[:8])
}

// Subscribe registers an event channel. Slow subscribers drop events rather
// than blocking state transitions.
func (c *Coordinator) Subscribe() (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	ch := make(chan Event, 64)
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	c.subs[id] = ch
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

// Snapshot returns a copy of the observable state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		SessionID:   c.sessionID,
		Status:      c.status,
		Messages:    append([]ChatMessage(nil), c.messages...),
		Summary:     c.summary,
		Banner:      c.banner,
		Suggestions: append([]catalog.Suggestion(nil), c.suggestions...),
		Streaming:   c.streaming,
	}
}

func (c *Coordinator) publishLocked(ev Event) {
	ev.SessionID = c.sessionID
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Restore hydrates state from the session store. It fails open: a fetch error
// or a missing session leaves local state untouched. A coordinator closed (or
// a context cancelled) while the fetch is in flight suppresses the write.
func (c *Coordinator) Restore(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}
	stored, err := c.api.FetchSession(ctx, sessionID)
	if err != nil {
		c.logger.Warn("session restore failed, keeping local state", "session_id", sessionID, "error", err)
		return
	}
	if stored == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || ctx.Err() != nil {
		return
	}
	c.sessionID = stored.ID
	if stored.Status == StatusCompleted {
		c.status = StatusCompleted
	} else {
		c.status = StatusActive
	}
	c.messages = append([]ChatMessage(nil), stored.Messages...)
	if len(c.messages) > 0 {
		c.lastMessageID = c.messages[len(c.messages)-1].ID
	}
	if stored.Summary != nil {
		c.summary = *stored.Summary
	}
	c.banner = bannerFor(c.summary)
	c.publishLocked(Event{Kind: EventStatus, Status: c.status})
	c.publishLocked(Event{Kind: EventSummary, Summary: cloneSummary(c.summary)})
	c.publishLocked(Event{Kind: EventBanner, Banner: c.banner})
}

// Reset asks the store for a fresh identity and clears all local state down
// to a single welcome message. A pending auto-completion is cancelled.
func (c *Coordinator) Reset(ctx context.Context) error {
	state, err := c.api.ResetSession(ctx)
	if err != nil {
		return fmt.Errorf("triage: reset session: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.cancelCompletionLocked()

	oldID := c.sessionID
	c.sessionID = state.SessionID
	c.status = StatusActive
	c.summary = Summary{}
	if state.Summary != nil {
		c.summary = *state.Summary
	}
	c.summary.UpdatedAt = time.Now().UTC()
	c.banner = nil
	c.suggestions = nil
	c.guard.reset()
	c.streaming = false

	welcome := ChatMessage{
		ID:         newMessageID(),
		Role:       RoleAI,
		Content:    c.welcome,
		OccurredAt: time.Now().UTC(),
	}
	c.messages = []ChatMessage{welcome}
	c.lastMessageID = welcome.ID

	c.publishLocked(Event{Kind: EventStatus, Status: c.status})
	c.publishLocked(Event{Kind: EventMessage, Message: &welcome})
	c.publishLocked(Event{Kind: EventSummary, Summary: cloneSummary(c.summary)})
	c.publishLocked(Event{Kind: EventBanner, Banner: nil})

	c.mirrorToCache(welcome)
	if oldID != "" && c.cache != nil {
		go func() {
			if err := c.cache.Clear(context.Background(), oldID); err != nil {
				c.logger.Warn("transcript clear failed", "session_id", oldID, "error", err)
			}
		}()
	}
	return nil
}

// RequestMedications publishes the fetched OTC suggestions to the cart side.
// No-op when no suggestions have been fetched or no bus is attached.
func (c *Coordinator) RequestMedications(ctx context.Context, replaceCart bool) {
	c.mu.Lock()
	sessionID := c.sessionID
	suggestions := append([]catalog.Suggestion(nil), c.suggestions...)
	c.mu.Unlock()

	if len(suggestions) == 0 || c.bus == nil {
		return
	}
	c.bus.Publish(ctx, events.MedicationRequest{
		SessionID:   sessionID,
		Suggestions: suggestions,
		ReplaceCart: replaceCart,
	})
}

// Close tears down the coordinator, cancelling the completion timer and
// closing all subscriber channels.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cancelCompletionLocked()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}

// commitSummaryLocked atomically replaces the summary, refreshes the banner,
// notifies observers, and re-evaluates guarded side effects.
func (c *Coordinator) commitSummaryLocked(s Summary, kind string) {
	s.UpdatedAt = time.Now().UTC()
	c.summary = s
	c.banner = bannerFor(s)
	c.metrics.ObserveCommit(kind)
	c.publishLocked(Event{Kind: EventSummary, Summary: cloneSummary(s)})
	c.publishLocked(Event{Kind: EventBanner, Banner: c.banner})
	c.evaluateGuardsLocked()
	c.scheduleCompletionLocked()
}

func (c *Coordinator) evaluateGuardsLocked() {
	if c.guard.observeRecommendation(c.summary.RecommendationType()) {
		summary := c.summary
		go c.fetchOTCSuggestions(summary)
	}
}

func (c *Coordinator) fetchOTCSuggestions(summary Summary) {
	suggestions, err := c.api.DraftSuggestions(context.Background(), DraftRequest{
		Patient:       c.patient,
		TriageSummary: summary,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		// The latch stays fired; a later transition back into otc retries.
		c.guard.fetchFinished(false)
		c.logger.Error("otc suggestion fetch failed", "session_id", c.sessionID, "error", err)
		return
	}
	c.guard.fetchFinished(true)
	c.suggestions = suggestions
	c.publishLocked(Event{Kind: EventSuggestions, Suggestions: suggestions})
	c.maybeEmitOTCBubbleLocked()
}

// maybeEmitOTCBubbleLocked turns the fetched suggestions into a chat bubble
// once the session is completed, at most once per session.
func (c *Coordinator) maybeEmitOTCBubbleLocked() {
	if !c.guard.shouldEmitBubble(c.status == StatusCompleted) {
		return
	}
	bubble := ChatMessage{
		ID:         newMessageID(),
		Role:       RoleAI,
		OccurredAt: time.Now().UTC(),
		Metadata: &MessageMetadata{
			Type:        "otc",
			Suggestions: append([]catalog.Suggestion(nil), c.suggestions...),
		},
	}
	c.appendMessageLocked(bubble)
	c.persistSynthetic(bubble)
}

// scheduleCompletionLocked arms the debounced auto-completion once a
// recommendation first appears. Further summary commits during the delay do
// not re-arm or extend it.
func (c *Coordinator) scheduleCompletionLocked() {
	if c.summary.Recommendation == nil || c.status != StatusActive || c.completionArmed {
		return
	}
	c.completionArmed = true
	c.completionTimer = time.AfterFunc(c.completionDelay, c.completeNow)
}

func (c *Coordinator) cancelCompletionLocked() {
	if c.completionTimer != nil {
		c.completionTimer.Stop()
		c.completionTimer = nil
	}
	c.completionArmed = false
}

func (c *Coordinator) completeNow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completionArmed = false
	c.completionTimer = nil
	if c.closed || c.status != StatusActive || c.summary.Recommendation == nil {
		return
	}
	c.status = StatusCompleted
	c.metrics.ObserveCompletion()
	c.publishLocked(Event{Kind: EventStatus, Status: c.status})

	sessionID := c.sessionID
	go func() {
		if err := c.api.CompleteSession(context.Background(), sessionID); err != nil {
			c.logger.Warn("session complete call failed", "session_id", sessionID, "error", err)
		}
	}()

	switch c.summary.RecommendationType() {
	case RecommendDoctor, RecommendAppointment, RecommendEmergency:
		appt := ChatMessage{
			ID:         newMessageID(),
			Role:       RoleAI,
			OccurredAt: time.Now().UTC(),
			Metadata:   &MessageMetadata{Type: "appointment"},
		}
		c.appendMessageLocked(appt)
		c.persistSynthetic(appt)
	}
	c.maybeEmitOTCBubbleLocked()
}

func (c *Coordinator) appendMessageLocked(msg ChatMessage) {
	c.messages = append(c.messages, msg)
	c.lastMessageID = msg.ID
	c.publishLocked(Event{Kind: EventMessage, Message: &msg})
	c.mirrorToCache(msg)
}

// persistSynthetic stores a synthetic message remotely, fire and forget.
func (c *Coordinator) persistSynthetic(msg ChatMessage) {
	sessionID := c.sessionID
	go func() {
		if err := c.api.PersistMessage(context.Background(), sessionID, msg); err != nil {
			c.logger.Warn("synthetic message persist failed",
				"session_id", sessionID, "message_id", msg.ID, "error", err)
		}
	}()
}

func (c *Coordinator) mirrorToCache(msg ChatMessage) {
	if c.cache == nil || c.sessionID == "" {
		return
	}
	entry := transcript.Message{
		ID:        msg.ID,
		Role:      string(msg.Role),
		Content:   msg.Content,
		Timestamp: msg.OccurredAt,
	}
	if msg.Metadata != nil {
		entry.Metadata = map[string]string{"type": msg.Metadata.Type}
	}
	sessionID := c.sessionID
	go func() {
		if err := c.cache.Append(context.Background(), sessionID, entry); err != nil {
			c.logger.Warn("transcript cache append failed", "session_id", sessionID, "error", err)
		}
	}()
}

func cloneSummary(s Summary) *Summary {
	cp := s
	cp.Symptoms = append([]string(nil), s.Symptoms...)
	cp.RedFlags = append([]string(nil), s.RedFlags...)
	if s.Recommendation != nil {
		rec := *s.Recommendation
		cp.Recommendation = &rec
	}
	return &cp
}
