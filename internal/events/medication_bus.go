package events

import (
	"context"
	"sync"

	"github.com/sehatline/triage-ai/internal/catalog"
)

// MedicationRequest asks the cart side to resolve and add AI-suggested
// medications. Published by the triage coordinator, consumed by the cart
// resolver loop.
type MedicationRequest struct {
	SessionID   string
	Suggestions []catalog.Suggestion
	ReplaceCart bool
}

// MedicationBus is an explicit publish/subscribe channel owned by whoever
// wires the application together. It replaces any notion of a process-global
// bus: components receive the bus as a dependency.
type MedicationBus struct {
	mu     sync.Mutex
	subs   map[int]chan MedicationRequest
	nextID int
	closed bool
}

// NewMedicationBus creates an empty bus.
func NewMedicationBus() *MedicationBus {
	return &MedicationBus{subs: make(map[int]chan MedicationRequest)}
}

// Subscribe registers a buffered subscription. The returned cancel function
// removes the subscription and closes its channel.
func (b *MedicationBus) Subscribe() (<-chan MedicationRequest, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan MedicationRequest, 8)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// Publish delivers the request to every subscriber. A subscriber with a full
// buffer is skipped rather than blocking the publisher; ctx aborts delivery.
func (b *MedicationBus) Publish(ctx context.Context, req MedicationRequest) {
	b.mu.Lock()
	channels := make([]chan MedicationRequest, 0, len(b.subs))
	for _, ch := range b.subs {
		channels = append(channels, ch)
	}
	b.mu.Unlock()

	for _, ch := range channels {
		select {
		case ch <- req:
		case <-ctx.Done():
			return
		default:
		}
	}
}

// Close removes all subscriptions and closes their channels.
func (b *MedicationBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
