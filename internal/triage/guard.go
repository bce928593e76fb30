package triage

// LatchState is the explicit state of a one-shot trigger.
type LatchState string

const (
	LatchArmed LatchState = "armed"
	LatchFired LatchState = "fired"
)

// Latch fires an action at most once per qualifying state. It re-arms only
// when the owner observes the state leaving the qualifying condition, so
// repeated evaluation of the same condition cannot double-fire.
//
// Latches are not internally synchronized; the Coordinator serializes all
// access under its own mutex.
type Latch struct {
	state LatchState
}

// NewLatch returns an armed latch.
func NewLatch() *Latch {
	return &Latch{state: LatchArmed}
}

// Fire transitions armed → fired and reports whether this call did so.
func (l *Latch) Fire() bool {
	if l.state == LatchFired {
		return false
	}
	l.state = LatchFired
	return true
}

// Arm resets the latch so it may fire again.
func (l *Latch) Arm() {
	l.state = LatchArmed
}

// State exposes the current state for tests and snapshots.
func (l *Latch) State() LatchState {
	return l.state
}

// sideEffectGuard owns the one-shot conditions derived from the committed
// summary: the OTC suggestion fetch and the OTC chat bubble. The bubble waits
// for both "suggestions fetched" and "session completed", in either order.
type sideEffectGuard struct {
	otcFetch  *Latch
	otcBubble *Latch

	fetching         bool
	suggestionsReady bool
}

func newSideEffectGuard() *sideEffectGuard {
	return &sideEffectGuard{
		otcFetch:  NewLatch(),
		otcBubble: NewLatch(),
	}
}

// observeRecommendation applies the latch protocol to a committed
// recommendation and reports whether an OTC fetch should start now.
func (g *sideEffectGuard) observeRecommendation(rec RecommendationType) bool {
	if rec != RecommendOTC {
		g.otcFetch.Arm()
		return false
	}
	if g.fetching {
		return false
	}
	if !g.otcFetch.Fire() {
		return false
	}
	g.fetching = true
	return true
}

// fetchFinished records the outcome of an OTC fetch.
func (g *sideEffectGuard) fetchFinished(ok bool) {
	g.fetching = false
	if ok {
		g.suggestionsReady = true
	}
}

// shouldEmitBubble fires the bubble latch once suggestions are fetched and
// the session is completed, whichever became true last.
func (g *sideEffectGuard) shouldEmitBubble(completed bool) bool {
	if !g.suggestionsReady || !completed {
		return false
	}
	return g.otcBubble.Fire()
}

// reset clears all guard state for a fresh session.
func (g *sideEffectGuard) reset() {
	g.otcFetch.Arm()
	g.otcBubble.Arm()
	g.fetching = false
	g.suggestionsReady = false
}
