// Package conversation implements C5 ConversationFSM: the agent state
// machine, interruption handling, and the privacy-wide audio-forwarding
// gate, all serialized through a single owning goroutine per spec.md
// §4.7 and §5's "one logical task per session" scheduling model.
package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/aperturelabs/livegateway/pkg/commons"
)

// State is one node of the transition table in spec.md §4.7.
type State string

const (
	StateIdle        State = "idle"
	StateListening   State = "listening"
	StateAnalyzing   State = "analyzing"
	StateSpeaking    State = "speaking"
	StateInterrupted State = "interrupted"
	StateFatal       State = "fatal"
)

// EventKind tags the events the FSM's run loop consumes.
type EventKind string

const (
	EventUserAudio       EventKind = "user_audio"
	EventSpatialQuery    EventKind = "spatial_query"
	EventUpstreamStart   EventKind = "upstream_response_start"
	EventUpstreamAudio   EventKind = "upstream_audio_chunk"
	EventTurnComplete    EventKind = "turn_complete"
	EventClientInterrupt EventKind = "client_interrupt"
	EventUpstreamFatal   EventKind = "upstream_fatal"
	EventSessionCancel   EventKind = "session_cancel"
	EventPrivacyVerdict  EventKind = "privacy_verdict"
)

// Event is one input to the FSM. Fields are interpreted per Kind:
// AboveThreshold/At for EventUserAudio (barge-in energy detection),
// Blocked for EventPrivacyVerdict (frame-gating rule).
type Event struct {
	Kind           EventKind
	At             time.Time
	AboveThreshold bool
	Blocked        bool
}

// TransitionFunc observes every state change, in the single total order
// the run loop imposes (spec.md §5 "FSM state changes are totally
// ordered; observers see them in a single monotonic sequence").
type TransitionFunc func(from, to State, reason EventKind)

// Config pins the barge-in and tie-break windows (spec.md §4.7).
type Config struct {
	BargeInThreshold time.Duration
	TieBreakWindow   time.Duration
}

func DefaultConfig() Config {
	return Config{BargeInThreshold: 200 * time.Millisecond, TieBreakWindow: 50 * time.Millisecond}
}

// FSM is the C5 ConversationFSM. All state is owned by run(); external
// callers only ever send Events in or read the published snapshot.
type FSM struct {
	cfg    Config
	logger commons.Logger

	events chan Event
	done   chan struct{}
	once   sync.Once

	onTransition TransitionFunc
	onCancelTurn func()

	snapMu sync.RWMutex
	state  State
	halted bool // privacy-wide audio forwarding halt

	streakActive bool
	streakStart  time.Time

	graceArmed         bool
	graceTimer         *time.Timer
	lastTurnCompleteAt time.Time

	consecutiveBlocked int
	consecutiveSafe    int
}

// New starts the FSM's run loop in state `idle`. onTransition and
// onCancelTurn may be nil. onCancelTurn is invoked synchronously from
// the run loop on barge-in / client interrupt, before the FSM proceeds
// to `listening`; it must not block.
func New(cfg Config, logger commons.Logger, onTransition TransitionFunc, onCancelTurn func()) *FSM {
	f := &FSM{
		cfg:          cfg,
		logger:       logger,
		events:       make(chan Event, 64),
		done:         make(chan struct{}),
		onTransition: onTransition,
		onCancelTurn: onCancelTurn,
		state:        StateIdle,
	}
	go f.run()
	return f
}

// Submit enqueues an event, blocking only on backpressure from the run
// loop or ctx cancellation.
func (f *FSM) Submit(ctx context.Context, ev Event) error {
	select {
	case f.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return nil
	}
}

// State returns the current state snapshot.
func (f *FSM) State() State {
	f.snapMu.RLock()
	defer f.snapMu.RUnlock()
	return f.state
}

// AudioForwardingAllowed reports whether the privacy-wide halt (spec.md
// §4.7 frame-gating rule) currently blocks audio forwarding, independent
// of the FSM's conversational state.
func (f *FSM) AudioForwardingAllowed() bool {
	f.snapMu.RLock()
	defer f.snapMu.RUnlock()
	return !f.halted
}

// Close stops the run loop. Safe to call more than once.
func (f *FSM) Close() {
	f.once.Do(func() { close(f.done) })
}

func (f *FSM) run() {
	for {
		var graceC <-chan time.Time
		if f.graceArmed {
			graceC = f.graceTimer.C
		}

		select {
		case ev := <-f.events:
			f.handle(ev)
		case <-graceC:
			f.graceArmed = false
			f.fireBargeIn()
		case <-f.done:
			return
		}
	}
}

func (f *FSM) handle(ev Event) {
	switch ev.Kind {
	case EventUserAudio:
		f.onUserAudio(ev)
	case EventSpatialQuery, EventUpstreamStart:
		if f.current() == StateListening {
			f.transition(StateAnalyzing, ev.Kind)
		}
	case EventUpstreamAudio:
		if f.current() == StateAnalyzing {
			f.transition(StateSpeaking, ev.Kind)
		}
	case EventTurnComplete:
		f.onTurnComplete(ev)
	case EventClientInterrupt:
		if f.current() == StateSpeaking {
			f.doInterrupt(EventClientInterrupt)
		}
	case EventUpstreamFatal, EventSessionCancel:
		f.transition(StateFatal, ev.Kind)
	case EventPrivacyVerdict:
		f.onPrivacyVerdict(ev)
	}
}

func (f *FSM) onUserAudio(ev Event) {
	if f.current() == StateIdle {
		f.transition(StateListening, EventUserAudio)
	}

	if f.current() != StateSpeaking || !ev.AboveThreshold {
		f.streakActive = false
		return
	}

	if !f.streakActive {
		f.streakActive = true
		f.streakStart = ev.At
	}
	if ev.At.Sub(f.streakStart) >= f.cfg.BargeInThreshold {
		f.armBargeIn(ev.At)
	}
}

// armBargeIn starts the tie-break grace window (spec.md §4.7: "if the
// completion event is fully received within the same 50ms window as
// interruption, prefer turn_complete"). If a turn_complete already
// landed inside the window, the barge-in is dropped immediately.
func (f *FSM) armBargeIn(now time.Time) {
	if f.graceArmed {
		return
	}
	if !f.lastTurnCompleteAt.IsZero() && now.Sub(f.lastTurnCompleteAt) <= f.cfg.TieBreakWindow {
		return
	}
	f.graceArmed = true
	f.graceTimer = time.NewTimer(f.cfg.TieBreakWindow)
}

func (f *FSM) fireBargeIn() {
	if f.current() == StateSpeaking {
		f.doInterrupt(EventUserAudio)
	}
}

func (f *FSM) onTurnComplete(ev Event) {
	f.lastTurnCompleteAt = ev.At
	if f.graceArmed {
		f.graceTimer.Stop()
		f.graceArmed = false
	}

	switch f.current() {
	case StateSpeaking:
		f.transition(StateIdle, EventTurnComplete)
	case StateAnalyzing:
		f.transition(StateIdle, EventTurnComplete)
	case StateInterrupted:
		f.transition(StateListening, EventTurnComplete)
	}
}

// doInterrupt implements the speaking->interrupted->listening sequence:
// cancel the in-flight turn, then immediately open a new one, since our
// own cancellation is the thing that confirms the turn has ended (there
// is no separate upstream acknowledgment to wait on).
func (f *FSM) doInterrupt(reason EventKind) {
	f.transition(StateInterrupted, reason)
	if f.onCancelTurn != nil {
		f.onCancelTurn()
	}
	f.streakActive = false
	f.transition(StateListening, EventTurnComplete)
}

func (f *FSM) onPrivacyVerdict(ev Event) {
	if ev.Blocked {
		f.consecutiveBlocked++
		f.consecutiveSafe = 0
		if f.consecutiveBlocked >= 3 {
			f.setHalted(true)
		}
		return
	}

	f.consecutiveSafe++
	f.consecutiveBlocked = 0
	if f.consecutiveSafe >= 2 {
		f.setHalted(false)
	}
}

func (f *FSM) setHalted(halted bool) {
	f.snapMu.Lock()
	changed := f.halted != halted
	f.halted = halted
	f.snapMu.Unlock()
	if changed {
		f.logger.Warnw("privacy-wide audio forwarding gate changed", "halted", halted)
	}
}

func (f *FSM) current() State {
	f.snapMu.RLock()
	defer f.snapMu.RUnlock()
	return f.state
}

func (f *FSM) transition(to State, reason EventKind) {
	f.snapMu.Lock()
	from := f.state
	f.state = to
	f.snapMu.Unlock()

	if from == to {
		return
	}
	f.logger.Infow("fsm transition", "from", from, "to", to, "reason", reason)
	if f.onTransition != nil {
		f.onTransition(from, to, reason)
	}
}
