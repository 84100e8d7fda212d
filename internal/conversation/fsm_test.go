package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aperturelabs/livegateway/pkg/commons"
)

type transitionRecorder struct {
	mu   sync.Mutex
	logs []string
	ch   chan string
}

func newTransitionRecorder() *transitionRecorder {
	return &transitionRecorder{ch: make(chan string, 64)}
}

func (r *transitionRecorder) record(from, to State, reason EventKind) {
	entry := string(from) + "->" + string(to)
	r.mu.Lock()
	r.logs = append(r.logs, entry)
	r.mu.Unlock()
	r.ch <- entry
}

func (r *transitionRecorder) waitFor(t *testing.T, want string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-r.ch:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for transition %q", want)
		}
	}
}

func testLogger(t *testing.T) commons.Logger {
	t.Helper()
	l, err := commons.NewLogger("error", "")
	require.NoError(t, err)
	return l
}

func TestFSM_SafeSteadyState(t *testing.T) {
	rec := newTransitionRecorder()
	f := New(DefaultConfig(), testLogger(t), rec.record, nil)
	defer f.Close()

	ctx := context.Background()
	now := time.Now()

	require.NoError(t, f.Submit(ctx, Event{Kind: EventUserAudio, At: now}))
	rec.waitFor(t, "idle->listening")

	require.NoError(t, f.Submit(ctx, Event{Kind: EventUpstreamStart, At: now}))
	rec.waitFor(t, "listening->analyzing")

	require.NoError(t, f.Submit(ctx, Event{Kind: EventUpstreamAudio, At: now}))
	rec.waitFor(t, "analyzing->speaking")

	require.NoError(t, f.Submit(ctx, Event{Kind: EventTurnComplete, At: now}))
	rec.waitFor(t, "speaking->idle")

	assert.Equal(t, StateIdle, f.State())
}

func TestFSM_BargeIn_Interrupts(t *testing.T) {
	rec := newTransitionRecorder()
	var cancelled bool
	var mu sync.Mutex
	cfg := Config{BargeInThreshold: 40 * time.Millisecond, TieBreakWindow: 5 * time.Millisecond}
	f := New(cfg, testLogger(t), rec.record, func() {
		mu.Lock()
		cancelled = true
		mu.Unlock()
	})
	defer f.Close()

	ctx := context.Background()
	now := time.Now()
	require.NoError(t, f.Submit(ctx, Event{Kind: EventUserAudio, At: now}))
	rec.waitFor(t, "idle->listening")
	require.NoError(t, f.Submit(ctx, Event{Kind: EventUpstreamStart, At: now}))
	rec.waitFor(t, "listening->analyzing")
	require.NoError(t, f.Submit(ctx, Event{Kind: EventUpstreamAudio, At: now}))
	rec.waitFor(t, "analyzing->speaking")

	base := now.Add(time.Second)
	require.NoError(t, f.Submit(ctx, Event{Kind: EventUserAudio, At: base, AboveThreshold: true}))
	require.NoError(t, f.Submit(ctx, Event{Kind: EventUserAudio, At: base.Add(50 * time.Millisecond), AboveThreshold: true}))

	rec.waitFor(t, "speaking->interrupted")
	rec.waitFor(t, "interrupted->listening")

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, cancelled, "barge-in must cancel the in-flight upstream turn")
}

func TestFSM_TieBreak_PrefersTurnComplete(t *testing.T) {
	rec := newTransitionRecorder()
	cfg := Config{BargeInThreshold: 40 * time.Millisecond, TieBreakWindow: 50 * time.Millisecond}
	f := New(cfg, testLogger(t), rec.record, nil)
	defer f.Close()

	ctx := context.Background()
	now := time.Now()
	require.NoError(t, f.Submit(ctx, Event{Kind: EventUserAudio, At: now}))
	rec.waitFor(t, "idle->listening")
	require.NoError(t, f.Submit(ctx, Event{Kind: EventUpstreamStart, At: now}))
	rec.waitFor(t, "listening->analyzing")
	require.NoError(t, f.Submit(ctx, Event{Kind: EventUpstreamAudio, At: now}))
	rec.waitFor(t, "analyzing->speaking")

	base := now.Add(time.Second)
	// turn_complete lands first, inside the tie-break window.
	require.NoError(t, f.Submit(ctx, Event{Kind: EventTurnComplete, At: base}))
	rec.waitFor(t, "speaking->idle")

	// the barge-in streak completes just after, within the same window.
	require.NoError(t, f.Submit(ctx, Event{Kind: EventUserAudio, At: base.Add(10 * time.Millisecond), AboveThreshold: true}))
	require.NoError(t, f.Submit(ctx, Event{Kind: EventUserAudio, At: base.Add(55 * time.Millisecond), AboveThreshold: true}))

	time.Sleep(100 * time.Millisecond)
	// The turn already closed, so the audio only opens a new turn
	// (idle->listening); no interrupted transition is expected.
	assert.Equal(t, StateListening, f.State(), "turn_complete must win the tie-break, no interrupted transition expected")
}

func TestFSM_FrameGating_HaltsAndResumes(t *testing.T) {
	f := New(DefaultConfig(), testLogger(t), nil, nil)
	defer f.Close()
	ctx := context.Background()

	assert.True(t, f.AudioForwardingAllowed())

	for i := 0; i < 3; i++ {
		require.NoError(t, f.Submit(ctx, Event{Kind: EventPrivacyVerdict, Blocked: true}))
	}
	require.Eventually(t, func() bool { return !f.AudioForwardingAllowed() }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.Submit(ctx, Event{Kind: EventPrivacyVerdict, Blocked: false}))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, f.AudioForwardingAllowed(), "one safe verdict is not enough to resume")

	require.NoError(t, f.Submit(ctx, Event{Kind: EventPrivacyVerdict, Blocked: false}))
	require.Eventually(t, func() bool { return f.AudioForwardingAllowed() }, time.Second, 5*time.Millisecond)
}

func TestFSM_UpstreamFatal_FromAnyState(t *testing.T) {
	rec := newTransitionRecorder()
	f := New(DefaultConfig(), testLogger(t), rec.record, nil)
	defer f.Close()
	ctx := context.Background()

	require.NoError(t, f.Submit(ctx, Event{Kind: EventUpstreamFatal}))
	rec.waitFor(t, "idle->fatal")
	assert.Equal(t, StateFatal, f.State())
}
