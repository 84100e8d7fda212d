// Package sampler implements C2 FrameSampler: it decouples ingest cadence
// from upstream cadence, mirroring the teacher's ticker-paced output loop
// (streamer.go's runOutputWriter) but applied to sampling rather than
// pacing egress audio.
package sampler

import (
	"sync"
	"sync/atomic"
	"time"
)

// StillFrame is a video MediaFrame selected by the sampler; carries a
// JPEG-encoded payload and the original capture timestamp.
type StillFrame struct {
	SequenceID int64
	CapturedAt time.Time
	JPEG       []byte
}

// AudioChunk is PCM16, mono, 16 kHz, 20 ms framing, passed through
// unchanged from MediaCodec.
type AudioChunk struct {
	SequenceID int64
	CapturedAt time.Time
	PCM        []int16
}

// Metrics tracks the observable counters spec.md §4.4 requires ("dropping
// is counted as an observable metric").
type Metrics struct {
	DroppedStills int64
}

// FrameSampler rate-limits one video track to a configurable cadence and
// passes audio through unchanged, both carrying monotonic per-track
// sequence ids (spec.md §3 "at most one StillFrame per session per
// sampling interval").
type FrameSampler struct {
	interval time.Duration

	mu       sync.Mutex
	pending  *rawVideoFrame
	videoSeq int64
	audioSeq int64

	metrics Metrics

	stillOut chan StillFrame
	audioOut chan AudioChunk

	ctx    doneSignal
	cancel func()
}

type rawVideoFrame struct {
	jpeg       []byte
	capturedAt time.Time
}

// doneSignal is a minimal cancellation surface so FrameSampler does not
// need to import context for one channel.
type doneSignal <-chan struct{}

// New builds a FrameSampler emitting at most one still every interval
// (default 1000ms per spec.md §6 SAMPLE_INTERVAL_MS) and a pass-through of
// audio chunks on a 256-chunk buffered channel; audio is never dropped —
// SubmitAudio blocks when the buffer is full until it drains or Close.
func New(interval time.Duration) *FrameSampler {
	done := make(chan struct{})
	s := &FrameSampler{
		interval: interval,
		stillOut: make(chan StillFrame, 4),
		audioOut: make(chan AudioChunk, 256),
		ctx:      done,
		cancel:   func() { close(done) },
	}
	go s.run(done)
	return s
}

// Stills returns the channel StillFrames are emitted on.
func (s *FrameSampler) Stills() <-chan StillFrame { return s.stillOut }

// AudioChunks returns the pass-through channel AudioChunks are emitted on.
func (s *FrameSampler) AudioChunks() <-chan AudioChunk { return s.audioOut }

// Metrics returns a snapshot of the drop counters.
func (s *FrameSampler) Metrics() Metrics {
	return Metrics{DroppedStills: atomic.LoadInt64(&s.metrics.DroppedStills)}
}

// SubmitVideo offers one decoded, JPEG-encoded ingress frame. Per
// spec.md §4.4, if two frames arrive within the same sampling interval
// only the most recent is kept (newest-wins); the superseded frame counts
// as dropped.
func (s *FrameSampler) SubmitVideo(jpeg []byte, capturedAt time.Time) {
	s.mu.Lock()
	if s.pending != nil {
		atomic.AddInt64(&s.metrics.DroppedStills, 1)
	}
	s.pending = &rawVideoFrame{jpeg: jpeg, capturedAt: capturedAt}
	s.mu.Unlock()
}

// SubmitAudio passes one decoded PCM16 chunk straight through, assigning
// it the next monotonic sequence id.
func (s *FrameSampler) SubmitAudio(pcm []int16, capturedAt time.Time) {
	seq := atomic.AddInt64(&s.audioSeq, 1)
	chunk := AudioChunk{SequenceID: seq, CapturedAt: capturedAt, PCM: pcm}
	select {
	case s.audioOut <- chunk:
	case <-s.ctx:
	}
}

func (s *FrameSampler) run(done <-chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.emitPendingStill()
		}
	}
}

func (s *FrameSampler) emitPendingStill() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if pending == nil {
		return
	}

	seq := atomic.AddInt64(&s.videoSeq, 1)
	still := StillFrame{SequenceID: seq, CapturedAt: pending.capturedAt, JPEG: pending.jpeg}

	select {
	case s.stillOut <- still:
	default:
		// Downstream (PrivacyShield + UpstreamBridge) cannot keep up;
		// newest-wins means we drop this tick's still rather than block.
		atomic.AddInt64(&s.metrics.DroppedStills, 1)
	}
}

// Close stops the sampling ticker. Safe to call once.
func (s *FrameSampler) Close() {
	s.cancel()
}
