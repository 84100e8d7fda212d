// Package upstream implements C4 UpstreamBridge: one bidirectional live
// session with the upstream generative AI service per client Session.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aperturelabs/livegateway/pkg/commons"
)

// EventKind discriminates the lazy sequence of upstream events (spec.md
// §4.6 "Receive").
type EventKind string

const (
	EventAudioChunk   EventKind = "audio_chunk"
	EventTextDelta    EventKind = "text_delta"
	EventTurnComplete EventKind = "turn_complete"
	EventError        EventKind = "error"
)

// Event is one item from the upstream's response stream, delivered in
// source order.
type Event struct {
	Kind  EventKind
	Audio []int16 // EventAudioChunk: PCM16 mono 16kHz
	Text  string  // EventTextDelta
	Err   error   // EventError
}

// LiveClient is the upstream generative Live service collaborator
// (spec.md §1 "treated as a remote capability with a defined
// request/response shape").
type LiveClient interface {
	Connect(ctx context.Context) error
	SendAudio(ctx context.Context, pcm []int16) error
	SendImage(ctx context.Context, jpeg []byte) error
	EndTurn(ctx context.Context) error
	Events() <-chan Event
	Close() error
}

// ReconnectPolicy is the bounded exponential backoff from spec.md §4.6.
type ReconnectPolicy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{Base: 500 * time.Millisecond, Cap: 10 * time.Second, MaxAttempts: 5}
}

// Delay returns the backoff delay before reconnect attempt n (1-indexed).
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > p.Cap {
			return p.Cap
		}
	}
	return d
}

// ErrFatal signals the bridge exhausted its reconnect policy; the caller
// (ConversationFSM) must transition the session to `fatal`.
var ErrFatal = errors.New("upstream: fatal, reconnect attempts exhausted")

const (
	audioBufferCap = 16000 / 1000 * 20 * 100 // ~2s of 20ms 16kHz mono frames
)

// Bridge owns one LiveClient connection and the ingress buffering policy
// during reconnects: audio buffered up to 2s then dropped-oldest, images
// dropped newest-wins (spec.md §4.6).
type Bridge struct {
	client LiveClient
	policy ReconnectPolicy
	logger commons.Logger

	audioBuf    [][]int16
	audioBufLen int
	pendingJPEG []byte
}

func NewBridge(client LiveClient, policy ReconnectPolicy, logger commons.Logger) *Bridge {
	return &Bridge{client: client, policy: policy, logger: logger}
}

// Connect performs the initial handshake (spec.md §5 "upstream connect
// 10s" timeout is the caller's responsibility via ctx).
func (b *Bridge) Connect(ctx context.Context) error {
	return b.client.Connect(ctx)
}

// SendAudio forwards one PCM16 chunk. While reconnecting, chunks are
// buffered up to ~2s of audio and the oldest is dropped once full.
func (b *Bridge) SendAudio(ctx context.Context, pcm []int16) error {
	err := b.client.SendAudio(ctx, pcm)
	if err == nil {
		return nil
	}

	b.bufferAudio(pcm)
	return b.reconnect(ctx)
}

func (b *Bridge) bufferAudio(pcm []int16) {
	b.audioBuf = append(b.audioBuf, pcm)
	b.audioBufLen += len(pcm)
	for b.audioBufLen > audioBufferCap && len(b.audioBuf) > 0 {
		b.audioBufLen -= len(b.audioBuf[0])
		b.audioBuf = b.audioBuf[1:]
	}
}

// SendImage forwards one JPEG still. During reconnect, images are
// dropped newest-wins: only the most recent pending image is retried
// after reconnect succeeds.
func (b *Bridge) SendImage(ctx context.Context, jpeg []byte) error {
	err := b.client.SendImage(ctx, jpeg)
	if err == nil {
		return nil
	}

	b.pendingJPEG = jpeg
	return b.reconnect(ctx)
}

// EndTurn sends the "end of turn" signal, draining no further response
// events for the current turn.
func (b *Bridge) EndTurn(ctx context.Context) error {
	return b.client.EndTurn(ctx)
}

// Events returns the upstream event stream.
func (b *Bridge) Events() <-chan Event {
	return b.client.Events()
}

// Close tears down the live session.
func (b *Bridge) Close() error {
	return b.client.Close()
}

// reconnect retries Connect per policy, replaying buffered audio and the
// most recent pending image on success.
func (b *Bridge) reconnect(ctx context.Context) error {
	for attempt := 1; attempt <= b.policy.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.policy.Delay(attempt)):
		}

		if err := b.client.Connect(ctx); err != nil {
			b.logger.Warnw("upstream reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}

		b.logger.Infow("upstream reconnected", "attempt", attempt)
		b.drainBuffers(ctx)
		return nil
	}

	return fmt.Errorf("%w: after %d attempts", ErrFatal, b.policy.MaxAttempts)
}

func (b *Bridge) drainBuffers(ctx context.Context) {
	for _, pcm := range b.audioBuf {
		if err := b.client.SendAudio(ctx, pcm); err != nil {
			b.logger.Warnw("replay buffered audio failed", "error", err)
			break
		}
	}
	b.audioBuf = nil
	b.audioBufLen = 0

	if b.pendingJPEG != nil {
		if err := b.client.SendImage(ctx, b.pendingJPEG); err != nil {
			b.logger.Warnw("replay pending image failed", "error", err)
		}
		b.pendingJPEG = nil
	}
}
