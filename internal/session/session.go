// Package session implements C7 SessionManager: one Session per
// connected peer, owning its PeerConnection, media codecs, FrameSampler,
// PrivacyShield classification loop, UpstreamBridge, and ConversationFSM
// (spec.md §4.2). Grounded on the teacher's webrtcStreamer/peer-connection
// setup (api/assistant-api/internal/channel/webrtc/streamer.go) and the
// idle-timeout reaper shape from vshapovalov-rtp-stream-cleaner's
// internal/session/manager.go.
package session

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/aperturelabs/livegateway/internal/conversation"
	"github.com/aperturelabs/livegateway/internal/media/codec"
	"github.com/aperturelabs/livegateway/internal/media/sampler"
	"github.com/aperturelabs/livegateway/internal/privacy"
	"github.com/aperturelabs/livegateway/internal/signaling"
	"github.com/aperturelabs/livegateway/internal/upstream"
	"github.com/aperturelabs/livegateway/pkg/commons"
)

// bargeInEnergyThreshold is the short-term PCM16 RMS amplitude above
// which a chunk counts toward the barge-in streak (spec.md §4.7).
// Calibrated empirically; exposed only to this package.
const bargeInEnergyThreshold = 800.0

// pliMinInterval throttles keyframe requests sent back to the publisher
// after a VP8 reassembly error, so a burst of lost packets triggers one
// PictureLossIndication rather than one per packet.
const pliMinInterval = 500 * time.Millisecond

// Session is one active peer connection (spec.md §3 "Session").
type Session struct {
	ID        string
	createdAt time.Time
	logger    commons.Logger

	pc              *webrtc.PeerConnection
	localAudioTrack *webrtc.TrackLocalStaticSample

	codec   *codec.MediaCodec
	sampler *sampler.FrameSampler
	shield  *privacy.Shield
	bridge  *upstream.Bridge
	fsm     *conversation.FSM

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	lastActivityNsec atomic.Int64
	lastPLINsec      atomic.Int64
	outboundICE      chan webrtc.ICECandidateInit
}

func (s *Session) markActivity() {
	s.lastActivityNsec.Store(time.Now().UnixNano())
}

func (s *Session) lastActivity() time.Time {
	return time.Unix(0, s.lastActivityNsec.Load())
}

// newPeerConnection builds a pion PeerConnection with Opus (audio) and
// VP8 (video) registered, mirroring the teacher's createPeerConnection
// (Opus-only) generalized to also accept an ingress video track.
func newPeerConnection(iceServers []webrtc.ICEServer) (*webrtc.PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		PayloadType:        111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register opus codec: %w", err)
	}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		PayloadType:        96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register vp8 codec: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(registry))
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
}

// attachHandlers wires ICE, connection-state, and ingress track handlers,
// then starts the per-session pipeline goroutines (sampler drain, bridge
// receive). Exactly one call per Session.
func (s *Session) attachHandlers() {
	s.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		select {
		case s.outboundICE <- c.ToJSON():
		case <-s.ctx.Done():
		}
	})

	s.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Infow("peer connection state changed", "session_id", s.ID, "state", state)
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			s.cancel()
		}
	})

	s.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		switch track.Kind() {
		case webrtc.RTPCodecTypeAudio:
			s.wg.Add(1)
			go s.readRemoteAudio(track)
		case webrtc.RTPCodecTypeVideo:
			s.wg.Add(1)
			go s.readRemoteVideo(track)
		}
	})

	s.codec.OnVideoFrame(func(jpeg []byte, keyframe bool, err error) {
		if err != nil {
			s.logger.Warnw("ingress video decode failed", "session_id", s.ID, "error", err)
			return
		}
		s.sampler.SubmitVideo(jpeg, time.Now())
	})

	s.wg.Add(3)
	go s.drainStills()
	go s.drainAudio()
	go s.drainUpstreamEvents()
}

func (s *Session) readRemoteAudio(track *webrtc.TrackRemote) {
	defer s.wg.Done()
	for {
		packet, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		s.markActivity()
		pcm, err := s.codec.DecodeIngressAudio(packet.Payload)
		if err != nil {
			s.logger.Warnw("ingress audio decode failed", "session_id", s.ID, "error", err)
			continue
		}
		s.sampler.SubmitAudio(pcm, time.Now())

		select {
		case <-s.ctx.Done():
			return
		default:
		}
	}
}

func (s *Session) readRemoteVideo(track *webrtc.TrackRemote) {
	defer s.wg.Done()
	for {
		packet, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		s.markActivity()
		if err := s.codec.DecodeIngressVideo(packet); err != nil {
			s.logger.Warnw("ingress video reassembly failed", "session_id", s.ID, "error", err)
			s.requestKeyframe(track.SSRC())
		}

		select {
		case <-s.ctx.Done():
			return
		default:
		}
	}
}

// requestKeyframe sends a PictureLossIndication for ssrc so the
// publisher resends a full VP8 keyframe after a reassembly error,
// throttled to at most one per pliMinInterval.
func (s *Session) requestKeyframe(ssrc webrtc.SSRC) {
	now := time.Now().UnixNano()
	last := s.lastPLINsec.Load()
	if now-last < int64(pliMinInterval) {
		return
	}
	if !s.lastPLINsec.CompareAndSwap(last, now) {
		return
	}
	if err := s.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)}}); err != nil {
		s.logger.Warnw("write PLI failed", "session_id", s.ID, "error", err)
	}
}

// drainStills classifies every sampled StillFrame through PrivacyShield,
// feeds the verdict into the FSM's frame-gating rule, and forwards
// safe/blurred images upstream (spec.md §4.5, §4.6, §4.7).
func (s *Session) drainStills() {
	defer s.wg.Done()
	for {
		select {
		case still, ok := <-s.sampler.Stills():
			if !ok {
				return
			}
			verdict := s.shield.Classify(s.ctx, still.JPEG)
			_ = s.fsm.Submit(s.ctx, conversation.Event{
				Kind:    conversation.EventPrivacyVerdict,
				At:      time.Now(),
				Blocked: verdict.Kind == privacy.VerdictBlocked,
			})

			if verdict.Kind == privacy.VerdictBlocked || !s.fsm.AudioForwardingAllowed() {
				continue
			}

			payload := still.JPEG
			if verdict.Kind == privacy.VerdictBlurred {
				payload = verdict.ProcessedBytes
			}
			if err := s.bridge.SendImage(s.ctx, payload); err != nil {
				s.logger.Warnw("send image upstream failed", "session_id", s.ID, "error", err)
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// drainAudio forwards sampled audio chunks upstream whenever the FSM
// permits it, and feeds barge-in energy observations back into the FSM.
func (s *Session) drainAudio() {
	defer s.wg.Done()
	for {
		select {
		case chunk, ok := <-s.sampler.AudioChunks():
			if !ok {
				return
			}
			above := rmsAmplitude(chunk.PCM) > bargeInEnergyThreshold
			_ = s.fsm.Submit(s.ctx, conversation.Event{Kind: conversation.EventUserAudio, At: chunk.CapturedAt, AboveThreshold: above})

			if !s.fsm.AudioForwardingAllowed() {
				continue
			}
			switch s.fsm.State() {
			case conversation.StateListening, conversation.StateInterrupted:
				if err := s.bridge.SendAudio(s.ctx, chunk.PCM); err != nil {
					s.logger.Warnw("send audio upstream failed", "session_id", s.ID, "error", err)
				}
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// drainUpstreamEvents pumps UpstreamBridge events into the FSM and the
// client's egress audio track (spec.md §4.6).
func (s *Session) drainUpstreamEvents() {
	defer s.wg.Done()
	for {
		select {
		case evt, ok := <-s.bridge.Events():
			if !ok {
				return
			}
			switch evt.Kind {
			case upstream.EventAudioChunk:
				_ = s.fsm.Submit(s.ctx, conversation.Event{Kind: conversation.EventUpstreamAudio, At: time.Now()})
				s.writeEgressAudio(evt.Audio)
			case upstream.EventTextDelta:
				s.logger.Debugw("upstream text delta", "session_id", s.ID, "text", evt.Text)
			case upstream.EventTurnComplete:
				_ = s.fsm.Submit(s.ctx, conversation.Event{Kind: conversation.EventTurnComplete, At: time.Now()})
			case upstream.EventError:
				s.logger.Errorw("upstream event error", "session_id", s.ID, "error", evt.Err)
				_ = s.fsm.Submit(s.ctx, conversation.Event{Kind: conversation.EventUpstreamFatal, At: time.Now()})
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) writeEgressAudio(pcm []int16) {
	opus, err := s.codec.EncodeEgressAudio(pcm)
	if err != nil {
		s.logger.Warnw("egress audio encode failed", "session_id", s.ID, "error", err)
		return
	}
	if err := s.localAudioTrack.WriteSample(media.Sample{Data: opus, Duration: 20 * time.Millisecond}); err != nil {
		s.logger.Warnw("write egress sample failed", "session_id", s.ID, "error", err)
	}
}

// rmsAmplitude is the barge-in energy measure: root-mean-square of the
// PCM16 samples in one chunk.
func rmsAmplitude(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sumSquares float64
	for _, sample := range pcm {
		v := float64(sample)
		sumSquares += v * v
	}
	return math.Sqrt(sumSquares / float64(len(pcm)))
}

// close tears down the upstream bridge, FSM, sampler, and peer
// connection. Safe to call once per Session.
//
// pc.Close() runs before wg.Wait(): readRemoteAudio/readRemoteVideo block
// in track.ReadRTP(), which only returns once the PeerConnection is
// closed — it does not observe ctx. Waiting on wg before closing pc would
// deadlock every caller (idle reaper, wall-clock watchdog, Shutdown).
func (s *Session) close() {
	s.cancel()
	_ = s.pc.Close()
	s.wg.Wait()
	s.fsm.Close()
	s.sampler.Close()
	_ = s.bridge.Close()
	close(s.outboundICE)
}
