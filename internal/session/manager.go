package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/aperturelabs/livegateway/internal/conversation"
	"github.com/aperturelabs/livegateway/internal/media/codec"
	"github.com/aperturelabs/livegateway/internal/media/sampler"
	"github.com/aperturelabs/livegateway/internal/privacy"
	"github.com/aperturelabs/livegateway/internal/signaling"
	"github.com/aperturelabs/livegateway/internal/upstream"
	"github.com/aperturelabs/livegateway/pkg/commons"
)

// Deps bundles every collaborator and config value the Manager needs to
// assemble a Session (spec.md §4.2 "the manager is the single place that
// instantiates and destroys Sessions").
type Deps struct {
	ICEServers      []webrtc.ICEServer
	CodecConfig     codec.Config
	SampleInterval  time.Duration
	Shield          *privacy.Shield
	NewUpstream     func(ctx context.Context) (upstream.LiveClient, error)
	ReconnectPolicy upstream.ReconnectPolicy
	FSMConfig       conversation.Config
	Logger          commons.Logger
	IdleTimeout     time.Duration
	WallClockCap    time.Duration
}

// Manager is C7 SessionManager, grounded on
// vshapovalov-rtp-stream-cleaner/internal/session/manager.go's
// map+mutex store and ticker-driven idle reaper.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	deps     Deps
	now      func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewManager(deps Deps) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		deps:     deps,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	if deps.IdleTimeout > 0 {
		m.wg.Add(1)
		go m.reapIdleSessions()
	}
	return m
}

// CreateSession implements signaling.SessionBinder: it builds the
// PeerConnection, answers the offer, assembles the per-session pipeline
// (codec/sampler/bridge/FSM), and registers the Session.
func (m *Manager) CreateSession(ctx context.Context, offerSDP string) (string, string, error) {
	pc, err := newPeerConnection(m.deps.ICEServers)
	if err != nil {
		return "", "", fmt.Errorf("create peer connection: %w", err)
	}

	localAudioTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "livegateway-egress",
	)
	if err != nil {
		_ = pc.Close()
		return "", "", fmt.Errorf("create local audio track: %w", err)
	}
	if _, err := pc.AddTrack(localAudioTrack); err != nil {
		_ = pc.Close()
		return "", "", fmt.Errorf("add local audio track: %w", err)
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		_ = pc.Close()
		return "", "", fmt.Errorf("%w: set remote description: %v", signaling.ErrMalformedOffer, err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return "", "", fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return "", "", fmt.Errorf("set local description: %w", err)
	}

	mediaCodec, err := codec.New(m.deps.CodecConfig)
	if err != nil {
		_ = pc.Close()
		return "", "", fmt.Errorf("new media codec: %w", err)
	}

	upstreamClient, err := m.deps.NewUpstream(ctx)
	if err != nil {
		_ = pc.Close()
		return "", "", fmt.Errorf("new upstream client: %w", err)
	}
	bridge := upstream.NewBridge(upstreamClient, m.deps.ReconnectPolicy, m.deps.Logger)
	if err := bridge.Connect(ctx); err != nil {
		_ = pc.Close()
		return "", "", fmt.Errorf("upstream connect: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		ID:              uuid.New().String(),
		createdAt:       m.now(),
		logger:          m.deps.Logger,
		pc:              pc,
		localAudioTrack: localAudioTrack,
		codec:           mediaCodec,
		sampler:         sampler.New(m.deps.SampleInterval),
		shield:          m.deps.Shield,
		bridge:          bridge,
		ctx:             sessCtx,
		cancel:          cancel,
		outboundICE:     make(chan webrtc.ICECandidateInit, 16),
	}
	sess.fsm = conversation.New(m.deps.FSMConfig, m.deps.Logger, nil, func() {
		_ = bridge.EndTurn(sessCtx)
	})
	sess.markActivity()
	sess.attachHandlers()

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	if m.deps.WallClockCap > 0 {
		m.wg.Add(1)
		go m.enforceWallClockCap(sess)
	}

	return sess.ID, answer.SDP, nil
}

// ApplyCandidate implements signaling.SessionBinder.
func (m *Manager) ApplyCandidate(sessionID string, candidate webrtc.ICECandidateInit) error {
	sess, ok := m.get(sessionID)
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, signaling.ErrUnknownSession)
	}
	return sess.pc.AddICECandidate(candidate)
}

// OutboundCandidates implements signaling.SessionBinder.
func (m *Manager) OutboundCandidates(sessionID string) (<-chan webrtc.ICECandidateInit, error) {
	sess, ok := m.get(sessionID)
	if !ok {
		return nil, signaling.ErrUnknownSession
	}
	return sess.outboundICE, nil
}

func (m *Manager) get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// Close closes one session and removes it from the registry (spec.md
// §4.2 "close(id, reason) cancels the session token, tears down the
// upstream bridge, and disposes media resources").
func (m *Manager) Close(id string, reason string) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.deps.Logger.Infow("closing session", "session_id", id, "reason", reason)
	sess.close()
}

// Shutdown stops the reaper/watchdog goroutines and closes every
// remaining session.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()

	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Close(id, "shutdown")
	}
}

func (m *Manager) reapIdleSessions() {
	defer m.wg.Done()
	interval := m.deps.IdleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.closeIdleSessions()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) closeIdleSessions() {
	now := m.now()
	var expired []string
	m.mu.Lock()
	for id, sess := range m.sessions {
		if now.Sub(sess.lastActivity()) >= m.deps.IdleTimeout {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()
	for _, id := range expired {
		m.Close(id, "idle_timeout")
	}
}

// enforceWallClockCap closes one session at its hard wall-clock cap
// regardless of activity (spec.md §4.2 "hard per-session wall-clock
// cap").
func (m *Manager) enforceWallClockCap(sess *Session) {
	defer m.wg.Done()
	timer := time.NewTimer(m.deps.WallClockCap)
	defer timer.Stop()
	select {
	case <-timer.C:
		m.Close(sess.ID, "wall_clock_cap")
	case <-sess.ctx.Done():
	case <-m.stopCh:
	}
}
