// Package signaling implements C6 SignalingGateway: the WebRTC
// offer/answer HTTP exchange plus a long-lived bidirectional channel
// for trickled ICE candidates (spec.md §4.1).
package signaling

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/aperturelabs/livegateway/pkg/commons"
)

// SessionBinder is the SessionManager collaborator: it creates the
// Session/PeerConnection pair on negotiate, and exposes the session's
// ICE candidate traffic in both directions for the signal channel.
type SessionBinder interface {
	CreateSession(ctx context.Context, offerSDP string) (sessionID, answerSDP string, err error)
	ApplyCandidate(sessionID string, candidate webrtc.ICECandidateInit) error
	OutboundCandidates(sessionID string) (<-chan webrtc.ICECandidateInit, error)
}

// ErrUnknownSession is returned by SessionBinder implementations when a
// signal-channel message references a session id that does not exist.
var ErrUnknownSession = errors.New("signaling: unknown session id")

// ErrMalformedOffer is returned by SessionBinder.CreateSession when
// offerSDP itself cannot be applied (a client error), as distinct from an
// allocation/transient failure setting up the rest of the session.
var ErrMalformedOffer = errors.New("signaling: malformed offer sdp")

type negotiateRequest struct {
	SDP string `json:"sdp"`
}

type negotiateResponse struct {
	SDP       string `json:"sdp"`
	SessionID string `json:"session_id"`
}

// signalMessage is the small tagged JSON envelope carried over the
// signal channel, adapted from the teacher's protobuf oneof signaling
// messages (api/assistant-api/api/talk/webrtc.go) into plain JSON.
type signalMessage struct {
	Type      string                   `json:"type"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Error     string                   `json:"error,omitempty"`
}

// Gateway is the C6 SignalingGateway.
type Gateway struct {
	binder   SessionBinder
	logger   commons.Logger
	upgrader websocket.Upgrader
}

func New(binder SessionBinder, logger commons.Logger) *Gateway {
	return &Gateway{
		binder: binder,
		logger: logger,
		// CheckOrigin always true, matching the teacher's webrtcUpgrader:
		// CORS for the signal channel is enforced at the HTTP surface,
		// not here.
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

// Negotiate handles `POST /webrtc`: sets the remote description from the
// offer, creates and sets the local answer, and returns it synchronously
// (spec.md §4.1). Malformed SDP surfaces as a bad-request fault (400);
// any other session setup failure (the binder tears down the partial
// session) surfaces as a transient upstream_unavailable fault (503).
func (g *Gateway) Negotiate(c *gin.Context) {
	var req negotiateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SDP == "" {
		writeFault(c, commons.BadRequest("invalid or missing sdp offer"))
		return
	}

	sessionID, answer, err := g.binder.CreateSession(c.Request.Context(), req.SDP)
	if err != nil {
		g.logger.Warnw("negotiate failed", "error", err)
		if errors.Is(err, ErrMalformedOffer) {
			writeFault(c, commons.BadRequest("invalid sdp offer"))
			return
		}
		writeFault(c, commons.UpstreamUnavailable("failed to establish session", 0))
		return
	}

	c.JSON(http.StatusOK, negotiateResponse{SDP: answer, SessionID: sessionID})
}

// SignalChannel handles `GET /ws?session_id=...`: a bidirectional
// trickled-ICE relay. Candidates received from the client are applied
// to the session's peer connection in arrival order; candidates
// produced by the session are forwarded to the client as they occur.
func (g *Gateway) SignalChannel(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		writeFault(c, commons.BadRequest("missing session_id"))
		return
	}

	outbound, err := g.binder.OutboundCandidates(sessionID)
	if err != nil {
		writeFault(c, commons.SessionNotFound("unknown session"))
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warnw("signal channel upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go g.writeLoop(conn, outbound, done)
	g.readLoop(conn, sessionID, done)
}

func (g *Gateway) writeLoop(conn *websocket.Conn, outbound <-chan webrtc.ICECandidateInit, done chan struct{}) {
	for {
		select {
		case cand, ok := <-outbound:
			if !ok {
				return
			}
			msg := signalMessage{Type: "candidate", Candidate: &cand}
			if err := conn.WriteJSON(msg); err != nil {
				g.logger.Warnw("signal channel write failed", "error", err)
				return
			}
		case <-done:
			return
		}
	}
}

func (g *Gateway) readLoop(conn *websocket.Conn, sessionID string, done chan struct{}) {
	defer close(done)
	for {
		var msg signalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		if msg.Type != "candidate" || msg.Candidate == nil {
			continue
		}

		if err := g.binder.ApplyCandidate(sessionID, *msg.Candidate); err != nil {
			g.logger.Warnw("apply trickled ICE candidate failed", "session_id", sessionID, "error", err)
			if errors.Is(err, ErrUnknownSession) {
				_ = conn.WriteJSON(signalMessage{Type: "error", Error: "unknown session"})
				return
			}
		}
	}
}

func writeFault(c *gin.Context, fault *commons.Fault) {
	status := http.StatusInternalServerError
	switch fault.Kind {
	case commons.KindBadRequest:
		status = http.StatusBadRequest
	case commons.KindUnauthorized:
		status = http.StatusUnauthorized
	case commons.KindSessionNotFound:
		status = http.StatusNotFound
	case commons.KindUpstreamUnavail:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, fault)
}
