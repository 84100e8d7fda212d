package session

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"

	"github.com/aperturelabs/livegateway/internal/signaling"
)

func newEmptyManager() *Manager {
	return NewManager(Deps{})
}

func TestManager_ApplyCandidate_UnknownSession(t *testing.T) {
	m := newEmptyManager()

	err := m.ApplyCandidate("does-not-exist", webrtc.ICECandidateInit{Candidate: "candidate:1"})

	assert.Error(t, err)
	assert.True(t, errors.Is(err, signaling.ErrUnknownSession))
}

func TestManager_OutboundCandidates_UnknownSession(t *testing.T) {
	m := newEmptyManager()

	_, err := m.OutboundCandidates("does-not-exist")

	assert.Error(t, err)
	assert.True(t, errors.Is(err, signaling.ErrUnknownSession))
}

func TestManager_Close_UnknownSession_NoOp(t *testing.T) {
	m := newEmptyManager()

	assert.NotPanics(t, func() { m.Close("does-not-exist", "test") })
}
