package signaling

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aperturelabs/livegateway/pkg/commons"
)

type fakeBinder struct {
	answerSDP    string
	sessionID    string
	createErr    error
	applyErr     error
	appliedCands []webrtc.ICECandidateInit
	outbound     chan webrtc.ICECandidateInit
}

func (f *fakeBinder) CreateSession(ctx context.Context, offerSDP string) (string, string, error) {
	if f.createErr != nil {
		return "", "", f.createErr
	}
	return f.sessionID, f.answerSDP, nil
}

func (f *fakeBinder) ApplyCandidate(sessionID string, candidate webrtc.ICECandidateInit) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.appliedCands = append(f.appliedCands, candidate)
	return nil
}

func (f *fakeBinder) OutboundCandidates(sessionID string) (<-chan webrtc.ICECandidateInit, error) {
	if sessionID != f.sessionID {
		return nil, ErrUnknownSession
	}
	return f.outbound, nil
}

func testLogger(t *testing.T) commons.Logger {
	t.Helper()
	l, err := commons.NewLogger("error", "")
	require.NoError(t, err)
	return l
}

func TestGateway_Negotiate_Success(t *testing.T) {
	gin.SetMode(gin.TestMode)
	binder := &fakeBinder{sessionID: "sess-1", answerSDP: "v=0 answer"}
	gw := New(binder, testLogger(t))

	r := gin.New()
	r.POST("/webrtc", gw.Negotiate)

	body := bytes.NewBufferString(`{"sdp":"v=0 offer"}`)
	req := httptest.NewRequest(http.MethodPost, "/webrtc", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sess-1")
	assert.Contains(t, rec.Body.String(), "v=0 answer")
}

func TestGateway_Negotiate_MissingSDP_BadRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	binder := &fakeBinder{}
	gw := New(binder, testLogger(t))

	r := gin.New()
	r.POST("/webrtc", gw.Negotiate)

	req := httptest.NewRequest(http.MethodPost, "/webrtc", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGateway_Negotiate_CreateSessionError_ServiceUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	binder := &fakeBinder{createErr: assertErr("boom")}
	gw := New(binder, testLogger(t))

	r := gin.New()
	r.POST("/webrtc", gw.Negotiate)

	req := httptest.NewRequest(http.MethodPost, "/webrtc", bytes.NewBufferString(`{"sdp":"v=0 offer"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGateway_SignalChannel_UnknownSession_NotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	binder := &fakeBinder{sessionID: "sess-1", outbound: make(chan webrtc.ICECandidateInit)}
	gw := New(binder, testLogger(t))

	r := gin.New()
	r.GET("/ws", gw.SignalChannel)

	req := httptest.NewRequest(http.MethodGet, "/ws?session_id=does-not-exist", nil)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
