package upstream

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/aperturelabs/livegateway/pkg/commons"
)

// genaiLiveClient adapts google.golang.org/genai's Live API to LiveClient,
// consolidating the source's several model variants into the single
// capability spec.md §9 calls for.
type genaiLiveClient struct {
	client *genai.Client
	model  string
	config *genai.LiveConnectConfig
	logger commons.Logger

	mu      sync.Mutex
	session *genai.Session
	events  chan Event
}

// NewGenAILiveClient builds a production LiveClient for the given model
// (e.g. "gemini-2.0-flash-live-001") and API key.
func NewGenAILiveClient(ctx context.Context, apiKey, model string, logger commons.Logger) (LiveClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}

	return &genaiLiveClient{
		client: client,
		model:  model,
		config: &genai.LiveConnectConfig{
			ResponseModalities: []genai.Modality{genai.ModalityAudio, genai.ModalityText},
		},
		logger: logger,
		events: make(chan Event, 32),
	}, nil
}

func (c *genaiLiveClient) Connect(ctx context.Context) error {
	session, err := c.client.Live.Connect(ctx, c.model, c.config)
	if err != nil {
		return fmt.Errorf("live connect: %w", err)
	}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	go c.receiveLoop(session)
	return nil
}

// receiveLoop pumps the session's response stream into Events() in
// source order until the session closes or errors.
func (c *genaiLiveClient) receiveLoop(session *genai.Session) {
	for {
		msg, err := session.Receive()
		if err != nil {
			c.events <- Event{Kind: EventError, Err: err}
			return
		}

		if sc := msg.ServerContent; sc != nil {
			if mt := sc.ModelTurn; mt != nil {
				for _, part := range mt.Parts {
					if part.Text != "" {
						c.events <- Event{Kind: EventTextDelta, Text: part.Text}
					}
					if part.InlineData != nil && len(part.InlineData.Data) > 0 {
						pcm, err := bytesToPCM16(part.InlineData.Data)
						if err != nil {
							c.logger.Warnw("upstream audio decode failed", "error", err)
							continue
						}
						c.events <- Event{Kind: EventAudioChunk, Audio: pcm}
					}
				}
			}
			if sc.TurnComplete {
				c.events <- Event{Kind: EventTurnComplete}
			}
		}
	}
}

func (c *genaiLiveClient) SendAudio(ctx context.Context, pcm []int16) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return fmt.Errorf("upstream: not connected")
	}

	return session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{
			MIMEType: "audio/pcm;rate=16000",
			Data:     pcm16ToBytes(pcm),
		},
	})
}

func (c *genaiLiveClient) SendImage(ctx context.Context, jpeg []byte) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return fmt.Errorf("upstream: not connected")
	}

	return session.SendRealtimeInput(genai.LiveRealtimeInput{
		Video: &genai.Blob{
			MIMEType: "image/jpeg",
			Data:     jpeg,
		},
	})
}

func (c *genaiLiveClient) EndTurn(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return fmt.Errorf("upstream: not connected")
	}

	return session.SendClientContent(genai.LiveClientContentInput{TurnComplete: true})
}

func (c *genaiLiveClient) Events() <-chan Event {
	return c.events
}

func (c *genaiLiveClient) Close() error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()

	if session == nil {
		return nil
	}
	return session.Close()
}

// pcm16ToBytes/bytesToPCM16 convert between []int16 PCM samples and the
// little-endian byte blobs the Live API's audio/pcm MIME type expects.
func pcm16ToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

func bytesToPCM16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("odd-length PCM payload: %d bytes", len(data))
	}
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(data[2*i]) | int16(data[2*i+1])<<8
	}
	return out, nil
}
