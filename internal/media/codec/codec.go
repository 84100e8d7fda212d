// Package codec implements C1 MediaCodec: decoding ingress RTP into raw
// frames/PCM and encoding egress PCM/images back onto the client's tracks.
package codec

import (
	"fmt"

	"github.com/pion/rtp"
)

// MediaCodec bundles the audio and video codec state for one Session.
// One instance per Session; not safe for concurrent use from more than
// one ingress/egress goroutine pair per direction (mirrors the teacher's
// webrtcStreamer, which owns one opusCodec/resampler pair per connection).
type MediaCodec struct {
	audio       *AudioCodec
	resampler   *PCMResampler
	video       *VP8Depacketizer
	decoder     VideoDecoder
	jpegQuality int
	maxLongSide int
}

// Config pins the JPEG quality and size cap MediaCodec re-encodes ingress
// video frames at, per spec.md §6 "Images upstream: JPEG, quality 70-85,
// <=768px on the long side".
type Config struct {
	JPEGQuality int
	MaxLongSide int
}

func DefaultConfig() Config {
	return Config{JPEGQuality: 80, MaxLongSide: 768}
}

func New(cfg Config) (*MediaCodec, error) {
	audio, err := NewAudioCodec()
	if err != nil {
		return nil, fmt.Errorf("new audio codec: %w", err)
	}
	return &MediaCodec{
		audio:       audio,
		resampler:   NewPCMResampler(),
		video:       NewVP8Depacketizer(),
		decoder:     NewVideoDecoder(),
		jpegQuality: cfg.JPEGQuality,
		maxLongSide: cfg.MaxLongSide,
	}, nil
}

// DecodeIngressAudio decodes one Opus RTP packet's payload to 16kHz mono
// PCM16, ready for FrameSampler/UpstreamBridge.
func (m *MediaCodec) DecodeIngressAudio(payload []byte) ([]int16, error) {
	pcm48k2ch, err := m.audio.Decode(payload)
	if err != nil {
		return nil, err
	}
	return m.resampler.Resample(pcm48k2ch, WebRTCAudioConfig, UpstreamAudioConfig)
}

// EncodeEgressAudio resamples 16kHz mono PCM16 from UpstreamBridge up to
// 48kHz stereo and Opus-encodes it for the client's egress audio track.
func (m *MediaCodec) EncodeEgressAudio(pcm16kMono []int16) ([]byte, error) {
	pcm48k2ch, err := m.resampler.Resample(pcm16kMono, UpstreamAudioConfig, WebRTCAudioConfig)
	if err != nil {
		return nil, err
	}
	return m.audio.Encode(pcm48k2ch)
}

// FrameReadyFunc is invoked with a complete, JPEG-encoded ingress video
// frame once enough RTP packets have been reassembled.
type FrameReadyFunc func(jpeg []byte, keyframe bool, err error)

// OnVideoFrame registers the callback fired when DecodeIngressVideo
// reassembles a full frame.
func (m *MediaCodec) OnVideoFrame(fn FrameReadyFunc) {
	m.video.OnFrame = func(frame []byte, keyframe bool) {
		img, err := m.decoder.Decode(frame)
		if err != nil {
			fn(nil, keyframe, err)
			return
		}
		jpeg, err := EncodeJPEG(img, m.jpegQuality, m.maxLongSide)
		fn(jpeg, keyframe, err)
	}
}

// DecodeIngressVideo feeds one RTP packet into the VP8 reassembly buffer.
// Completed frames are delivered asynchronously via the OnVideoFrame
// callback, not this call's return value.
func (m *MediaCodec) DecodeIngressVideo(packet *rtp.Packet) error {
	return m.video.ProcessPacket(packet)
}
