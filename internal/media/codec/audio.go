package codec

import (
	"fmt"

	resampler "github.com/tphakala/go-audio-resampler"
	"gopkg.in/hraban/opus.v2"
)

const (
	// WebRTCSampleRate is the sample rate browsers negotiate Opus at.
	WebRTCSampleRate = 48000
	// WebRTCChannels is the channel count of the browser's Opus track.
	WebRTCChannels = 2
	// UpstreamSampleRate is the PCM16 rate the Live service expects
	// (spec.md §6 "Audio upstream: PCM16, mono, 16 kHz").
	UpstreamSampleRate = 16000
	// UpstreamChannels is the channel count the Live service expects.
	UpstreamChannels = 1
	// FrameDurationMs is the framing interval for both directions.
	FrameDurationMs = 20

	opusMaxFrameSamples = WebRTCSampleRate / 1000 * 120 // 120ms max per RFC 6716
)

// AudioCodec encodes/decodes the browser-facing Opus stream. Grounded on
// the teacher's webrtc_internal.OpusCodec call shape (Encode/Decode over
// raw PCM16), reconstructed since the teacher's own codec source was not
// retrieved — only its call sites were.
type AudioCodec struct {
	encoder *opus.Encoder
	decoder *opus.Decoder
}

func NewAudioCodec() (*AudioCodec, error) {
	enc, err := opus.NewEncoder(WebRTCSampleRate, WebRTCChannels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("new opus encoder: %w", err)
	}
	dec, err := opus.NewDecoder(WebRTCSampleRate, WebRTCChannels)
	if err != nil {
		return nil, fmt.Errorf("new opus decoder: %w", err)
	}
	return &AudioCodec{encoder: enc, decoder: dec}, nil
}

// Decode turns one Opus RTP payload into interleaved PCM16 samples at
// WebRTCSampleRate/WebRTCChannels.
func (c *AudioCodec) Decode(payload []byte) ([]int16, error) {
	pcm := make([]int16, opusMaxFrameSamples*WebRTCChannels)
	n, err := c.decoder.Decode(payload, pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	return pcm[:n*WebRTCChannels], nil
}

// Encode turns interleaved PCM16 samples at WebRTCSampleRate/WebRTCChannels
// into one Opus RTP payload.
func (c *AudioCodec) Encode(pcm []int16) ([]byte, error) {
	data := make([]byte, 4000)
	n, err := c.encoder.Encode(pcm, data)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	return data[:n], nil
}

// PCMResampler converts interleaved PCM16 between sample rates and channel
// counts, grounded on the teacher's internal_type.AudioResampler.Resample
// call shape (two audio-config values in, resampled PCM out).
type PCMResampler struct{}

func NewPCMResampler() *PCMResampler {
	return &PCMResampler{}
}

// AudioConfig pins a sample rate and channel count for one side of a
// resample call.
type AudioConfig struct {
	SampleRateHz int
	Channels     int
}

var (
	WebRTCAudioConfig   = AudioConfig{SampleRateHz: WebRTCSampleRate, Channels: WebRTCChannels}
	UpstreamAudioConfig = AudioConfig{SampleRateHz: UpstreamSampleRate, Channels: UpstreamChannels}
)

// Resample converts pcm from `from` to `to`, downmixing to mono when the
// channel counts differ by averaging interleaved samples.
func (r *PCMResampler) Resample(pcm []int16, from, to AudioConfig) ([]int16, error) {
	mono := pcm
	if from.Channels == 2 && to.Channels == 1 {
		mono = downmixStereoToMono(pcm)
	}

	if from.SampleRateHz == to.SampleRateHz {
		return upmixIfNeeded(mono, to.Channels), nil
	}

	res, err := resampler.New(resampler.Config{
		InputSampleRate:  from.SampleRateHz,
		OutputSampleRate: to.SampleRateHz,
		Channels:         1,
	})
	if err != nil {
		return nil, fmt.Errorf("new resampler: %w", err)
	}
	out, err := res.Resample(mono)
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}

	return upmixIfNeeded(out, to.Channels), nil
}

func downmixStereoToMono(pcm []int16) []int16 {
	mono := make([]int16, len(pcm)/2)
	for i := range mono {
		l, r := int32(pcm[2*i]), int32(pcm[2*i+1])
		mono[i] = int16((l + r) / 2)
	}
	return mono
}

func upmixIfNeeded(mono []int16, channels int) []int16 {
	if channels == 1 {
		return mono
	}
	out := make([]int16, len(mono)*channels)
	for i, s := range mono {
		for c := 0; c < channels; c++ {
			out[i*channels+c] = s
		}
	}
	return out
}

// SamplesPerFrame returns the number of interleaved samples in one
// FrameDurationMs frame at the given config.
func SamplesPerFrame(cfg AudioConfig) int {
	return cfg.SampleRateHz / 1000 * FrameDurationMs * cfg.Channels
}
