package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDownmixStereoToMono(t *testing.T) {
	tests := []struct {
		name     string
		input    []int16
		expected []int16
	}{
		{"silence", []int16{0, 0, 0, 0}, []int16{0, 0}},
		{"equal channels", []int16{100, 100, -200, -200}, []int16{100, -200}},
		{"asymmetric", []int16{100, 200, 0, 0}, []int16{150, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, downmixStereoToMono(tt.input))
		})
	}
}

func TestUpmixIfNeeded(t *testing.T) {
	mono := []int16{10, 20, 30}

	assert.Equal(t, mono, upmixIfNeeded(mono, 1))
	assert.Equal(t, []int16{10, 10, 20, 20, 30, 30}, upmixIfNeeded(mono, 2))
}

func TestSamplesPerFrame(t *testing.T) {
	assert.Equal(t, 320, SamplesPerFrame(UpstreamAudioConfig)) // 16000/1000*20*1
	assert.Equal(t, 1920, SamplesPerFrame(WebRTCAudioConfig))  // 48000/1000*20*2
}

func TestResample_SameSampleRateMonoToStereo(t *testing.T) {
	r := NewPCMResampler()
	pcm := []int16{1, 2, 3}

	out, err := r.Resample(pcm, AudioConfig{SampleRateHz: 16000, Channels: 1}, AudioConfig{SampleRateHz: 16000, Channels: 2})
	assert.NoError(t, err)
	assert.Equal(t, []int16{1, 1, 2, 2, 3, 3}, out)
}
