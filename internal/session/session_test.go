package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRMSAmplitude(t *testing.T) {
	tests := []struct {
		name string
		pcm  []int16
		want float64
	}{
		{"empty", nil, 0},
		{"silence", []int16{0, 0, 0, 0}, 0},
		{"constant amplitude", []int16{100, -100, 100, -100}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, rmsAmplitude(tt.pcm), 0.001)
		})
	}
}
