package sampler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameSampler_EmitsOneStillPerInterval(t *testing.T) {
	s := New(30 * time.Millisecond)
	defer s.Close()

	now := time.Now()
	s.SubmitVideo([]byte("frame-1"), now)
	s.SubmitVideo([]byte("frame-2"), now) // same interval: newest-wins

	select {
	case still := <-s.Stills():
		assert.Equal(t, []byte("frame-2"), still.JPEG)
		assert.Equal(t, int64(1), still.SequenceID)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected a still frame before timeout")
	}

	assert.Equal(t, int64(1), s.Metrics().DroppedStills)
}

func TestFrameSampler_MonotonicSequenceIDs(t *testing.T) {
	s := New(20 * time.Millisecond)
	defer s.Close()

	var seqs []int64
	for i := 0; i < 3; i++ {
		s.SubmitVideo([]byte{byte(i)}, time.Now())
		select {
		case still := <-s.Stills():
			seqs = append(seqs, still.SequenceID)
		case <-time.After(200 * time.Millisecond):
			t.Fatal("expected a still frame before timeout")
		}
	}

	require.Len(t, seqs, 3)
	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1])
	}
}

func TestFrameSampler_AudioPassThrough(t *testing.T) {
	s := New(time.Second)
	defer s.Close()

	pcm := []int16{1, 2, 3}
	s.SubmitAudio(pcm, time.Now())

	select {
	case chunk := <-s.AudioChunks():
		assert.Equal(t, pcm, chunk.PCM)
		assert.Equal(t, int64(1), chunk.SequenceID)
	case <-time.After(time.Second):
		t.Fatal("expected an audio chunk before timeout")
	}
}
