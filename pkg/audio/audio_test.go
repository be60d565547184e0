package audio

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tone(n int, amp float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amp * math.Sin(2*math.Pi*440*float64(i)/TelephonyRate))
	}
	return out
}

func TestMulawRoundTrip(t *testing.T) {
	for _, s := range []int16{0, 1, -1, 100, -100, 1000, -1000, 8000, -8000, 32000, -32000} {
		got := MulawToLinear(LinearToMulaw(s))
		tolerance := math.Max(8, math.Abs(float64(s))*0.07)
		assert.InDelta(t, float64(s), float64(got), tolerance, "sample %d", s)
	}
	assert.Equal(t, byte(0xFF), LinearToMulaw(0))
}

func TestEncodeDecodeMulaw(t *testing.T) {
	in := tone(FrameSamples, 6000)
	out := DecodeMulaw(EncodeMulaw(in))
	require.Len(t, out, FrameSamples)
	assert.InDelta(t, RMS(in), RMS(out), RMS(in)*0.05)
}

func TestPCMBytes(t *testing.T) {
	in := []int16{0, 1, -1, math.MaxInt16, math.MinInt16}
	assert.Equal(t, in, BytesToSamples(SamplesToBytes(in)))
	assert.Len(t, BytesToSamples([]byte{1, 2, 3}), 1)
}

func TestFrames(t *testing.T) {
	frames := Frames(make([]int16, 330), FrameSamples)
	require.Len(t, frames, 3)
	assert.Len(t, frames[2], FrameSamples)
	assert.Nil(t, Frames(nil, FrameSamples))
}

func TestNormalize(t *testing.T) {
	quiet := tone(800, 1000)
	gain := Normalize(quiet, 8000, 4)
	assert.Equal(t, 4.0, gain)

	loud := tone(800, 20000)
	assert.Equal(t, 1.0, Normalize(loud, 8000, 4))
}

func TestResample(t *testing.T) {
	in := tone(16000, 5000)
	out := Resample(in, 16000, 8000)
	assert.Len(t, out, 8000)
	assert.Equal(t, in, Resample(in, 8000, 8000))

	up := Resample([]int16{0, 100}, 8000, 16000)
	assert.Equal(t, []int16{0, 50, 100, 100}, up)
}

func TestDownmix(t *testing.T) {
	assert.Equal(t, []int16{15, -5}, Downmix([]int16{10, 20, -10, 0}, 2))
}

func TestWAVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tone.wav")
	in := tone(TelephonyRate/2, 4000)

	require.NoError(t, WriteWAV(path, in, TelephonyRate))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(len(in)*2))

	out, err := ReadWAV(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestWAVBytesResamples(t *testing.T) {
	in := tone(16000, 4000)
	data, err := WAVBytes(in, 16000)
	require.NoError(t, err)

	out, err := DecodeWAVBytes(data, TelephonyRate)
	require.NoError(t, err)
	assert.Len(t, out, 8000)
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	_, err := DecodeWAVBytes([]byte("not a wav file at all"), TelephonyRate)
	assert.Error(t, err)
}

func TestSegmenterUtterance(t *testing.T) {
	seg := NewSegmenter(VADConfig{
		EndOfSpeech:  200 * time.Millisecond,
		MaxUtterance: 5 * time.Second,
		MinSpeech:    100 * time.Millisecond,
	})
	silent := make([]int16, FrameSamples)
	voiced := tone(FrameSamples, 8000)

	for i := 0; i < 10; i++ {
		_, ok := seg.Push(silent)
		assert.False(t, ok)
	}
	assert.False(t, seg.Speaking())

	for i := 0; i < 20; i++ {
		_, ok := seg.Push(voiced)
		require.False(t, ok)
	}
	assert.True(t, seg.Speaking())

	var utt []int16
	var ok bool
	for i := 0; i < 10 && !ok; i++ {
		utt, ok = seg.Push(silent)
	}
	require.True(t, ok)
	// pre-roll + speech + trailing silence
	assert.Equal(t, (5+20+10)*FrameSamples, len(utt))
	assert.False(t, seg.Speaking())
}

func TestSegmenterDropsShortNoise(t *testing.T) {
	seg := NewSegmenter(VADConfig{
		EndOfSpeech: 100 * time.Millisecond,
		MinSpeech:   200 * time.Millisecond,
	})
	seg.Push(tone(FrameSamples, 8000))
	for i := 0; i < 5; i++ {
		_, ok := seg.Push(make([]int16, FrameSamples))
		assert.False(t, ok)
	}
	assert.False(t, seg.Speaking())
}

func TestSegmenterMaxUtterance(t *testing.T) {
	seg := NewSegmenter(VADConfig{MaxUtterance: 200 * time.Millisecond, MinSpeech: 20 * time.Millisecond})
	voiced := tone(FrameSamples, 8000)
	var ok bool
	n := 0
	for !ok && n < 100 {
		_, ok = seg.Push(voiced)
		n++
	}
	assert.True(t, ok)
	assert.Equal(t, 10, n)
}

func TestSegmenterFlush(t *testing.T) {
	seg := NewSegmenter(VADConfig{MinSpeech: 20 * time.Millisecond})
	_, ok := seg.Flush()
	assert.False(t, ok)

	seg.Push(tone(FrameSamples, 8000))
	seg.Push(tone(FrameSamples, 8000))
	utt, ok := seg.Flush()
	assert.True(t, ok)
	assert.Len(t, utt, 2*FrameSamples)
}
