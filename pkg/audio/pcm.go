package audio

import (
	"encoding/binary"
	"math"
)

// BytesToSamples converts little-endian 16-bit PCM bytes to samples.
// A trailing odd byte is dropped.
func BytesToSamples(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// SamplesToBytes converts samples to little-endian 16-bit PCM bytes.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Frames splits samples into fixed-size frames, zero padding the last one.
func Frames(samples []int16, size int) [][]int16 {
	if size <= 0 || len(samples) == 0 {
		return nil
	}
	frames := make([][]int16, 0, (len(samples)+size-1)/size)
	for i := 0; i < len(samples); i += size {
		frame := make([]int16, size)
		copy(frame, samples[i:min(i+size, len(samples))])
		frames = append(frames, frame)
	}
	return frames
}

// Normalize 音频幅度过小时适当放大，最多放大 maxGain 倍
func Normalize(samples []int16, target int16, maxGain float64) float64 {
	var peak int16
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	if peak == 0 || peak >= target {
		return 1
	}
	gain := math.Min(float64(target)/float64(peak), maxGain)
	for i := range samples {
		samples[i] = clamp16(float64(samples[i]) * gain)
	}
	return gain
}

// RMS returns the root mean square amplitude of the frame.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// DBFS returns the level of the frame relative to full scale.
func DBFS(samples []int16) float64 {
	rms := RMS(samples)
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms/math.MaxInt16)
}

func clamp16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
