package audio

import (
	"bytes"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ReadWAV loads a PCM WAV file as 8 kHz mono samples.
func ReadWAV(path string) ([]int16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()
	return DecodeWAV(f, TelephonyRate)
}

// DecodeWAV decodes a PCM WAV stream, downmixing and resampling to rate.
func DecodeWAV(r io.ReadSeeker, rate int) ([]int16, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}

	shift := 0
	if buf.SourceBitDepth > 16 {
		shift = buf.SourceBitDepth - 16
	}
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		if buf.SourceBitDepth == 8 {
			samples[i] = int16((v - 128) << 8)
			continue
		}
		samples[i] = int16(v >> shift)
	}

	samples = Downmix(samples, buf.Format.NumChannels)
	return Resample(samples, buf.Format.SampleRate, rate), nil
}

// WriteWAV writes mono 16-bit samples to path.
func WriteWAV(path string, samples []int16, rate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	if err := EncodeWAV(f, samples, rate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// EncodeWAV writes mono 16-bit samples to w.
func EncodeWAV(w io.WriteSeeker, samples []int16, rate int) error {
	enc := wav.NewEncoder(w, rate, 16, 1, 1)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	return enc.Close()
}

// WAVBytes encodes samples into an in-memory WAV file.
func WAVBytes(samples []int16, rate int) ([]byte, error) {
	ws := &writeSeeker{}
	if err := EncodeWAV(ws, samples, rate); err != nil {
		return nil, err
	}
	return ws.buf.Bytes(), nil
}

// DecodeWAVBytes is DecodeWAV over a byte slice.
func DecodeWAVBytes(data []byte, rate int) ([]int16, error) {
	return DecodeWAV(bytes.NewReader(data), rate)
}

type writeSeeker struct {
	buf bytes.Buffer
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if end > w.buf.Len() {
		w.buf.Write(make([]byte, end-w.buf.Len()))
	}
	copy(w.buf.Bytes()[w.pos:end], p)
	w.pos = end
	return len(p), nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(w.pos) + offset
	case io.SeekEnd:
		abs = int64(w.buf.Len()) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("negative position")
	}
	w.pos = int(abs)
	return abs, nil
}
