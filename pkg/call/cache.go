package call

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/LingByte/LingCall/pkg/audio"
	"github.com/LingByte/LingCall/pkg/logger"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// AudioCache keeps synthesized speech and loaded sound files in memory,
// evicting the least recently used entry once size entries are held.
// Speech is also written to dir when dir is set.
type AudioCache struct {
	entries *lru.Cache[string, []int16]
	dir     string
}

func NewAudioCache(size int, dir string) (*AudioCache, error) {
	if size < 1 {
		size = 1
	}
	entries, err := lru.New[string, []int16](size)
	if err != nil {
		return nil, err
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create audio cache dir: %w", err)
		}
	}
	return &AudioCache{entries: entries, dir: dir}, nil
}

func speechKey(text string) string { return "tts:" + text }

func (c *AudioCache) diskPath(text string) string {
	sum := sha256.Sum256([]byte(text))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".wav")
}

// Speech returns cached audio for exactly text.
func (c *AudioCache) Speech(text string) ([]int16, bool) {
	if samples, ok := c.entries.Get(speechKey(text)); ok {
		return samples, true
	}
	if c.dir == "" {
		return nil, false
	}
	samples, err := audio.ReadWAV(c.diskPath(text))
	if err != nil {
		return nil, false
	}
	c.entries.Add(speechKey(text), samples)
	return samples, true
}

func (c *AudioCache) StoreSpeech(text string, samples []int16) {
	c.entries.Add(speechKey(text), samples)
	if c.dir == "" {
		return
	}
	if err := audio.WriteWAV(c.diskPath(text), samples, audio.TelephonyRate); err != nil {
		logger.Warn("failed to persist cached speech", zap.String("text", text), zap.Error(err))
	}
}

// File loads a WAV resource, resampled to 8 kHz mono.
func (c *AudioCache) File(path string) ([]int16, error) {
	key := "file:" + path
	if samples, ok := c.entries.Get(key); ok {
		return samples, nil
	}
	samples, err := audio.ReadWAV(path)
	if err != nil {
		return nil, err
	}
	c.entries.Add(key, samples)
	return samples, nil
}

func (c *AudioCache) Len() int { return c.entries.Len() }
