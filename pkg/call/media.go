package call

import (
	"context"
	"fmt"
	"time"

	"github.com/LingByte/LingCall/pkg/audio"
	"github.com/LingByte/LingCall/pkg/logger"
	"go.uber.org/zap"
)

// player streams one clip to a leg at real-time pace.
type player struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (p *player) stop() {
	p.cancel()
	<-p.done
}

// startPlayback replaces any running playback with samples.
func (s *Session) startPlayback(ctx context.Context, samples []int16, loop bool) (*player, error) {
	s.mu.Lock()
	leg := s.primary
	if leg == nil || !s.state.Live() {
		s.mu.Unlock()
		return nil, ErrNotActive
	}
	prev := s.player
	pctx, cancel := context.WithCancel(ctx)
	stopOnHangup := context.AfterFunc(s.ctx, cancel)
	p := &player{
		cancel: func() {
			stopOnHangup()
			cancel()
		},
		done: make(chan struct{}),
	}
	s.player = p
	s.mu.Unlock()

	if prev != nil {
		prev.stop()
	}
	go s.play(pctx, leg, p, samples, loop)
	return p, nil
}

func (s *Session) play(ctx context.Context, leg Leg, p *player, samples []int16, loop bool) {
	defer close(p.done)
	frames := audio.Frames(samples, audio.FrameSamples)
	if len(frames) == 0 {
		return
	}
	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()
	for {
		for _, frame := range frames {
			if err := leg.WriteFrame(ctx, frame); err != nil {
				if ctx.Err() == nil {
					p.err = fmt.Errorf("%w: write frame: %v", ErrNotActive, err)
				}
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
		if !loop {
			return
		}
	}
}

// Speak synthesizes text and plays it, blocking until playback finishes,
// the leg ends or ctx is cancelled.
func (s *Session) Speak(ctx context.Context, text string, cache bool) error {
	samples, err := s.synthesize(ctx, text, cache)
	if err != nil {
		return err
	}
	logger.Info("speaking",
		zap.String("line", s.name),
		zap.String("text", text),
		zap.Int("samples", len(samples)))

	p, err := s.startPlayback(ctx, samples, false)
	if err != nil {
		return err
	}
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		p.stop()
		return ctx.Err()
	}
}

func (s *Session) synthesize(ctx context.Context, text string, cache bool) ([]int16, error) {
	if cache {
		if samples, ok := s.cache.Speech(text); ok {
			return samples, nil
		}
	}
	samples, err := s.gateway.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}
	if cache {
		s.cache.StoreSpeech(text, samples)
	}
	return samples, nil
}

// PlayAudio starts a WAV file and returns once playback has begun. It runs
// until the clip ends, StopAudio is called or the leg ends.
func (s *Session) PlayAudio(ctx context.Context, path string, loop bool) error {
	samples, err := s.cache.File(path)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	logger.Info("playing audio",
		zap.String("line", s.name),
		zap.String("file", path),
		zap.Bool("loop", loop))
	_, err = s.startPlayback(context.WithoutCancel(ctx), samples, loop)
	return err
}

// StopAudio halts the current speech or sound, if any.
func (s *Session) StopAudio() {
	s.mu.Lock()
	p := s.player
	s.player = nil
	s.mu.Unlock()
	if p != nil {
		p.stop()
	}
}
