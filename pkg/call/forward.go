package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LingByte/LingCall/pkg/logger"
	"go.uber.org/zap"
)

// Forward dials number while the primary leg stays up and bridges the two
// legs on answer. No answer within timeout, a rejection or a dial failure
// report false and leave the primary leg active.
func (s *Session) Forward(ctx context.Context, number string, timeout time.Duration) (bool, error) {
	if !ValidNumber(number) {
		return false, fmt.Errorf("%w: %q", ErrInvalidNumber, number)
	}
	s.mu.Lock()
	if s.primary == nil || s.state != StateActive {
		s.mu.Unlock()
		return false, ErrNotActive
	}
	callCtx := s.ctx
	s.setState(StateForwardRinging)
	s.mu.Unlock()

	logger.Info("forwarding call",
		zap.String("line", s.name),
		zap.String("number", number),
		zap.Duration("timeout", timeout))

	leg, err := s.transport.Dial(ctx, number)
	if err != nil {
		logger.Warn("forward dial failed", zap.String("line", s.name), zap.String("number", number), zap.Error(err))
		s.endForwardRinging()
		return false, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-leg.Answered():
		if !s.pair(leg) {
			s.dropLeg(leg)
			return false, nil
		}
		logger.Info("forward answered", zap.String("line", s.name), zap.String("number", number))
		return true, nil
	case <-leg.Done():
		logger.Info("forward rejected", zap.String("line", s.name), zap.String("number", number))
	case <-timer.C:
		logger.Info("forward not answered", zap.String("line", s.name), zap.String("number", number))
		s.dropLeg(leg)
	case <-callCtx.Done():
		s.dropLeg(leg)
		return false, nil
	case <-ctx.Done():
		s.dropLeg(leg)
		s.endForwardRinging()
		return false, ctx.Err()
	}
	s.endForwardRinging()
	return false, nil
}

func (s *Session) endForwardRinging() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateForwardRinging {
		s.setState(StateActive)
	}
}

func (s *Session) dropLeg(leg Leg) {
	if err := leg.HangUp(context.Background()); err != nil {
		logger.Warn("failed to hang up forward leg", zap.String("line", s.name), zap.Error(err))
	}
}

// pair bridges leg with the primary leg.
func (s *Session) pair(leg Leg) bool {
	s.mu.Lock()
	if s.primary == nil || s.state != StateForwardRinging {
		s.mu.Unlock()
		return false
	}
	s.paired = leg
	s.unpaired = make(chan struct{})
	primary, ctx, wg := s.primary, s.ctx, s.workers
	s.setState(StatePaired)
	wg.Add(1)
	s.mu.Unlock()

	s.StopAudio()
	go s.bridge(ctx, wg, primary, leg)
	return true
}

// bridge copies paired audio to the primary leg until either side ends.
// The opposite direction runs in readAudio.
func (s *Session) bridge(ctx context.Context, wg *sync.WaitGroup, primary, paired Leg) {
	defer wg.Done()
	frames := paired.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case <-paired.Done():
			s.mu.Lock()
			if s.paired == paired {
				s.clearPaired()
			}
			s.mu.Unlock()
			logger.Info("paired leg ended", zap.String("line", s.name), zap.String("call_id", paired.ID()))
			return
		case frame, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			if err := primary.WriteFrame(ctx, frame); err != nil {
				logger.Debug("bridge write failed", zap.String("line", s.name), zap.Error(err))
			}
		}
	}
}

// WaitUnpaired blocks while the line is paired, up to max.
func (s *Session) WaitUnpaired(ctx context.Context, max time.Duration) {
	s.mu.Lock()
	ch, callCtx := s.unpaired, s.ctx
	s.mu.Unlock()
	if ch == nil || callCtx == nil {
		return
	}
	timer := time.NewTimer(max)
	defer timer.Stop()
	select {
	case <-ch:
	case <-callCtx.Done():
	case <-timer.C:
	case <-ctx.Done():
	}
}
