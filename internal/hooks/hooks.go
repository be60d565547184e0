package hooks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/LingByte/LingCall/internal/models"
	"github.com/LingByte/LingCall/pkg/engine"
	"github.com/LingByte/LingCall/pkg/logger"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps 示例钩子依赖
type Deps struct {
	DB             *gorm.DB
	MusicFile      string
	MusicDuration  time.Duration
	OperatorNumber string
	ForwardTimeout time.Duration
}

// Register adds the demo hooks to reg:
//
//	fibonacci.read_fibonacci  speaks the first num_fibonacci numbers
//	music.play_music          plays MusicFile for MusicDuration
//	contacts.is_known_caller  True when the caller is a stored contact
//	operator.forward          bridges the caller to OperatorNumber
func Register(reg engine.Registry, deps Deps) {
	if deps.MusicDuration <= 0 {
		deps.MusicDuration = 5 * time.Second
	}
	if deps.ForwardTimeout <= 0 {
		deps.ForwardTimeout = 30 * time.Second
	}
	reg.Register("fibonacci", "read_fibonacci", ReadFibonacci)
	reg.Register("music", "play_music", deps.playMusic)
	reg.Register("contacts", "is_known_caller", deps.isKnownCaller)
	reg.Register("operator", "forward", deps.forward)
}

// Fibonacci returns the first n Fibonacci numbers, never fewer than two.
func Fibonacci(n int) []int {
	fib := []int{0, 1}
	for i := 2; i < n; i++ {
		fib = append(fib, fib[i-1]+fib[i-2])
	}
	return fib
}

// ReadFibonacci reads the count from the "num_fibonacci" information item.
func ReadFibonacci(ctx context.Context, state *engine.State, session engine.Session) (any, error) {
	raw, ok := state.Get("num_fibonacci")
	if !ok {
		return nil, errors.New("num_fibonacci was not collected")
	}
	n, err := cast.ToIntE(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("num_fibonacci %q: %w", raw, err)
	}
	if n > 90 {
		return nil, fmt.Errorf("num_fibonacci %d is too large", n)
	}
	numbers := Fibonacci(n)
	parts := make([]string, len(numbers))
	for i, v := range numbers {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, " "), nil
}

func (d Deps) playMusic(ctx context.Context, state *engine.State, session engine.Session) (any, error) {
	if d.MusicFile == "" {
		return nil, errors.New("no music file configured")
	}
	if err := session.PlayAudio(ctx, d.MusicFile, true); err != nil {
		return nil, err
	}
	defer session.StopAudio()

	timer := time.NewTimer(d.MusicDuration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d Deps) isKnownCaller(ctx context.Context, state *engine.State, session engine.Session) (any, error) {
	if d.DB == nil {
		return false, nil
	}
	_, err := models.GetContactByPhone(d.DB.WithContext(ctx), session.Remote())
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return nil, err
	}
	return true, nil
}

func (d Deps) forward(ctx context.Context, state *engine.State, session engine.Session) (any, error) {
	if d.OperatorNumber == "" {
		return nil, errors.New("no operator number configured")
	}
	answered, err := session.Forward(ctx, d.OperatorNumber, d.ForwardTimeout)
	if err != nil {
		return nil, err
	}
	logger.Info("operator forward",
		zap.String("session_id", session.ID()),
		zap.String("operator", d.OperatorNumber),
		zap.Bool("answered", answered))
	return answered, nil
}
