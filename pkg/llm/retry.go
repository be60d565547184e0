package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// ServiceError a gateway call that failed after all retries
type ServiceError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// RetryPolicy bounds every gateway call.
type RetryPolicy struct {
	Retries int           // extra attempts after the first
	Backoff time.Duration // doubled after every failure
	Timeout time.Duration // per attempt, 0 means none
}

// RetryGateway wraps a Gateway with per-call timeouts and bounded retry.
// ErrUserAborted, ErrNotFound and a cancelled parent context are returned
// immediately.
type RetryGateway struct {
	Gateway
	policy RetryPolicy
	logger *logrus.Logger
}

func WithRetry(g Gateway, policy RetryPolicy, logger *logrus.Logger) *RetryGateway {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if policy.Retries < 0 {
		policy.Retries = 0
	}
	return &RetryGateway{Gateway: g, policy: policy, logger: logger}
}

func retry[T any](ctx context.Context, r *RetryGateway, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	backoff := r.policy.Backoff
	attempts := r.policy.Retries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.policy.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.policy.Timeout)
		}
		v, err := fn(callCtx)
		cancel()
		if err == nil {
			return v, nil
		}
		if errors.Is(err, ErrUserAborted) || errors.Is(err, ErrNotFound) {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		lastErr = err

		r.logger.WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt,
		}).WithError(err).Warn("gateway call failed")

		if attempt == attempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		backoff *= 2
	}
	return zero, &ServiceError{Op: op, Attempts: attempts, Err: lastErr}
}

func (r *RetryGateway) Complete(ctx context.Context, prompt string, transcript []Message) (string, error) {
	return retry(ctx, r, "complete", func(ctx context.Context) (string, error) {
		return r.Gateway.Complete(ctx, prompt, transcript)
	})
}

func (r *RetryGateway) Extract(ctx context.Context, description, format string, transcript []Message) (string, error) {
	return retry(ctx, r, "extract", func(ctx context.Context) (string, error) {
		return r.Gateway.Extract(ctx, description, format, transcript)
	})
}

func (r *RetryGateway) Validate(ctx context.Context, value, format string) (bool, error) {
	return retry(ctx, r, "validate", func(ctx context.Context) (bool, error) {
		return r.Gateway.Validate(ctx, value, format)
	})
}

func (r *RetryGateway) Classify(ctx context.Context, utterance string, labels []string) (string, error) {
	return retry(ctx, r, "classify", func(ctx context.Context) (string, error) {
		return r.Gateway.Classify(ctx, utterance, labels)
	})
}

func (r *RetryGateway) Synthesize(ctx context.Context, text string) ([]int16, error) {
	return retry(ctx, r, "synthesize", func(ctx context.Context) ([]int16, error) {
		return r.Gateway.Synthesize(ctx, text)
	})
}

func (r *RetryGateway) Transcribe(ctx context.Context, samples []int16) (string, error) {
	return retry(ctx, r, "transcribe", func(ctx context.Context) (string, error) {
		return r.Gateway.Transcribe(ctx, samples)
	})
}
