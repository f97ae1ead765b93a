package resilience

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// Executor runs operations under a RetryPolicy.
type Executor struct {
	logger  *slog.Logger
	onRetry func(c Classification, attempt int, delay time.Duration)
}

type ExecutorOption func(*Executor)

// WithRetryHook registers a function observed before every retry sleep.
func WithRetryHook(fn func(c Classification, attempt int, delay time.Duration)) ExecutorOption {
	return func(e *Executor) { e.onRetry = fn }
}

func NewExecutor(logger *slog.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{logger: logger}
	for _, o := range opts {
		o(e)
	}
	return e
}

type runConfig struct {
	shouldRetry func(error) bool
	label       string
}

type RunOption func(*runConfig)

// WithShouldRetry overrides which errors are worth another attempt. Do
// retries every error by default; DoAdaptive retries those Classify marks
// retryable.
func WithShouldRetry(fn func(error) bool) RunOption {
	return func(c *runConfig) { c.shouldRetry = fn }
}

// WithLabel names the operation in retry logs.
func WithLabel(label string) RunOption {
	return func(c *runConfig) { c.label = label }
}

// Do calls op until it succeeds, shouldRetry rejects an error, ctx is done or
// the policy's attempts are spent. It returns the value, the number of
// attempts made and the last error.
func Do[T any](ctx context.Context, e *Executor, policy RetryPolicy, op func(ctx context.Context) (T, error), opts ...RunOption) (T, int, error) {
	pick := func(Classification) (RetryPolicy, bool) { return policy, true }
	return run(ctx, e, pick, func(error) bool { return true }, op, opts)
}

// DoAdaptive is Do with the policy looked up per failure: each failed attempt
// is classified and retried under policies[type]. Failure types without a
// policy are not retried.
func DoAdaptive[T any](ctx context.Context, e *Executor, policies map[ErrorType]RetryPolicy, op func(ctx context.Context) (T, error), opts ...RunOption) (T, int, error) {
	pick := func(c Classification) (RetryPolicy, bool) {
		p, ok := policies[c.Type]
		return p, ok
	}
	return run(ctx, e, pick, func(err error) bool { return Classify(err).Retryable }, op, opts)
}

func run[T any](ctx context.Context, e *Executor, pick func(Classification) (RetryPolicy, bool), shouldRetry func(error) bool, op func(ctx context.Context) (T, error), opts []RunOption) (T, int, error) {
	cfg := runConfig{
		shouldRetry: shouldRetry,
		label:       "operation",
	}
	for _, o := range opts {
		o(&cfg)
	}

	var (
		out      T
		attempts int
		lastErr  error
	)

	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		c := Classify(lastErr)
		policy, ok := pick(c)
		if !ok || attempts >= max(policy.MaxAttempts, 1) {
			return 0, true
		}
		delay := policy.Delay(attempts)
		e.logger.Warn("retrying after failure",
			"op", cfg.label, "attempt", attempts, "max_attempts", policy.MaxAttempts,
			"error_type", c.Type, "delay", delay, "error", lastErr)
		if e.onRetry != nil {
			e.onRetry(c, attempts, delay)
		}
		return delay, false
	})

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		v, err := op(ctx)
		if err == nil {
			out = v
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !cfg.shouldRetry(err) {
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		var zero T
		return zero, attempts, err
	}
	return out, attempts, nil
}
