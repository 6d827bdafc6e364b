// Package resilience wraps datastore operations with a per-attempt timeout
// and a bounded exponential-backoff retry. Only transient and
// connection/initialization failures are retried; everything else is
// surfaced immediately.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	ErrTimeout = errors.New("operation timed out")

	// ErrServiceUnavailable wraps the last cause after retries are exhausted.
	ErrServiceUnavailable = errors.New("service unavailable")
)

// Op is a single datastore round trip.
type Op func(ctx context.Context) error

type Options struct {
	Timeout      time.Duration
	MaxRetries   int
	InitialDelay time.Duration
	Factor       int
}

const (
	defaultTimeout      = 5 * time.Second
	defaultMaxRetries   = 2
	defaultInitialDelay = 150 * time.Millisecond
	defaultFactor       = 2
	maxDelay            = time.Second
	slowOpThreshold     = 3 * time.Second
)

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = defaultInitialDelay
	}
	if o.Factor <= 1 {
		o.Factor = defaultFactor
	}
	return o
}

var initPatterns = []string{
	"connection refused",
	"host unreachable",
	"no such host",
	"server was not reached",
}

var transientPatterns = []string{
	"canceling statement",
	"connection reset",
	"i/o timeout",
	"operation timed out",
	"terminated unexpectedly",
	"context deadline exceeded",
}

// IsInitError reports connection/initialization failures (host unreachable,
// connection refused, server not reached).
func IsInitError(err error) bool {
	return matchesAny(err, initPatterns)
}

// IsTransientError reports retry-worthy transient failures (statement
// canceled, connection reset, operation timed out, connection terminated
// unexpectedly).
func IsTransientError(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return matchesAny(err, transientPatterns)
}

func matchesAny(err error, patterns []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// WithTimeout runs op under a deadline. If the deadline fires first the call
// returns ErrTimeout; the underlying operation may still complete server-side,
// which is why callers must be idempotent rather than rely on cancellation.
func WithTimeout(ctx context.Context, log *zap.Logger, op Op, d time.Duration) error {
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- op(tctx) }()

	select {
	case err := <-done:
		if took := time.Since(start); took > slowOpThreshold {
			log.Warn("slow datastore operation", zap.Duration("took", took))
		}
		return err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("datastore operation timeout",
			zap.Duration("after", time.Since(start)))
		return ErrTimeout
	}
}

// WithRetry retries op on transient/init failures with exponential backoff.
// Fatal errors are returned as-is on the first occurrence.
func WithRetry(ctx context.Context, log *zap.Logger, op Op, opts Options) error {
	opts = opts.withDefaults()
	delay := opts.InitialDelay

	attempt := 0
	for {
		err := op(ctx)
		if err == nil {
			if attempt > 0 {
				log.Debug("operation succeeded after retries",
					zap.Int("attempts", attempt+1))
			}
			return nil
		}
		attempt++
		if !IsTransientError(err) && !IsInitError(err) {
			log.Error("non-retryable datastore error",
				zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		if attempt > opts.MaxRetries {
			log.Error("retry attempts exhausted",
				zap.Int("attempts", attempt),
				zap.Duration("final_delay", delay),
				zap.Error(err))
			return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
		}

		log.Warn("transient datastore error, scheduling retry",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", opts.MaxRetries),
			zap.Duration("next_delay", delay),
			zap.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= time.Duration(opts.Factor)
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// Do composes both wrappers: the timeout applies per attempt, the retry
// policy across attempts.
func Do(ctx context.Context, log *zap.Logger, op Op, opts Options) error {
	opts = opts.withDefaults()
	return WithRetry(ctx, log, func(ctx context.Context) error {
		return WithTimeout(ctx, log, op, opts.Timeout)
	}, opts)
}
