package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClassifiers(t *testing.T) {
	transient := []error{
		errors.New("read tcp 10.0.0.1:5432: connection reset by peer"),
		errors.New("ERROR: canceling statement due to user request"),
		errors.New("dial tcp: i/o timeout"),
		errors.New("connection terminated unexpectedly"),
	}
	for _, err := range transient {
		require.True(t, IsTransientError(err), "expected transient: %v", err)
	}

	initErrs := []error{
		errors.New("dial tcp 10.0.0.1:5432: connect: connection refused"),
		errors.New("lookup db.internal: no such host"),
		errors.New("the database server was not reached"),
	}
	for _, err := range initErrs {
		require.True(t, IsInitError(err), "expected init: %v", err)
	}

	fatal := []error{
		errors.New(`ERROR: duplicate key value violates unique constraint "orders_pkey"`),
		errors.New("password authentication failed for user"),
	}
	for _, err := range fatal {
		require.False(t, IsTransientError(err) || IsInitError(err), "expected fatal: %v", err)
	}
}

func TestWithTimeout(t *testing.T) {
	log := zap.NewNop()

	err := WithTimeout(context.Background(), log, func(ctx context.Context) error {
		return nil
	}, time.Second)
	require.NoError(t, err)

	err = WithTimeout(context.Background(), log, func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}, 20*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestWithRetryTransientThenSuccess(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), zap.NewNop(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	}, Options{MaxRetries: 2, InitialDelay: time.Millisecond})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestWithRetryFatalNotRetried(t *testing.T) {
	fatal := errors.New("duplicate key value violates unique constraint")
	calls := 0
	err := WithRetry(context.Background(), zap.NewNop(), func(ctx context.Context) error {
		calls++
		return fatal
	}, Options{MaxRetries: 3, InitialDelay: time.Millisecond})
	require.ErrorIs(t, err, fatal)
	require.Equal(t, 1, calls)
}

func TestWithRetryExhaustion(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), zap.NewNop(), func(ctx context.Context) error {
		calls++
		return errors.New("connection reset by peer")
	}, Options{MaxRetries: 2, InitialDelay: time.Millisecond})
	require.ErrorIs(t, err, ErrServiceUnavailable)
	require.Equal(t, 3, calls) // initial attempt + 2 retries
}

func TestWithRetryBackoffDoubles(t *testing.T) {
	var stamps []time.Time
	_ = WithRetry(context.Background(), zap.NewNop(), func(ctx context.Context) error {
		stamps = append(stamps, time.Now())
		return errors.New("i/o timeout")
	}, Options{MaxRetries: 2, InitialDelay: 30 * time.Millisecond})

	require.Len(t, stamps, 3)
	first := stamps[1].Sub(stamps[0])
	second := stamps[2].Sub(stamps[1])
	require.GreaterOrEqual(t, first, 30*time.Millisecond)
	require.GreaterOrEqual(t, second, 60*time.Millisecond)
}

func TestDoRetriesPerAttemptTimeout(t *testing.T) {
	calls := 0
	err := Do(context.Background(), zap.NewNop(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}, Options{Timeout: 20 * time.Millisecond, MaxRetries: 1, InitialDelay: time.Millisecond})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}
