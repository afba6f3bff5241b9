package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "cruise/pkg/logx"
)

func TestPanicIsRecoveredAndRecorded(t *testing.T) {
	s := New(context.Background(), WithLogger(logx.Nop()))
	s.Go("integrator.api", func(ctx context.Context) error { panic("boom") })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "integrator.api")

	snap := s.Snapshot()
	require.Len(t, snap.Goroutines, 1)
	assert.EqualValues(t, 1, snap.Goroutines[0].Panics)
	assert.Zero(t, snap.Counters.Active)
}

func TestGoContextCancelsIndependently(t *testing.T) {
	s := New(context.Background())
	loopCtx, stop := context.WithCancel(s.Context())
	exited := make(chan struct{})
	s.GoContext(loopCtx, "integrator.web", func(ctx context.Context) error {
		<-ctx.Done()
		close(exited)
		return ctx.Err()
	})

	stop()
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("loop did not observe its own cancel")
	}
	assert.NoError(t, s.Context().Err())
	require.NoError(t, s.Stop(context.Background()))
	assert.NoError(t, s.Err())
}

func TestCancelOnError(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("bad", func(ctx context.Context) error { return errors.New("nope") })
	select {
	case <-s.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("supervisor context not cancelled")
	}
}

func TestGoRestartRetriesUntilNil(t *testing.T) {
	s := New(context.Background())
	var calls atomic.Int32
	s.GoRestart("http", func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("listen failed")
		}
		return nil
	}, time.Millisecond, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	assert.EqualValues(t, 3, calls.Load())

	var restarts uint64
	for _, g := range s.Snapshot().Goroutines {
		if g.Name == "http" {
			restarts = g.Restarts
		}
	}
	assert.EqualValues(t, 2, restarts)
}

func TestCanceledIsCleanExit(t *testing.T) {
	s := New(context.Background())
	s.Go("consumer", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s.Go0("logger", func(ctx context.Context) { <-ctx.Done() })
	assert.EqualValues(t, 2, s.Counters().Started)

	require.NoError(t, s.Stop(context.Background()))
	snap := s.Snapshot()
	assert.Empty(t, snap.FirstError)
	assert.Zero(t, snap.Counters.Active)
	for _, g := range snap.Goroutines {
		assert.Empty(t, g.LastErr, g.Name)
	}
}

func TestWaitGivesUpWithContext(t *testing.T) {
	s := New(context.Background())
	release := make(chan struct{})
	s.Go0("stuck", func(context.Context) { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)
	assert.EqualValues(t, 1, s.Snapshot().Goroutines[0].Active)

	close(release)
	require.NoError(t, s.Wait(context.Background()))
}

func TestFirstErrorWins(t *testing.T) {
	s := New(context.Background())
	s.Go("a", func(context.Context) error { return errors.New("first") })
	require.Eventually(t, func() bool { return s.Err() != nil }, time.Second, time.Millisecond)
	s.Go("b", func(context.Context) error { return errors.New("second") })
	require.Error(t, s.Wait(context.Background()))
	assert.EqualError(t, s.Err(), "a: first")
	assert.NoError(t, s.Context().Err(), "cancel-on-error is off by default")

	var pe *PanicError
	assert.False(t, errors.As(s.Err(), &pe))
}
