// Package supervisor runs the daemon's long-lived goroutines: one loop per
// project integrator plus the metrics consumer and the HTTP server.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	logx "cruise/pkg/logx"
)

// healthyRun is how long a restarted goroutine must stay up before its
// backoff resets to the minimum.
const healthyRun = 30 * time.Second

// PanicError is the error a recovered panic turns into.
type PanicError struct {
	Name  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic in %s: %v", e.Name, e.Value) }

// Supervisor joins named goroutines that share a cancellable context. It
// recovers panics, records the first failure and keeps per-name stats.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	cancelOnErr bool

	wg   sync.WaitGroup
	done chan struct{}
	join sync.Once

	errMu    sync.Mutex
	firstErr error

	stats *registry
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context on the first failure.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		stats:  newRegistry(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first failure recorded, if any.
func (s *Supervisor) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.firstErr
}

// Go runs fn under the shared context. A returned error other than
// context.Canceled, or a panic, is a failure.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.GoContext(s.ctx, name, fn)
}

// Go0 is Go for functions that cannot fail.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error { fn(ctx); return nil })
}

// GoContext is Go with a context derived from Context(), so one goroutine
// can be cancelled on its own while Wait still joins it.
func (s *Supervisor) GoContext(ctx context.Context, name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.spawn(func() {
		err := s.invoke(ctx, name, false, fn)
		if err != nil && !errors.Is(err, context.Canceled) {
			var pe *PanicError
			if !errors.As(err, &pe) {
				err = fmt.Errorf("%s: %w", name, err)
			}
			s.fail(err)
		}
	})
}

// GoRestart runs fn and restarts it after an error or panic, waiting a
// jittered backoff that doubles from lo up to hi. It stops when fn returns
// nil or the context is done. Restart failures are logged, not recorded.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, lo, hi time.Duration) {
	if fn == nil {
		return
	}
	if lo <= 0 {
		lo = 250 * time.Millisecond
	}
	hi = max(hi, lo)
	s.spawn(func() {
		backoff := lo
		for attempt := 0; ; attempt++ {
			began := time.Now()
			err := s.invoke(s.ctx, name, attempt > 0, fn)
			if err == nil || s.ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if time.Since(began) >= healthyRun {
				backoff = lo
			}
			wait := backoff + rand.N(backoff/5+1)
			s.log.Warn("goroutine failed; restarting",
				logx.String("name", name), logx.Err(err), logx.Duration("backoff", wait))
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(wait):
			}
			backoff = min(2*backoff, hi)
		}
	})
}

func (s *Supervisor) spawn(body func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		body()
	}()
}

// invoke runs one attempt of fn with stats and panic recovery.
func (s *Supervisor) invoke(ctx context.Context, name string, restart bool, fn func(context.Context) error) (err error) {
	finish := s.stats.begin(name, restart)
	defer func() {
		if r := recover(); r != nil {
			pe := &PanicError{Name: name, Value: r, Stack: debug.Stack()}
			s.log.Error("goroutine panicked",
				logx.String("name", name), logx.Any("panic", r), logx.String("stack", string(pe.Stack)))
			err = pe
		}
		finish(err)
	}()
	s.log.Debug("goroutine started", logx.String("name", name))
	err = fn(ctx)
	s.log.Debug("goroutine stopped", logx.String("name", name), logx.Err(err))
	return err
}

func (s *Supervisor) fail(err error) {
	s.errMu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.errMu.Unlock()
	if s.cancelOnErr {
		s.cancel()
	}
}

// Stop cancels the context and waits for every goroutine.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine has returned, then reports Err. It
// gives up with ctx.Err() when ctx ends first.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.join.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
