// Package supervisor runs named goroutines under one shared context, with
// panic capture, first-failure tracking and optional restart with backoff.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "kpibot/pkg/logx"
)

// Supervisor owns the context every goroutine launched through it runs
// under. Construct with New; the zero value is not usable.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	cancelOnErr bool

	wg       sync.WaitGroup
	errOnce  sync.Once
	firstErr atomic.Value
	waitOnce sync.Once
	allDone  chan struct{}
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError tears the whole group down as soon as one goroutine
// fails: the first non-nil error cancels the shared context.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:     ctx,
		cancel:  cancel,
		allDone: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Context is the lifetime shared by all goroutines. It ends on Cancel, when
// the parent ends, or (under WithCancelOnError) on the first failure.
func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel asks every goroutine to wind down. It does not wait; pair it with Wait.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first failure recorded by any goroutine, or nil.
func (s *Supervisor) Err() error {
	err, _ := s.firstErr.Load().(error)
	return err
}

// Go launches fn under the shared context. Panics are captured and recorded
// as that goroutine's error; returning context.Canceled counts as a clean exit.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if !s.log.IsZero() {
			s.log.Debug("goroutine started", logx.String("name", name))
		}
		err := s.runOne(name, fn)
		if !s.log.IsZero() {
			s.log.Debug("goroutine stopped", logx.String("name", name))
		}
		if err != nil {
			s.fail(fmt.Errorf("%s: %w", name, err))
		}
	}()
}

// Go0 is Go for loops that have nothing to report.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// runOne executes fn once, converting a panic into an error and filtering
// cancellation out of the result.
func (s *Supervisor) runOne(name string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if !s.log.IsZero() {
				s.log.Error("goroutine panicked",
					logx.String("name", name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
			}
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	err = fn(s.ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func (s *Supervisor) fail(err error) {
	s.errOnce.Do(func() { s.firstErr.Store(err) })
	if s.cancelOnErr {
		s.cancel()
	}
}

// RestartOption tunes GoRestart's backoff window.
type RestartOption func(*backoffWindow)

type backoffWindow struct {
	min time.Duration
	max time.Duration
}

// WithRestartBackoff bounds the delay between restarts (default 250ms to
// 30s). The delay doubles per consecutive failure.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(b *backoffWindow) {
		if min > 0 {
			b.min = min
		}
		if max > 0 {
			b.max = max
		}
	}
}

// GoRestart keeps fn running: an error or panic schedules another attempt
// after a jittered backoff. Cancellation or a nil return ends the loop, so
// fn decides when it is genuinely done.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	b := backoffWindow{min: 250 * time.Millisecond, max: 30 * time.Second}
	for _, o := range opts {
		o(&b)
	}
	if b.max < b.min {
		b.max = b.min
	}

	s.Go0(name, func(ctx context.Context) {
		delay := b.min
		for {
			started := time.Now()
			err := s.runOne(name, fn)
			if ctx.Err() != nil || err == nil {
				return
			}

			// A run that stayed up for a while earns a fresh window, so a
			// rare failure after hours of serving restarts quickly.
			if time.Since(started) >= 30*time.Second {
				delay = b.min
			}

			wait := delay + time.Duration(rand.Int63n(int64(delay/5)+1))
			if !s.log.IsZero() {
				s.log.Warn("goroutine restarting",
					logx.String("name", name),
					logx.Duration("in", wait),
					logx.Err(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			if delay *= 2; delay > b.max {
				delay = b.max
			}
		}
	})
}

// Wait blocks until every goroutine has exited or ctx runs out, then returns
// the first recorded failure.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.allDone)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.allDone:
		return s.Err()
	}
}
