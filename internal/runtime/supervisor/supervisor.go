// Package supervisor runs the daemon's named background goroutines under one
// cancellable context.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	logx "taskminder/pkg/logx"
)

// healthyRun is how long a restarted goroutine must survive for its restart
// pause to drop back to the minimum.
const healthyRun = 30 * time.Second

// Supervisor recovers panics as errors and keeps the first error for Err.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger
	fatal  bool

	wg       sync.WaitGroup
	waitOnce sync.Once
	done     chan struct{}

	mu  sync.Mutex
	err error
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context on the first recorded error.
func WithCancelOnError(on bool) Option {
	return func(s *Supervisor) { s.fatal = on }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel does not wait; follow it with Wait.
func (s *Supervisor) Cancel() { s.cancel() }

func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Go runs fn on its own goroutine. Returning context.Canceled is not an error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.run(name, fn); err != nil {
			s.record(fmt.Errorf("%s: %w", name, err))
		}
	}()
}

// GoRestart keeps fn running: after an error or a panic it is called again
// following a pause that doubles from lo up to hi. A nil return or a
// cancelled context ends it.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, lo, hi time.Duration) {
	if lo <= 0 {
		lo = 250 * time.Millisecond
	}
	hi = max(hi, lo)
	s.Go(name, func(ctx context.Context) error {
		pause := lo
		for {
			began := time.Now()
			err := s.run(name, fn)
			if err == nil || ctx.Err() != nil {
				return nil
			}
			if time.Since(began) >= healthyRun {
				pause = lo
			}
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("pause", pause), logx.Err(err))

			t := time.NewTimer(pause)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
			pause = min(2*pause, hi)
		}
	})
}

// Wait blocks until every goroutine has returned, or ctx ends. It returns the
// first recorded error, or ctx's error on timeout.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
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

func (s *Supervisor) run(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("goroutine panicked",
				logx.String("name", name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	s.log.Debug("goroutine started", logx.String("name", name))
	defer s.log.Debug("goroutine stopped", logx.String("name", name))
	if err := fn(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Supervisor) record(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.log.Error("goroutine failed", logx.Err(err))
	if s.fatal {
		s.cancel()
	}
}
