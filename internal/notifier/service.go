package notifier

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"taskminder/internal/eventbus"
	"taskminder/internal/runtime/supervisor"
	logx "taskminder/pkg/logx"
)

const historyMax = 100

// Service implements an async notification pipeline:
// queue + worker pool + rate limit + retry.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	bus   eventbus.Bus
	sinks []Sink

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	queue     chan Notification
	sup       *supervisor.Supervisor

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, sinks ...Sink) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	s := &Service{
		log: log.With(logx.Comp("notifier")),
		bus: bus,
	}
	for _, sk := range sinks {
		if sk != nil {
			s.sinks = append(s.sinks, sk)
		}
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps rate/retry settings. Worker and queue sizes take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the workers. It is idempotent and a no-op when disabled.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan Notification, s.cfg.QueueSize)
	s.accepting = true
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	q, sup, workers := s.queue, s.sup, s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.Go(fmt.Sprintf("notifier.worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			return nil
		})
	}
	s.log.Info("service started", logx.Int("workers", workers), logx.Int("sinks", len(s.sinks)))
}

// Stop stops intake and drains the queue until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.queue = nil
	s.sup = nil
	close(q)
	s.mu.Unlock()

	// Workers exit once the closed queue is drained.
	if err := sup.Wait(ctx); err != nil {
		sup.Cancel()
		s.log.Warn("notifier drain incomplete", logx.Err(err), logx.Int("left", len(q)))
	}
	s.log.Info("service stopped")
}

// Enqueue never blocks.
func (s *Service) Enqueue(n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		return ErrStopped
	}
	select {
	case s.queue <- n:
		s.bus.Publish(eventbus.Event{Type: "notifier.queued", Data: NotificationEvent{TaskID: n.TaskID, At: time.Now()}})
		return nil
	default:
		s.bus.Publish(eventbus.Event{Type: "notifier.dropped", Data: NotificationEvent{TaskID: n.TaskID, At: time.Now(), Error: ErrQueueFull.Error()}})
		return ErrQueueFull
	}
}

func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(n Notification, sinks []string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), TaskID: n.TaskID, Text: n.Text, Sinks: sinks})
	if len(s.history) > historyMax {
		s.history = s.history[len(s.history)-historyMax:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, n)
		}
	}
}

func (s *Service) deliver(ctx context.Context, n Notification) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	var delivered []string
	for _, sk := range s.sinks {
		err := s.sendWithRetry(ctx, cfg, lim, sk, n)
		now := time.Now()
		if err != nil {
			s.log.Warn("notification failed", logx.Sink(sk.Name()), logx.TaskID(n.TaskID), logx.Err(err))
			s.bus.Publish(eventbus.Event{Type: "notifier.failed", Time: now, Data: NotificationEvent{TaskID: n.TaskID, Sink: sk.Name(), At: now, Error: err.Error()}})
			continue
		}
		delivered = append(delivered, sk.Name())
		s.bus.Publish(eventbus.Event{Type: "notifier.sent", Time: now, Data: NotificationEvent{TaskID: n.TaskID, Sink: sk.Name(), At: now}})
	}
	if len(delivered) > 0 {
		s.appendHistory(n, delivered)
	}
}

func (s *Service) sendWithRetry(ctx context.Context, cfg Config, lim *rate.Limiter, sk Sink, n Notification) error {
	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return err
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := sk.Send(callCtx, n)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.Sink(sk.Name()), logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))
		if attempt >= maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	return lastErr
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1; the delay is for the NEXT attempt.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
