package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"taskminder/internal/eventbus"
	logx "taskminder/pkg/logx"
)

type fakeSink struct {
	name  string
	mu    sync.Mutex
	fails int
	got   []Notification
	calls int
	sent  chan Notification
}

func newFakeSink(name string, fails int) *fakeSink {
	return &fakeSink{name: name, fails: fails, sent: make(chan Notification, 16)}
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Send(ctx context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return errors.New("unavailable")
	}
	f.got = append(f.got, n)
	f.sent <- n
	return nil
}

func (f *fakeSink) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testConfig() Config {
	return Config{
		Enabled:       true,
		Workers:       2,
		QueueSize:     4,
		RatePerSec:    100,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
	}
}

func stopService(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestEnqueueDelivers(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	sink := newFakeSink("fake", 0)
	s := New(testConfig(), logx.Nop(), bus, sink)
	s.Start(context.Background())
	defer stopService(t, s)

	if err := s.Enqueue(Notification{TaskID: "t1", Title: "Task reminder", Text: "Buy milk"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	select {
	case n := <-sink.sent:
		if n.TaskID != "t1" || n.Text != "Buy milk" {
			t.Fatalf("unexpected notification: %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}

	seen := map[string]bool{}
	deadline := time.After(time.Second)
	for !seen["notifier.sent"] {
		select {
		case ev := <-events:
			seen[ev.Type] = true
		case <-deadline:
			t.Fatalf("missing notifier.sent event, saw %v", seen)
		}
	}
	if !seen["notifier.queued"] {
		t.Fatalf("missing notifier.queued event, saw %v", seen)
	}
}

func TestRetryThenSucceed(t *testing.T) {
	sink := newFakeSink("flaky", 2)
	s := New(testConfig(), logx.Nop(), nil, sink)
	s.Start(context.Background())
	defer stopService(t, s)

	if err := s.Enqueue(Notification{TaskID: "t1", Text: "x"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	select {
	case <-sink.sent:
	case <-time.After(time.Second):
		t.Fatal("notification not delivered after retries")
	}
	if got := sink.Calls(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestFailingSinkDoesNotBlockOthers(t *testing.T) {
	bad := newFakeSink("bad", 100)
	good := newFakeSink("good", 0)
	s := New(testConfig(), logx.Nop(), nil, bad, good)
	s.Start(context.Background())

	if err := s.Enqueue(Notification{TaskID: "t1", Text: "x"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	select {
	case <-good.sent:
	case <-time.After(time.Second):
		t.Fatal("good sink not reached")
	}
	stopService(t, s)

	if got := bad.Calls(); got != 3 {
		t.Fatalf("bad sink calls = %d, want 1+RetryMax", got)
	}
	h := s.History()
	if len(h) != 1 || len(h[0].Sinks) != 1 || h[0].Sinks[0] != "good" {
		t.Fatalf("unexpected history: %+v", h)
	}
}

func TestEnqueueStates(t *testing.T) {
	disabled := New(Config{}, logx.Nop(), nil)
	if err := disabled.Enqueue(Notification{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled Enqueue = %v", err)
	}

	s := New(testConfig(), logx.Nop(), nil, newFakeSink("fake", 0))
	if err := s.Enqueue(Notification{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue before Start = %v", err)
	}
	s.Start(context.Background())
	stopService(t, s)
	if err := s.Enqueue(Notification{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue after Stop = %v", err)
	}
}

func TestQueueFull(t *testing.T) {
	block := make(chan struct{})
	sink := &blockingSink{release: block}
	cfg := testConfig()
	cfg.Workers = 1
	cfg.QueueSize = 1
	s := New(cfg, logx.Nop(), nil, sink)
	s.Start(context.Background())

	var full bool
	for i := 0; i < 10; i++ {
		if err := s.Enqueue(Notification{TaskID: "t"}); errors.Is(err, ErrQueueFull) {
			full = true
			break
		}
	}
	close(block)
	stopService(t, s)
	if !full {
		t.Fatal("expected ErrQueueFull with a blocked worker")
	}
}

type blockingSink struct{ release chan struct{} }

func (b *blockingSink) Name() string { return "blocking" }

func (b *blockingSink) Send(ctx context.Context, n Notification) error {
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestRetryDelayBounds(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	tests := []struct {
		attempt  int
		min, max time.Duration
	}{
		{1, 70 * time.Millisecond, 130 * time.Millisecond},
		{2, 140 * time.Millisecond, 260 * time.Millisecond},
		{10, 700 * time.Millisecond, time.Second},
	}
	for _, tt := range tests {
		for i := 0; i < 20; i++ {
			d := retryDelay(cfg, tt.attempt)
			if d < tt.min || d > tt.max {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", tt.attempt, d, tt.min, tt.max)
			}
		}
	}
}

func TestFormatText(t *testing.T) {
	tests := []struct {
		name string
		in   Notification
		want string
	}{
		{"both", Notification{Title: "Task reminder", Text: "Buy milk"}, "Task reminder\nBuy milk"},
		{"title only", Notification{Title: "Task reminder"}, "Task reminder"},
		{"text only", Notification{Text: " Buy milk "}, "Buy milk"},
		{"empty", Notification{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatText(tt.in); got != tt.want {
				t.Fatalf("FormatText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTelegramSinkRequiresCredentials(t *testing.T) {
	if _, err := NewTelegramSink(TelegramConfig{ChatID: 1}); err == nil {
		t.Fatal("expected error for empty token")
	}
	if _, err := NewTelegramSink(TelegramConfig{Token: "123:abc"}); err == nil {
		t.Fatal("expected error for empty chat id")
	}
}
