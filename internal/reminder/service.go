package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskminder/internal/storage"
	logx "taskminder/pkg/logx"
)

type Option func(*Service)

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithHandleFunc overrides handle generation (tests).
func WithHandleFunc(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newHandle = fn
		}
	}
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	kv  storage.KV
	key string

	now       func() time.Time
	newHandle func() string

	// defs mirrors the persisted definition set as of the last refresh.
	defs map[string]Reminder

	// runtime timers (only while running); ver guards against stale callbacks.
	running bool
	runCtx  context.Context
	timers  map[string]*time.Timer
	ver     map[string]uint64
	seq     uint64

	handlerOnce sync.Once
	handler     Handler
	// inflight counts handler calls that Stop waits for.
	inflight sync.WaitGroup
}

func New(cfg Config, kv storage.KV, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	key := strings.TrimSpace(cfg.StorageKey)
	if key == "" {
		key = DefaultStorageKey
	}
	s := &Service{
		log:       log.With(logx.Comp("reminder")),
		cfg:       cfg,
		kv:        kv,
		key:       key,
		now:       time.Now,
		newHandle: uuid.NewString,
		defs:      map[string]Reminder{},
		timers:    map[string]*time.Timer{},
		ver:       map[string]uint64{},
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	s.loc = s.loadLocation()
	return s
}

// Location is the configured timezone.
func (s *Service) Location() *time.Location { return s.loc }

// OnFire registers the fire handler. Only the first registration wins;
// later calls return ErrHandlerRegistered.
func (s *Service) OnFire(h Handler) error {
	err := ErrHandlerRegistered
	s.handlerOnce.Do(func() {
		s.mu.Lock()
		s.handler = h
		s.mu.Unlock()
		err = nil
	})
	return err
}

// Start loads the persisted definitions and arms a timer for each.
// Past-due reminders fire immediately. Start is idempotent.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.runCtx = ctx
	if err := s.refreshLocked(ctx); err != nil {
		s.running = false
		s.runCtx = nil
		return fmt.Errorf("load reminders: %w", err)
	}
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("pending", len(s.defs)))
	return nil
}

// Stop disarms all timers and waits, until ctx ends, for handlers of
// reminders that already fired. Definitions stay persisted and resume on the
// next Start.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	for h := range s.timers {
		s.disarmLocked(h)
	}
	s.running = false
	s.runCtx = nil
	pending := len(s.defs)
	s.mu.Unlock()

	idle := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(idle)
	}()
	select {
	case <-idle:
	case <-ctx.Done():
		s.log.Warn("reminder handlers still running at stop", logx.Err(ctx.Err()))
	}
	s.log.Info("service stopped", logx.Int("pending", pending))
}

// Sync reloads the definition set from storage, arming reminders scheduled
// and disarming reminders cancelled by another process.
func (s *Service) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

// Schedule persists a reminder for at and returns its handle.
func (s *Service) Schedule(ctx context.Context, at time.Time, p Payload) (string, error) {
	if at.IsZero() {
		return "", ErrNoTime
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.newHandle()
	err := s.mutateLocked(ctx, func(defs map[string]Reminder) (bool, error) {
		if _, dup := defs[h]; dup {
			return false, fmt.Errorf("reminder handle collision: %s", h)
		}
		defs[h] = Reminder{Handle: h, At: at, Payload: p}
		return true, nil
	})
	if err != nil {
		return "", fmt.Errorf("persist reminders: %w", err)
	}
	s.log.Debug("reminder scheduled",
		logx.Handle(h),
		logx.TaskID(p.TaskID),
		logx.String("at", at.In(s.loc).Format("2006-01-02 15:04:05")),
	)
	return h, nil
}

// Cancel removes a reminder. Unknown handles are a no-op.
func (s *Service) Cancel(ctx context.Context, handle string) error {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var r Reminder
	err := s.mutateLocked(ctx, func(defs map[string]Reminder) (bool, error) {
		var ok bool
		if r, ok = defs[handle]; !ok {
			return false, nil
		}
		delete(defs, handle)
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("persist reminders: %w", err)
	}
	s.disarmLocked(handle)
	if r.Handle != "" {
		s.log.Debug("reminder cancelled", logx.Handle(handle), logx.TaskID(r.Payload.TaskID))
	}
	return nil
}

// Scheduled reports whether handle is pending, as of the last refresh.
func (s *Service) Scheduled(handle string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.defs[handle]
	return ok
}

// Pending refreshes from storage and returns all pending reminders ordered by time.
func (s *Service) Pending(ctx context.Context) ([]Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refreshLocked(ctx); err != nil {
		return nil, err
	}
	return s.sortedLocked(), nil
}

// ParseAt resolves a user-supplied reminder time in the service timezone.
func (s *Service) ParseAt(raw string) (time.Time, error) {
	return ParseAt(raw, s.now(), s.loc)
}

func (s *Service) sortedLocked() []Reminder {
	return sortReminders(s.defs)
}

func sortReminders(defs map[string]Reminder) []Reminder {
	out := make([]Reminder, 0, len(defs))
	for _, r := range defs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].Handle < out[j].Handle
		}
		return out[i].At.Before(out[j].At)
	})
	return out
}

// refreshLocked adopts the persisted set. Call with s.mu held.
func (s *Service) refreshLocked(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	b, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return err
	}
	s.adoptLocked(s.decodeDefs(b, ok))
	return nil
}

// mutateLocked applies edit to the persisted set inside one storage Update,
// so a writer in another process cannot interleave between the read and the
// write. edit reports whether it changed anything. On success the result is
// adopted; on failure defs and timers are left as they were.
func (s *Service) mutateLocked(ctx context.Context, edit func(map[string]Reminder) (bool, error)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var next map[string]Reminder
	err := s.kv.Update(ctx, s.key, func(cur []byte, ok bool) ([]byte, error) {
		defs := s.decodeDefs(cur, ok)
		changed, err := edit(defs)
		if err != nil {
			return nil, err
		}
		next = defs
		if !changed {
			return nil, storage.ErrUnchanged
		}
		return encodeDefs(defs)
	})
	if err != nil {
		return err
	}
	s.adoptLocked(next)
	return nil
}

// adoptLocked replaces defs and, while running, disarms timers for handles
// that are gone and arms the rest.
func (s *Service) adoptLocked(defs map[string]Reminder) {
	s.defs = defs
	if !s.running {
		return
	}
	for h := range s.timers {
		if _, keep := defs[h]; !keep {
			s.disarmLocked(h)
		}
	}
	for _, r := range defs {
		s.armLocked(r)
	}
}

func (s *Service) decodeDefs(b []byte, ok bool) map[string]Reminder {
	defs := map[string]Reminder{}
	if !ok || len(b) == 0 {
		return defs
	}
	var list []Reminder
	if err := json.Unmarshal(b, &list); err != nil {
		s.log.Warn("reminder definitions unreadable; starting empty", logx.Err(err))
		return defs
	}
	for _, r := range list {
		if r.Handle == "" || r.At.IsZero() {
			continue
		}
		defs[r.Handle] = r
	}
	return defs
}

// encodeDefs returns nil for an empty set, which removes the key.
func encodeDefs(defs map[string]Reminder) ([]byte, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	return json.Marshal(sortReminders(defs))
}

func (s *Service) armLocked(r Reminder) {
	if _, armed := s.timers[r.Handle]; armed {
		return
	}
	s.seq++
	ver := s.seq
	s.ver[r.Handle] = ver
	delay := r.At.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	handle := r.Handle
	s.timers[handle] = time.AfterFunc(delay, func() { s.fire(handle, ver) })
}

func (s *Service) disarmLocked(handle string) {
	if t, ok := s.timers[handle]; ok {
		_ = t.Stop()
		delete(s.timers, handle)
	}
	delete(s.ver, handle)
}

func (s *Service) fire(handle string, ver uint64) {
	s.mu.Lock()
	if !s.running || s.ver[handle] != ver {
		s.mu.Unlock()
		return
	}
	ctx := s.runCtx

	// Claim the definition in one storage Update: a reminder another process
	// already cancelled or fired is skipped, and a crash after delivery cannot
	// fire it twice.
	var (
		r       Reminder
		claimed bool
	)
	err := s.mutateLocked(ctx, func(defs map[string]Reminder) (bool, error) {
		r, claimed = defs[handle]
		if !claimed {
			return false, nil
		}
		delete(defs, handle)
		return true, nil
	})
	if err != nil {
		// Left persisted; the next Sync or Start re-arms it.
		s.disarmLocked(handle)
		s.mu.Unlock()
		s.log.Warn("reminder claim failed; will retry on next sync", logx.Handle(handle), logx.Err(err))
		return
	}
	s.disarmLocked(handle)
	h := s.handler
	if claimed {
		s.inflight.Add(1)
	}
	s.mu.Unlock()

	if !claimed {
		return
	}
	defer s.inflight.Done()
	s.log.Info("reminder fired", logx.Handle(handle), logx.TaskID(r.Payload.TaskID))
	if h == nil {
		s.log.Warn("no reminder handler registered; dropping", logx.Handle(handle))
		return
	}
	h(ctx, r)
}

func (s *Service) loadLocation() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
