package taskstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskminder/internal/eventbus"
	"taskminder/internal/reminder"
	"taskminder/internal/storage"
	logx "taskminder/pkg/logx"
)

const (
	DefaultStorageKey  = "tasks"
	DefaultMinLeadTime = 5 * time.Second

	reminderTitle = "Task reminder"
)

// Reminders is the notification subsystem the store binds tasks to.
type Reminders interface {
	Schedule(ctx context.Context, at time.Time, p reminder.Payload) (string, error)
	Cancel(ctx context.Context, handle string) error
	Pending(ctx context.Context) ([]reminder.Reminder, error)
}

type Config struct {
	// MinLeadTime is how far in the future a requested reminder must be.
	// Zero means DefaultMinLeadTime.
	MinLeadTime time.Duration
	StorageKey  string
	// Location formats the persisted creation date. Nil means time.Local.
	Location *time.Location
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDFunc(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func WithBus(bus eventbus.Bus) Option {
	return func(s *Store) {
		if bus != nil {
			s.bus = bus
		}
	}
}

// Store owns the ordered task list, its persisted copy, and the binding
// between each task and its pending reminder.
//
// Mutating operations are serialized: the lock is held across the reminder
// call and the storage write, so two mutations never interleave.
type Store struct {
	mu sync.RWMutex

	log logx.Logger
	cfg Config
	kv  storage.KV
	rem Reminders
	bus eventbus.Bus

	now   func() time.Time
	newID func() string

	tasks []Task
}

// New builds a store. rem may be nil, in which case reminder requests are
// logged and the task is created without a handle.
func New(cfg Config, kv storage.KV, rem Reminders, log logx.Logger, opts ...Option) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.MinLeadTime <= 0 {
		cfg.MinLeadTime = DefaultMinLeadTime
	}
	if strings.TrimSpace(cfg.StorageKey) == "" {
		cfg.StorageKey = DefaultStorageKey
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	s := &Store{
		log:   log.With(logx.Comp("taskstore")),
		cfg:   cfg,
		kv:    kv,
		rem:   rem,
		bus:   eventbus.New(),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

// Load replaces the in-memory list with the persisted one. Missing or
// unreadable data is treated as an empty list. Reminder bindings are then
// reconciled: reminders no task refers to are cancelled, and handles whose
// reminder is gone (fired or lost) are cleared.
func (s *Store) Load(ctx context.Context) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = s.readLocked(ctx)
	if s.reconcileLocked(ctx) {
		if err := s.persistLocked(ctx); err != nil {
			s.log.Warn("persist after reconcile failed", logx.Err(err))
		}
	}
	s.publishLocked(EventLoaded, "")
	return cloneTasks(s.tasks)
}

// Add creates a task. A non-zero remindAt schedules a reminder; a scheduling
// failure is logged and the task is kept without a handle.
func (s *Store) Add(ctx context.Context, description string, remindAt time.Time) (Task, error) {
	return s.add(ctx, description, s.now(), remindAt)
}

// AddAfter is Add with the reminder due delay after the store's clock. The
// lead time check sees exactly delay.
func (s *Store) AddAfter(ctx context.Context, description string, delay time.Duration) (Task, error) {
	now := s.now()
	return s.add(ctx, description, now, now.Add(delay))
}

func (s *Store) add(ctx context.Context, description string, now, remindAt time.Time) (Task, error) {
	if strings.TrimSpace(description) == "" {
		return Task{}, ErrEmptyDescription
	}
	if !remindAt.IsZero() {
		if lead := remindAt.Sub(now); lead < s.cfg.MinLeadTime {
			return Task{}, fmt.Errorf("%w: %s ahead, need at least %s", ErrInvalidSchedule, lead.Round(time.Millisecond), s.cfg.MinLeadTime)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.uniqueIDLocked()
	if err != nil {
		return Task{}, err
	}
	t := Task{
		ID:          id,
		Description: description,
		CreatedAt:   now,
		ScheduledAt: remindAt,
	}
	if !remindAt.IsZero() {
		t.ReminderHandle = s.scheduleLocked(ctx, t)
	}

	s.tasks = append(s.tasks, t)
	if err := s.persistLocked(ctx); err != nil {
		s.tasks = s.tasks[:len(s.tasks)-1]
		if t.HasReminder() {
			s.cancelLocked(ctx, t)
		}
		return Task{}, err
	}

	s.log.Debug("task added", logx.TaskID(t.ID), logx.Bool("reminder", t.HasReminder()))
	s.publishLocked(EventAdded, t.ID)
	return t, nil
}

// Toggle flips the completed flag. Unknown ids are a no-op. The reminder
// binding is left as is.
func (s *Store) Toggle(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return nil
	}
	s.tasks[i].Completed = !s.tasks[i].Completed
	if err := s.persistLocked(ctx); err != nil {
		s.tasks[i].Completed = !s.tasks[i].Completed
		return err
	}
	s.publishLocked(EventToggled, id)
	return nil
}

// Delete cancels the task's reminder (best-effort) and removes the task.
// Unknown ids are a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return nil
	}
	prev := s.tasks
	cancelled := false
	if prev[i].HasReminder() {
		cancelled = s.cancelLocked(ctx, prev[i])
	}

	next := make([]Task, 0, len(prev)-1)
	next = append(next, prev[:i]...)
	next = append(next, prev[i+1:]...)
	s.tasks = next

	if err := s.persistLocked(ctx); err != nil {
		if cancelled {
			prev[i].ReminderHandle = ""
		}
		s.tasks = prev
		return err
	}
	s.log.Debug("task deleted", logx.TaskID(id), logx.Bool("reminder_cancelled", cancelled))
	s.publishLocked(EventDeleted, id)
	return nil
}

// Clear cancels every pending reminder (continuing past failures), empties
// the list, and removes the persisted entry.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	restore := cloneTasks(s.tasks)
	failed := 0
	for i, t := range s.tasks {
		if !t.HasReminder() {
			continue
		}
		if s.cancelLocked(ctx, t) {
			restore[i].ReminderHandle = ""
		} else {
			failed++
		}
	}

	s.tasks = nil
	if err := s.kv.Remove(ctx, s.cfg.StorageKey); err != nil {
		s.tasks = restore
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	s.log.Info("tasks cleared", logx.Int("removed", len(restore)), logx.Int("cancel_failures", failed))
	s.publishLocked(EventCleared, "")
	return nil
}

// Tasks returns a snapshot of the list in display order.
func (s *Store) Tasks() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneTasks(s.tasks)
}

func (s *Store) Get(id string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexLocked(id)
	if i < 0 {
		return Task{}, false
	}
	return s.tasks[i], true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Subscribe delivers a ChangeEvent after each successful mutation and Load.
// Other traffic on a shared bus is filtered out.
func (s *Store) Subscribe(buffer int) (<-chan eventbus.Event, func()) {
	return s.bus.Subscribe(buffer, eventPrefix)
}

func (s *Store) readLocked(ctx context.Context) []Task {
	b, ok, err := s.kv.Get(ctx, s.cfg.StorageKey)
	if err != nil {
		s.log.Warn("task storage unreadable; starting empty", logx.Err(err))
		return nil
	}
	if !ok {
		return nil
	}
	tasks, skipped, err := decodeTasks(b, s.cfg.Location)
	if err != nil {
		s.log.Warn("task data unparseable; starting empty", logx.Err(err), logx.Int("bytes", len(b)))
		return nil
	}
	for _, reason := range skipped {
		s.log.Warn("task record skipped", logx.String("reason", reason))
	}
	return tasks
}

func (s *Store) reconcileLocked(ctx context.Context) bool {
	if s.rem == nil {
		return false
	}
	pending, err := s.rem.Pending(ctx)
	if err != nil {
		s.log.Warn("reminder reconcile skipped", logx.Err(err))
		return false
	}

	referenced := make(map[string]struct{}, len(s.tasks))
	for _, t := range s.tasks {
		if t.HasReminder() {
			referenced[t.ReminderHandle] = struct{}{}
		}
	}
	live := make(map[string]struct{}, len(pending))
	for _, r := range pending {
		if _, ok := referenced[r.Handle]; ok {
			live[r.Handle] = struct{}{}
			continue
		}
		if r.Payload.TaskID == "" {
			// not bound to a task
			continue
		}
		if err := s.rem.Cancel(ctx, r.Handle); err != nil {
			s.log.Warn("orphan reminder cancel failed", logx.Handle(r.Handle), logx.Err(err))
			continue
		}
		s.log.Info("orphan reminder cancelled", logx.Handle(r.Handle), logx.TaskID(r.Payload.TaskID))
	}

	changed := false
	for i := range s.tasks {
		h := s.tasks[i].ReminderHandle
		if h == "" {
			continue
		}
		if _, ok := live[h]; !ok {
			s.tasks[i].ReminderHandle = ""
			changed = true
		}
	}
	return changed
}

func (s *Store) persistLocked(ctx context.Context) error {
	b, err := encodeTasks(s.tasks, s.cfg.Location)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	if err := s.kv.Set(ctx, s.cfg.StorageKey, b); err != nil {
		s.log.Warn("task persist failed; rolled back", logx.Err(err))
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

func (s *Store) scheduleLocked(ctx context.Context, t Task) string {
	if s.rem == nil {
		s.log.Warn("reminder requested but no scheduler configured", logx.TaskID(t.ID))
		return ""
	}
	h, err := s.rem.Schedule(ctx, t.ScheduledAt, reminder.Payload{
		TaskID: t.ID,
		Title:  reminderTitle,
		Body:   t.Description,
	})
	if err != nil {
		s.log.Warn("reminder scheduling failed; task kept without reminder", logx.TaskID(t.ID), logx.Err(err))
		return ""
	}
	return h
}

// cancelLocked reports whether the reminder is known to be gone.
func (s *Store) cancelLocked(ctx context.Context, t Task) bool {
	if s.rem == nil {
		return false
	}
	if err := s.rem.Cancel(ctx, t.ReminderHandle); err != nil {
		s.log.Warn("reminder cancel failed", logx.TaskID(t.ID), logx.Handle(t.ReminderHandle), logx.Err(err))
		return false
	}
	return true
}

func (s *Store) uniqueIDLocked() (string, error) {
	for attempt := 0; attempt < 8; attempt++ {
		id := s.newID()
		if id != "" && s.indexLocked(id) < 0 {
			return id, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique task id")
}

func (s *Store) indexLocked(id string) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) publishLocked(op, id string) {
	s.bus.Publish(eventbus.Event{
		Type: op,
		Time: s.now(),
		Data: ChangeEvent{Op: op, TaskID: id, Count: len(s.tasks)},
	})
}

func cloneTasks(in []Task) []Task {
	if len(in) == 0 {
		return []Task{}
	}
	return append([]Task(nil), in...)
}
