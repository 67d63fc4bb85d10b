package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	logx "taskminder/pkg/logx"
)

func openAll(t *testing.T) map[string]KV {
	t.Helper()
	dir := t.TempDir()
	out := map[string]KV{}
	for _, cfg := range []Config{
		{Driver: "file", Path: filepath.Join(dir, "files")},
		{Driver: "sqlite", Path: filepath.Join(dir, "db", "taskminder.db")},
		{Driver: "memory"},
	} {
		kv, err := Open(cfg, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%s): %v", cfg.Driver, err)
		}
		t.Cleanup(func() { _ = kv.Close() })
		out[cfg.Driver] = kv
	}
	return out
}

func TestKVContract(t *testing.T) {
	ctx := context.Background()
	for name, kv := range openAll(t) {
		kv := kv
		t.Run(name, func(t *testing.T) {
			if _, ok, err := kv.Get(ctx, "tasks"); err != nil || ok {
				t.Fatalf("Get on empty store = ok %v, err %v; want absent", ok, err)
			}
			if err := kv.Set(ctx, "tasks", []byte(`[1]`)); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := kv.Set(ctx, "tasks", []byte(`[1,2]`)); err != nil {
				t.Fatalf("Set overwrite: %v", err)
			}
			v, ok, err := kv.Get(ctx, "tasks")
			if err != nil || !ok {
				t.Fatalf("Get = ok %v, err %v", ok, err)
			}
			if string(v) != `[1,2]` {
				t.Fatalf("Get = %q, want [1,2]", v)
			}
			if err := kv.Remove(ctx, "tasks"); err != nil {
				t.Fatalf("Remove: %v", err)
			}
			if err := kv.Remove(ctx, "tasks"); err != nil {
				t.Fatalf("Remove absent: %v", err)
			}
			if _, ok, _ := kv.Get(ctx, "tasks"); ok {
				t.Fatal("key still present after Remove")
			}
		})
	}
}

func TestUpdateContract(t *testing.T) {
	ctx := context.Background()
	for name, kv := range openAll(t) {
		kv := kv
		t.Run(name, func(t *testing.T) {
			err := kv.Update(ctx, "reminders", func(cur []byte, ok bool) ([]byte, error) {
				if ok || cur != nil {
					t.Fatalf("absent key passed ok=%v cur=%q", ok, cur)
				}
				return []byte(`[1]`), nil
			})
			if err != nil {
				t.Fatalf("Update create: %v", err)
			}

			err = kv.Update(ctx, "reminders", func(cur []byte, ok bool) ([]byte, error) {
				if !ok || string(cur) != `[1]` {
					t.Fatalf("Update saw ok=%v cur=%q", ok, cur)
				}
				return nil, ErrUnchanged
			})
			if err != nil {
				t.Fatalf("Update unchanged: %v", err)
			}

			boom := errors.New("boom")
			if err := kv.Update(ctx, "reminders", func([]byte, bool) ([]byte, error) { return []byte(`[9]`), boom }); !errors.Is(err, boom) {
				t.Fatalf("Update err = %v, want boom", err)
			}
			if v, _, _ := kv.Get(ctx, "reminders"); string(v) != `[1]` {
				t.Fatalf("failed Update wrote %q", v)
			}

			if err := kv.Update(ctx, "reminders", func([]byte, bool) ([]byte, error) { return nil, nil }); err != nil {
				t.Fatalf("Update remove: %v", err)
			}
			if _, ok, _ := kv.Get(ctx, "reminders"); ok {
				t.Fatal("nil Update result should remove the key")
			}
		})
	}
}

// Two handles on one path stand in for two processes.
func TestUpdateSerializesSeparateHandles(t *testing.T) {
	dir := t.TempDir()
	for _, cfg := range []Config{
		{Driver: "file", Path: filepath.Join(dir, "files")},
		{Driver: "sqlite", Path: filepath.Join(dir, "db", "taskminder.db"), BusyTimeout: 10 * time.Second},
	} {
		cfg := cfg
		t.Run(cfg.Driver, func(t *testing.T) {
			ctx := context.Background()
			var handles [2]KV
			for i := range handles {
				kv, err := Open(cfg, logx.Nop())
				if err != nil {
					t.Fatalf("Open: %v", err)
				}
				t.Cleanup(func() { _ = kv.Close() })
				handles[i] = kv
			}

			const perHandle = 25
			var wg sync.WaitGroup
			errs := make(chan error, 2*perHandle)
			for _, kv := range handles {
				kv := kv
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < perHandle; i++ {
						errs <- kv.Update(ctx, "counter", func(cur []byte, ok bool) ([]byte, error) {
							n := 0
							if ok {
								n, _ = strconv.Atoi(string(cur))
							}
							return []byte(strconv.Itoa(n + 1)), nil
						})
					}
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				if err != nil {
					t.Fatalf("Update: %v", err)
				}
			}
			v, _, err := handles[0].Get(ctx, "counter")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if string(v) != strconv.Itoa(2*perHandle) {
				t.Fatalf("counter = %s, want %d (lost updates)", v, 2*perHandle)
			}
		})
	}
}

func TestInvalidKeys(t *testing.T) {
	ctx := context.Background()
	for name, kv := range openAll(t) {
		for _, key := range []string{"", "  ", "../escape", "a/b"} {
			if err := kv.Set(ctx, key, []byte("x")); !errors.Is(err, ErrInvalidKey) {
				t.Fatalf("%s: Set(%q) err = %v, want ErrInvalidKey", name, key, err)
			}
		}
	}
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	kv, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer kv.Close()
	if err := kv.Set(context.Background(), "reminders", []byte(`{}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range entries {
		if e.Name() != lockName {
			names = append(names, e.Name())
		}
	}
	if len(names) != 1 || names[0] != "reminders.json" {
		t.Fatalf("unexpected files: %v", names)
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskminder.db")
	ctx := context.Background()

	kv, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := kv.Set(ctx, "tasks", []byte(`{"version":1}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	_ = kv.Close()

	kv, err = Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer kv.Close()
	v, ok, err := kv.Get(ctx, "tasks")
	if err != nil || !ok || string(v) != `{"version":1}` {
		t.Fatalf("Get after reopen = %q, %v, %v", v, ok, err)
	}
}

func TestClosedMemory(t *testing.T) {
	m := NewMemory()
	_ = m.Close()
	if err := m.Set(context.Background(), "k", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("Set after Close err = %v, want ErrClosed", err)
	}
}

func TestUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "redis"}, logx.Logger{}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
