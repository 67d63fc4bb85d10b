package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "taskminder/pkg/logx"
)

// fileStore keeps one JSON document per key.
//
// Layout:
//   - <path>/<key>.json
//   - <path>/.lock (advisory lock shared by every process writing here)
//
// Writes go to <key>.json.tmp and are renamed over the target so a crash
// never leaves a half-written value behind.
type fileStore struct {
	log logx.Logger
	dir string

	mu     sync.Mutex
	closed bool
}

const lockName = ".lock"

func openFile(cfg Config, log logx.Logger) (KV, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	log.Debug("file storage opened", logx.String("dir", dir))
	return &fileStore{log: log, dir: dir}, nil
}

func (s *fileStore) pathFor(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *fileStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	if err := checkKey(key); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	return s.read(key)
}

func (s *fileStore) Set(ctx context.Context, key string, value []byte) error {
	return s.Update(ctx, key, func([]byte, bool) ([]byte, error) {
		if value == nil {
			return []byte{}, nil
		}
		return value, nil
	})
}

func (s *fileStore) Remove(ctx context.Context, key string) error {
	return s.Update(ctx, key, func(_ []byte, ok bool) ([]byte, error) {
		if !ok {
			return nil, ErrUnchanged
		}
		return nil, nil
	})
}

// Update holds the in-process mutex and the directory lock across the read
// and the rename.
func (s *fileStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	_ = ctx
	if err := checkKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	unlock, err := lockFile(filepath.Join(s.dir, lockName))
	if err != nil {
		return err
	}
	defer unlock()

	cur, ok, err := s.read(key)
	if err != nil {
		return err
	}
	next, write, err := runUpdate(fn, cur, ok)
	if err != nil || !write {
		return err
	}
	if next == nil {
		err := os.Remove(s.pathFor(key))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	return s.write(key, next)
}

func (s *fileStore) read(key string) ([]byte, bool, error) {
	b, err := os.ReadFile(s.pathFor(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *fileStore) write(key string, value []byte) (err error) {
	target := s.pathFor(key)
	tmp := target + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()
	if _, err = f.Write(value); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
