package storage

import (
	"context"
	"errors"
	"strings"

	logx "taskminder/pkg/logx"
)

// KV is the key-value API the task store and the reminder scheduler persist through.
//
// Get reports ok=false (and a nil error) when the key is absent.
// Remove of an absent key is not an error.
//
// Update is a read-modify-write that excludes every other write to the same
// store, including writes from other processes sharing a file or sqlite
// store. fn must not call back into the KV.
type KV interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (KV, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.Comp("storage"), logx.String("driver", driver))

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory", "mem":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// runUpdate calls fn and reports whether its result must be written.
func runUpdate(fn UpdateFunc, cur []byte, ok bool) (next []byte, write bool, err error) {
	next, err = fn(cur, ok)
	if errors.Is(err, ErrUnchanged) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return next, true, nil
}

func checkKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrInvalidKey
	}
	if strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return ErrInvalidKey
	}
	return nil
}
