package storage

import (
	"errors"
	"time"
)

var (
	ErrClosed     = errors.New("storage closed")
	ErrInvalidKey = errors.New("storage key is invalid")
	// ErrUnchanged returned from an UpdateFunc makes Update a no-op.
	ErrUnchanged = errors.New("storage value unchanged")
)

// UpdateFunc maps the current value (ok=false when absent) to the new one.
// A nil result removes the key.
type UpdateFunc func(cur []byte, ok bool) ([]byte, error)

// Config configures storage.
//
// Driver values:
//   - "file": one file per key under Path (a directory)
//   - "sqlite": SQLite database file at Path
//   - "memory": nothing is written to disk
//
// If Driver is empty, "file" is used.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
