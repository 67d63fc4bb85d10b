// Package storage provides the durable key-value layer behind the task list
// and the reminder definitions.
//
// It currently supports:
//   - "file": one JSON document per key, written atomically (tmp + rename)
//   - "sqlite": a single kv table in a SQLite database file
//   - "memory": process-local map (tests, throwaway runs)
package storage
