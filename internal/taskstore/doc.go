// Package taskstore keeps the to-do list and its reminder bindings consistent.
//
// The list and the reminder scheduler are two independently owned resources
// with no shared transaction. The store orders its writes so a reminder is
// never left pointing at a deleted task:
//   - add: schedule, then attach the handle and persist
//   - delete: cancel, then remove and persist
//   - clear: cancel every reminder (best-effort), then remove the entry
//
// A failed write rolls the in-memory mutation back and returns ErrPersist.
// Load reconciles whatever a crash between the two steps left behind.
package taskstore
