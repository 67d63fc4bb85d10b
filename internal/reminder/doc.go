// Package reminder schedules one-shot reminders and fires each at most once.
//
// Definitions are persisted through storage.KV so a reminder scheduled by
// one process (the CLI) is armed by another (the daemon) after Start or Sync.
// The service is responsible only for:
//   - keeping the definition set durable
//   - arming one timer per pending definition while running
//   - removing a definition before handing it to the fire handler
package reminder
