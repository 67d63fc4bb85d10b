// Package notifier delivers fired reminders to the user.
//
// Notifications go through a bounded queue drained by a small worker pool.
// Each worker waits on a shared token bucket, hands the notification to every
// configured Sink, and retries failed sinks with jittered exponential backoff.
//
// # Sinks
//
// The log sink is always present so a reminder is never silently lost. The
// Telegram sink is added when notifier.telegram is enabled.
//
// # History
//
// The service keeps a small in-memory history of delivered notifications for
// the CLI status output.
package notifier
