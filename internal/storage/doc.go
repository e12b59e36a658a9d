// Package storage persists schedule state, the change history and the
// recipient registry.
//
// Two drivers are available:
//   - sqlite: tables schedules/history/subscribers (default)
//   - file: a single JSON snapshot, rewritten atomically on every write
//
// Every write is durable before the call returns.
package storage
