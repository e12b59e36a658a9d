// Package logx configures outagebot's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional Telegram admin sink (min-level + rate limiting)
//
// The zero Logger is a safe no-op, so components can be constructed in tests
// without wiring a log service.
package logx
