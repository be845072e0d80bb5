// Package logx configures squire's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured and rotated by lumberjack
//   - Optional notifier sink (min-level + rate limiting), usually Telegram
package logx
