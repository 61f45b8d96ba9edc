// Package logx configures sentinel's structured logging.
//
// logx.Logger wraps zerolog with three sinks:
//   - console: short timestamp and caller, human readable
//   - file: JSON lines
//   - Telegram: optional, filtered by min level and rate limited
package logx
