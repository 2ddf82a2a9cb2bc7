// Package logx configures greensched's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - console output readable (short timestamp and caller)
//   - file output JSON-structured
//   - an optional alert webhook sink (min-level and rate limited)
//
// Components receive a derived logger, typically log.With(logx.String("comp", "scheduler")).
package logx
