// Package logx configures voxbot's structured logging.
//
// A thin wrapper (logx.Logger) sits on top of zerolog and keeps:
//   - console output readable (short timestamp and caller)
//   - file output JSON-structured
//   - an optional Telegram sink gated by min level and a rate limiter
package logx
