// Package logx configures seobot's structured logging.
//
// logx.Logger wraps zerolog:
//   - console output stays readable (short timestamp, short caller)
//   - file output is JSON
//   - an optional chat sink forwards WARN+ lines to a channel, rate limited
package logx
