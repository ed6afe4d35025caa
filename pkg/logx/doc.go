// Package logx configures linkrotor's structured logging.
//
// logx.Logger is a small value-type wrapper on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional Telegram sink (min-level + rate limiting) for operators
package logx
