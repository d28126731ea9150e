// Package logx is signbot's structured logging layer.
//
// A small value-type Logger sits on top of zerolog so components can carry a
// logger around without caring which sinks are active:
//   - console output stays human readable (short timestamp, file:line caller)
//   - the file sink writes JSON lines and is rotated by lumberjack
//   - an optional Telegram sink forwards warnings with a rate limit
package logx
