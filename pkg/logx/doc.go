// Package logx configures deadlined's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Config reloads live: loggers derived from a Service follow Apply()
package logx
