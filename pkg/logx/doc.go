// Package logx configures pacebot's structured logging.
//
// Logger is a small value type on top of zerolog:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON-structured
//   - Service.Apply swaps level and sinks at runtime (config reload)
package logx
