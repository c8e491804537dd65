// Package logx configures cadence's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional alert sink (min-level + rate limiting) for operator visibility
//
// Besides the usual levels, Logger exposes Critical for failures that an
// operator must look at (for example a scheduled task that failed). Critical
// is emitted at zerolog's fatal level via WithLevel, so it never exits the
// process.
package logx
