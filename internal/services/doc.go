// Package services defines shared utilities consumed by the pipeline engine,
// its processors, and the external integrations around it.
//
// Key responsibilities:
//   - Context helpers that stamp document IDs, stage names, and correlation
//     identifiers for logging and status reporting.
//   - Structured error markers plus the Wrap helper so callers can classify
//     failures with errors.Is (configuration vs clone vs transient).
//
// Use these helpers when wiring new processors or sources so operational
// behaviour (error handling, observability) stays uniform across stages.
package services
