// Package logging assembles structured slog loggers and formatting helpers used
// across ingest.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so stage workers can tag log
// lines with stage names, document IDs, sources and correlation IDs. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// records with the same shape and routing as the rest of the system.
package logging
