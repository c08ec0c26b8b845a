// Package daemon coordinates the long-running ingest process.
//
// A Daemon owns one activated plan, the sources feeding it and the status
// history store behind its reporter. It enforces single-instance execution
// with a flock lock in the data directory and tears everything down in
// dependency order on Stop: sources first, then the plan (entry stages
// first), then the store.
//
// Keep orchestration here. Stage behaviour lives in pipeline and the
// processors package; process bootstrap lives in daemonrun.
package daemon
