// Package preflight provides readiness checks for the directories and
// external services ingest depends on.
//
// The daemon runs RunAll before activating the plan and refuses to start if a
// check fails. The CLI "ingest status" command prints the same results.
//
// Each service check is gated by its config section; disabled features are skipped.
package preflight
