// Package history persists document status events reported by pipeline
// stages and answers the queries behind the `ingest history` commands.
//
// Two drivers are available: SQLite (the default, a single file under the
// data directory) and Postgres for deployments that share one history across
// several ingest processes. Both implement report.Recorder.
package history
