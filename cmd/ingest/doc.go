// Package main hosts the ingest CLI entrypoint and command graph.
//
// The Cobra command tree runs the daemon in the foreground, stops and
// inspects a running instance through its lock and pid files, validates and
// renders plan files, and queries the status history database. Configuration
// resolution and .env loading happen once in the root command so subcommands
// only deal with presentation.
//
// Add behaviour to the internal packages first and surface it here.
package main
