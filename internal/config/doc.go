// Package config loads, normalizes, and validates ingest configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks for broker,
// object-store and database credentials. The Config type centralizes every
// knob the daemon and CLI need so engine timings, history storage and source
// wiring are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
