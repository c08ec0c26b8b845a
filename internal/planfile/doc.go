// Package planfile loads declarative plan definitions and turns them into
// pipeline plans.
//
// Plans are written in TOML (the default, matching the config file) or YAML.
// Each stage names a processor kind and optional router and cloner kinds; the
// Registry resolves kinds to implementations from internal/processors and
// internal/pipeline. Stage processors are constructed when the plan is built,
// so every stage gets its own processor instance.
package planfile
