// Package pipeline runs documents through a directed acyclic graph of named
// stages.
//
// Each Stage owns a bounded queue, a single worker goroutine, a
// DocumentProcessor, a Router and its successor stages. Workers drain their
// queue in batches, contain per-document faults as ERROR reports, route
// surviving documents to successors (cloning on fan-out) and block on full
// successor queues to apply backpressure. A Plan is the validated, immutable
// graph assembled by PlanBuilder from StageBuilders; it activates stages
// downstream-first and deactivates them upstream-first.
package pipeline
