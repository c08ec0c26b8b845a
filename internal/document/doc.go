// Package document defines the unit of work that flows through a pipeline
// plan: an identified, status-tagged bag of multi-valued fields plus raw
// payload bytes.
//
// Documents are owned by exactly one stage at a time, so they carry no
// internal locking. When a stage fans a document out to several successors
// it asks a Cloner for independent deep copies before any handoff happens.
package document
