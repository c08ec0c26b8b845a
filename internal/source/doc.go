// Package source feeds documents into a plan's entry stage.
//
// A Source runs until its input is exhausted or its context is cancelled.
// Submissions block while the entry stage's queue is full, so a slow plan
// slows the source down instead of buffering without bound.
package source
