package testsupport

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"ingest/internal/document"
	"ingest/internal/report"
)

// Collector is a report.Reporter that keeps events in memory.
type Collector struct {
	mu     sync.Mutex
	events []report.Event
}

// Report implements report.Reporter.
func (c *Collector) Report(_ context.Context, evt report.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

// Events returns a snapshot of every event reported so far.
func (c *Collector) Events() []report.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.events)
}

// WithStatus returns the events carrying status.
func (c *Collector) WithStatus(status document.Status) []report.Event {
	var out []report.Event
	for _, evt := range c.Events() {
		if evt.Status == status {
			out = append(out, evt)
		}
	}
	return out
}

// Eventually polls cond until it holds or timeout elapses.
func Eventually(t testing.TB, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s: %s", timeout, msg)
	}
}
