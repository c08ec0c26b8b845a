package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ingest/internal/document"
	"ingest/internal/pipeline"
	"ingest/internal/report"
)

func fastTimings() pipeline.Timings {
	return pipeline.Timings{
		InactivePoll:  5 * time.Millisecond,
		IdlePoll:      time.Millisecond,
		ShutdownGrace: 100 * time.Millisecond,
	}
}

func newStage(name string, p pipeline.DocumentProcessor, rep report.Reporter) *pipeline.StageBuilder {
	return pipeline.NewStageBuilder().
		Named(name).
		WithProcessor(p).
		WithReporter(rep).
		WithTimings(fastTimings())
}

func mustBuild(t *testing.T, b *pipeline.PlanBuilder) *pipeline.Plan {
	t.Helper()
	plan, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return plan
}

func activate(t *testing.T, plan *pipeline.Plan) {
	t.Helper()
	if err := plan.Activate(context.Background()); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	t.Cleanup(func() { _ = plan.Deactivate(context.Background()) })
}

func mustStage(t *testing.T, plan *pipeline.Plan, name string) *pipeline.Stage {
	t.Helper()
	st, ok := plan.Stage(name)
	if !ok {
		t.Fatalf("stage %q not in plan", name)
	}
	return st
}

func newDoc(id string) *document.Document {
	doc := document.New(id, "test", []byte("payload-"+id))
	doc.Put("title", "doc "+id)
	return doc
}

// passThrough returns its input unchanged.
type passThrough struct {
	name        string
	sideEffects bool
	closed      atomic.Int32
}

func (p *passThrough) Name() string {
	if p.name == "" {
		return "pass"
	}
	return p.name
}

func (p *passThrough) ProcessDocument(_ context.Context, doc *document.Document) ([]*document.Document, error) {
	return []*document.Document{doc}, nil
}

func (p *passThrough) HasExternalSideEffects() bool { return p.sideEffects }

func (p *passThrough) Close() error {
	p.closed.Add(1)
	return nil
}

// capture records documents and ends their flow without a status change.
type capture struct {
	mu        sync.Mutex
	docs      []*document.Document
	snapshots []*document.Document
	statuses  []document.Status
}

func (c *capture) Name() string { return "capture" }

func (c *capture) ProcessDocument(_ context.Context, doc *document.Document) ([]*document.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = append(c.docs, doc)
	c.snapshots = append(c.snapshots, doc.Clone())
	c.statuses = append(c.statuses, doc.Status())
	return nil, nil
}

func (c *capture) HasExternalSideEffects() bool { return false }

func (c *capture) Close() error { return nil }

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.docs)
}

func (c *capture) captured() ([]*document.Document, []*document.Document, []document.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*document.Document(nil), c.docs...),
		append([]*document.Document(nil), c.snapshots...),
		append([]document.Status(nil), c.statuses...)
}

// funcProcessor adapts a function.
type funcProcessor struct {
	fn     func(ctx context.Context, doc *document.Document) ([]*document.Document, error)
	closed atomic.Int32
}

func (f *funcProcessor) Name() string { return "func" }

func (f *funcProcessor) ProcessDocument(ctx context.Context, doc *document.Document) ([]*document.Document, error) {
	return f.fn(ctx, doc)
}

func (f *funcProcessor) HasExternalSideEffects() bool { return false }

func (f *funcProcessor) Close() error {
	f.closed.Add(1)
	return nil
}

// panicRouter fails the test if it is ever consulted.
type panicRouter struct {
	calls atomic.Int32
}

func (r *panicRouter) Route(*document.Document, *pipeline.Successors) []*pipeline.Stage {
	r.calls.Add(1)
	panic("router must not be called")
}

type failingCloner struct{}

func (failingCloner) Clone(*document.Document) (*document.Document, error) {
	return nil, errors.New("cannot serialize")
}

// panicReporter simulates a broken status sink.
type panicReporter struct{}

func (panicReporter) Report(context.Context, report.Event) {
	panic("status sink bug")
}
