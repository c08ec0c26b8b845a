package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"ingest/internal/document"
	"ingest/internal/logging"
	"ingest/internal/report"
	"ingest/internal/services"
)

// run is the worker loop. Per-document faults are contained in processOne;
// anything that escapes to here is fatal.
func (s *Stage) run(w *worker) {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			s.fatal(r)
		}
	}()

	for {
		if w.stopped() {
			return
		}
		if !s.active.Load() {
			if !s.pause(w, s.timings.InactivePoll) {
				return
			}
			continue
		}

		s.inflight.Add(1)
		batch := s.drain()
		if len(batch) > 0 {
			s.logger.Debug("drained batch", logging.Int("documents", len(batch)))
			s.processBatch(w.ctx, batch)
			s.inflight.Add(-1)
			continue
		}
		s.inflight.Add(-1)

		if !s.pause(w, s.timings.IdlePoll) {
			return
		}
	}
}

func (w *worker) stopped() bool {
	if w.ctx.Err() != nil {
		return true
	}
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

// pause sleeps for d or until an enqueue/activation wakes the worker. It
// returns false when the worker must exit.
func (s *Stage) pause(w *worker, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-s.wake:
	case <-w.stop:
		return false
	case <-w.ctx.Done():
		return false
	}
	return true
}

// drain takes every document queued at the moment of the call.
func (s *Stage) drain() []*document.Document {
	n := len(s.queue)
	if n == 0 {
		return nil
	}
	batch := make([]*document.Document, 0, n)
	for range n {
		select {
		case doc := <-s.queue:
			batch = append(batch, doc)
		default:
			return batch
		}
	}
	return batch
}

func (s *Stage) processBatch(ctx context.Context, batch []*document.Document) {
	for i, doc := range batch {
		if ctx.Err() != nil {
			detached := context.WithoutCancel(ctx)
			for _, rest := range batch[i:] {
				s.reportStatus(detached, rest, document.StatusError,
					fmt.Sprintf("interrupted: %s was deactivated before processing the document", s.name))
			}
			return
		}
		s.processOne(ctx, doc)
	}
}

// processOne runs the processor on doc and routes the results. Errors and
// panics become an ERROR report for doc alone.
func (s *Stage) processOne(ctx context.Context, doc *document.Document) {
	if doc == nil {
		return
	}
	ctx = services.WithStage(ctx, s.name)
	ctx = services.WithSource(ctx, doc.Source())
	ctx = services.WithDocumentID(ctx, doc.ID())

	defer func() {
		if r := recover(); r != nil {
			logging.WithContext(ctx, s.logger).Error("document processing panicked",
				logging.String(logging.FieldEventType, "document_panic"),
				logging.String("panic", fmt.Sprint(r)),
				logging.String("stack", string(debug.Stack())),
			)
			s.reportStatus(context.WithoutCancel(ctx), doc, document.StatusError,
				fmt.Sprintf("%s panicked in %s: %v", s.processor.Name(), s.name, r))
		}
	}()

	results, err := s.processor.ProcessDocument(ctx, doc)
	if err != nil {
		s.reportStatus(context.WithoutCancel(ctx), doc, document.StatusError,
			fmt.Sprintf("%s failed in %s: %v", s.processor.Name(), s.name, err))
		return
	}
	for _, out := range results {
		if out != nil {
			s.forward(ctx, out)
		}
	}
}

// forward sends a PROCESSING document to the stages chosen for it.
// Any other status ends the document's flow here with a terminal report.
func (s *Stage) forward(ctx context.Context, doc *document.Document) {
	if status := doc.Status(); status != document.StatusProcessing {
		s.reportStatus(ctx, doc, status,
			fmt.Sprintf("document processing for %s terminated (%s) after %s", doc.ID(), status, s.name))
		return
	}
	s.reporter.Report(ctx, report.NewEvent(s.name, doc, document.StatusProcessing,
		fmt.Sprintf("%s finished processing %s", s.name, doc.ID())))

	targets := s.nextStages(doc)
	switch len(targets) {
	case 0:
		s.reportStatus(ctx, doc, document.StatusDropped,
			fmt.Sprintf("no qualifying next stage found in %s", s.name))
	case 1:
		s.handoff(ctx, doc, targets[0])
	default:
		s.distribute(ctx, doc, targets)
	}
}

// nextStages consults the router only when there is a real choice to make.
func (s *Stage) nextStages(doc *document.Document) []*Stage {
	switch s.successors.Len() {
	case 0:
		return nil
	case 1:
		return []*Stage{s.successors.At(0)}
	}
	picked := s.router.Route(doc, s.successors)
	out := make([]*Stage, 0, len(picked))
	seen := make(map[*Stage]struct{}, len(picked))
	for _, st := range picked {
		if st == nil {
			continue
		}
		if member, ok := s.successors.Lookup(st.name); !ok || member != st {
			continue
		}
		if _, dup := seen[st]; dup {
			continue
		}
		seen[st] = struct{}{}
		out = append(out, st)
	}
	return out
}

// distribute clones doc for every target but the first before handing any
// copy off, so no successor can observe another's mutations.
func (s *Stage) distribute(ctx context.Context, doc *document.Document, targets []*Stage) {
	s.logger.Debug("distributing document",
		logging.String(logging.FieldDocumentID, doc.ID()),
		logging.Int("targets", len(targets)),
	)
	copies := make([]*document.Document, len(targets))
	copies[0] = doc
	for i := 1; i < len(targets); i++ {
		clone, err := s.cloner.Clone(doc)
		if err != nil || clone == nil {
			s.reporter.Report(ctx, report.NewEvent(s.name, doc, document.StatusError,
				fmt.Sprintf("failed to clone document for %s: %v", targets[i].name, err)))
			continue
		}
		copies[i] = clone
	}
	for i, target := range targets {
		if copies[i] != nil {
			s.handoff(ctx, copies[i], target)
		}
	}
}

func (s *Stage) handoff(ctx context.Context, doc *document.Document, target *Stage) {
	if err := target.Put(ctx, doc); err != nil {
		s.reportStatus(context.WithoutCancel(ctx), doc, document.StatusError,
			fmt.Sprintf("handoff from %s to %s interrupted: %v", s.name, target.name, err))
	}
}

func (s *Stage) reportStatus(ctx context.Context, doc *document.Document, status document.Status, message string) {
	if err := doc.SetStatus(status); err != nil {
		s.logger.Debug("status not applied", logging.Error(err))
	}
	s.reporter.Report(ctx, report.NewEvent(s.name, doc, status, message))
}
