package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ingest/internal/document"
	"ingest/internal/logging"
)

// Event is one status change of one document at one stage.
type Event struct {
	Stage      string
	DocumentID string
	Source     string
	Status     document.Status
	Message    string
	At         time.Time
}

// NewEvent stamps an event for doc at stage with the current time.
func NewEvent(stage string, doc *document.Document, status document.Status, message string) Event {
	evt := Event{Stage: stage, Status: status, Message: message, At: time.Now().UTC()}
	if doc != nil {
		evt.DocumentID = doc.ID()
		evt.Source = doc.Source()
	}
	return evt
}

// Reporter receives status changes. Implementations must not panic and must
// not block indefinitely.
type Reporter interface {
	Report(ctx context.Context, evt Event)
}

// Recorder persists events. History stores implement it.
type Recorder interface {
	Record(ctx context.Context, evt Event) error
}

// LogReporter writes events to a structured logger.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter returns a reporter that logs every event.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	return &LogReporter{logger: logging.NewComponentLogger(logger, "status")}
}

// Report logs evt. ERROR events are warnings, progress is debug.
func (r *LogReporter) Report(ctx context.Context, evt Event) {
	attrs := []logging.Attr{
		logging.String(logging.FieldStage, evt.Stage),
		logging.String(logging.FieldDocumentID, evt.DocumentID),
		logging.String(logging.FieldStatus, string(evt.Status)),
		logging.String(logging.FieldEventType, "document_status"),
	}
	if evt.Source != "" {
		attrs = append(attrs, logging.String(logging.FieldSource, evt.Source))
	}
	if evt.Message != "" {
		attrs = append(attrs, logging.String("reason", evt.Message))
	}
	switch evt.Status {
	case document.StatusProcessing:
		r.logger.Log(ctx, slog.LevelDebug, "document progressed", logging.Args(attrs...)...)
	case document.StatusError:
		logging.WarnWithContext(r.logger, "document failed", "document_status",
			append(attrs,
				logging.String(logging.FieldErrorHint, "inspect the reason and the processor configured for the stage"),
				logging.String(logging.FieldImpact, "document will not reach downstream stages"),
			)...,
		)
	default:
		r.logger.Info("document finished", logging.Args(attrs...)...)
	}
}

// DefaultRecordTimeout bounds a single Recorder call.
const DefaultRecordTimeout = 2 * time.Second

// StoreReporter records events through a Recorder and falls back to local
// logging when the recorder fails or does not answer in time.
type StoreReporter struct {
	store    Recorder
	fallback *LogReporter
	logger   *slog.Logger
	timeout  time.Duration
}

// StoreOption customises a StoreReporter.
type StoreOption func(*StoreReporter)

// WithRecordTimeout sets how long Report waits for the recorder. Values <= 0
// keep DefaultRecordTimeout.
func WithRecordTimeout(d time.Duration) StoreOption {
	return func(r *StoreReporter) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewStoreReporter wraps store. Every event is also logged locally.
func NewStoreReporter(store Recorder, logger *slog.Logger, opts ...StoreOption) *StoreReporter {
	r := &StoreReporter{
		store:    store,
		fallback: NewLogReporter(logger),
		logger:   logging.NewComponentLogger(logger, "status"),
		timeout:  DefaultRecordTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report records evt, degrading to the log when the store is unavailable.
func (r *StoreReporter) Report(ctx context.Context, evt Event) {
	r.fallback.Report(ctx, evt)
	if r.store == nil {
		return
	}
	if err := r.record(ctx, evt); err != nil {
		logging.WarnWithContext(r.logger, "status history unavailable; event kept in log only", "history_write_failed",
			logging.String(logging.FieldStage, evt.Stage),
			logging.String(logging.FieldDocumentID, evt.DocumentID),
			logging.String(logging.FieldStatus, string(evt.Status)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check history store connectivity"),
			logging.String(logging.FieldImpact, "status history is missing this event"),
		)
	}
}

// record runs the recorder under its own deadline, detached from the
// worker's cancellation so events of an interrupted batch are still written.
// A recorder that ignores its context keeps its goroutine until it returns,
// but the caller is released at the deadline.
func (r *StoreReporter) record(ctx context.Context, evt Event) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- panicError{value: rec}
			}
		}()
		done <- r.store.Record(ctx, evt)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("record status event after %s: %w", r.timeout, ctx.Err())
	}
}

// Multi fans one event out to several reporters in order.
type Multi []Reporter

// Report forwards evt to every non-nil reporter.
func (m Multi) Report(ctx context.Context, evt Event) {
	for _, r := range m {
		if r != nil {
			r.Report(ctx, evt)
		}
	}
}
