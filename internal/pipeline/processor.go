package pipeline

import (
	"context"
	"log/slog"

	"ingest/internal/document"
	"ingest/internal/logging"
)

// DocumentProcessor transforms one document into zero or more documents.
//
// A returned error turns the input document into an ERROR report; the worker
// keeps running. Close releases resources held by the processor and is called
// every time the owning stage is deactivated. Close may run concurrently with
// a ProcessDocument call abandoned by a forced interrupt.
type DocumentProcessor interface {
	Name() string
	ProcessDocument(ctx context.Context, doc *document.Document) ([]*document.Document, error)
	HasExternalSideEffects() bool
	Close() error
}

// WarningProcessor is installed on stages built without a processor. It logs
// the omission and passes documents through unchanged.
type WarningProcessor struct {
	logger *slog.Logger
}

// NewWarningProcessor returns the default pass-through processor.
func NewWarningProcessor(logger *slog.Logger) *WarningProcessor {
	return &WarningProcessor{logger: logging.NewComponentLogger(logger, "processor")}
}

func (p *WarningProcessor) Name() string { return "warning" }

func (p *WarningProcessor) ProcessDocument(ctx context.Context, doc *document.Document) ([]*document.Document, error) {
	logging.WarnWithContext(logging.WithContext(ctx, p.logger), "stage has no processor configured; passing document through", "processor_missing",
		logging.String(logging.FieldErrorHint, "configure a processor for the stage"),
		logging.String(logging.FieldImpact, "document forwarded unchanged"),
	)
	return []*document.Document{doc}, nil
}

func (p *WarningProcessor) HasExternalSideEffects() bool { return false }

func (p *WarningProcessor) Close() error { return nil }
