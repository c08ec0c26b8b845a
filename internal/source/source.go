package source

import (
	"context"

	"ingest/internal/document"
)

// Submitter accepts documents for a named stage. *pipeline.Plan implements it.
type Submitter interface {
	Submit(ctx context.Context, stage string, doc *document.Document) error
}

// Source produces documents until ctx is done or its input runs out.
type Source interface {
	Name() string
	Run(ctx context.Context) error
}
