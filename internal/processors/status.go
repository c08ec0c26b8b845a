package processors

import (
	"context"
	"fmt"

	"ingest/internal/document"
)

// ReasonField holds the reason a processor gave for ending a document's flow.
const ReasonField = "status_reason"

// MarkStatus ends a document's flow with a fixed terminal status.
type MarkStatus struct {
	named
	status document.Status
	reason string
}

// NewMarkStatus returns a processor that assigns status, which must be terminal.
func NewMarkStatus(name string, status document.Status, reason string) (*MarkStatus, error) {
	if status == "" || !status.Terminal() {
		return nil, fmt.Errorf("mark_status: %q is not a terminal status", status)
	}
	return &MarkStatus{named: named{name: name}, status: status, reason: reason}, nil
}

// NewDrop returns a processor that drops every document.
func NewDrop(name, reason string) *MarkStatus {
	return &MarkStatus{named: named{name: name}, status: document.StatusDropped, reason: reason}
}

func (p *MarkStatus) ProcessDocument(_ context.Context, doc *document.Document) ([]*document.Document, error) {
	if p.reason != "" {
		doc.Set(ReasonField, p.reason)
	}
	if err := doc.SetStatus(p.status); err != nil {
		return nil, err
	}
	return pass(doc)
}
