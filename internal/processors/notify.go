package processors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ingest/internal/document"
	"ingest/internal/notifications"
	"ingest/internal/services"
)

// Notify sends one push notification per document.
type Notify struct {
	name     string
	svc      notifications.Service
	title    string
	field    string
	priority string
}

// NewNotify sends through svc. The body names the document and, when field
// is set, includes its first value.
func NewNotify(name string, svc notifications.Service, title, field, priority string) (*Notify, error) {
	if !notifications.Enabled(svc) {
		return nil, errors.New("notify: ntfy topic is required")
	}
	if strings.TrimSpace(title) == "" {
		title = "ingest - " + name
	}
	return &Notify{name: name, svc: svc, title: title, field: strings.TrimSpace(field), priority: priority}, nil
}

func (p *Notify) Name() string { return p.name }

func (p *Notify) HasExternalSideEffects() bool { return true }

func (p *Notify) Close() error { return nil }

func (p *Notify) ProcessDocument(ctx context.Context, doc *document.Document) ([]*document.Document, error) {
	body := fmt.Sprintf("Document %s reached %s", doc.ID(), p.name)
	if p.field != "" {
		if v, ok := doc.First(p.field); ok {
			body += "\n" + v
		}
	}
	msg := notifications.Message{
		Title:    p.title,
		Body:     body,
		Tags:     []string{"ingest", "document"},
		Priority: p.priority,
	}
	if err := p.svc.Send(ctx, msg); err != nil {
		return nil, services.Wrap(services.ErrTransient, p.name, "notify", "send notification", err)
	}
	return pass(doc)
}
