package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ingest/internal/config"
	"ingest/internal/document"
	"ingest/internal/report"
	"ingest/internal/services"
)

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// DefaultListLimit bounds List when the filter sets no limit.
const DefaultListLimit = 100

// Entry is one stored status event.
type Entry struct {
	ID         int64           `json:"id"`
	Stage      string          `json:"stage"`
	DocumentID string          `json:"document_id"`
	Source     string          `json:"source,omitempty"`
	Status     document.Status `json:"status"`
	Message    string          `json:"message,omitempty"`
	At         time.Time       `json:"at"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	DocumentID string
	Stage      string
	Statuses   []document.Status
	Since      time.Time
	Limit      int
}

// StatusCount is the number of events recorded with one status.
type StatusCount struct {
	Status document.Status `json:"status"`
	Count  int64           `json:"count"`
}

// Store is the status history backend.
type Store interface {
	report.Recorder
	// List returns matching entries, newest first.
	List(ctx context.Context, filter Filter) ([]Entry, error)
	// Stats counts the latest status of every document.
	Stats(ctx context.Context) ([]StatusCount, error)
	// Prune deletes entries recorded before cutoff and returns how many were removed.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// Open connects to the store selected by cfg.History.Driver.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "history", "open", "config is nil", nil)
	}
	switch cfg.History.Driver {
	case config.HistorySQLite:
		return OpenSQLite(ctx, cfg.History.SQLitePath)
	case config.HistoryPostgres:
		return OpenPostgres(ctx, cfg.History.PostgresDSN)
	case config.HistoryNone:
		return nil, services.Wrap(services.ErrConfiguration, "history", "open", "status history is disabled (history.driver = none)", nil)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "history", "open", fmt.Sprintf("unknown driver %q", cfg.History.Driver), nil)
	}
}

// Enabled reports whether cfg asks for a status history.
func Enabled(cfg *config.Config) bool {
	return cfg != nil && cfg.History.Driver != config.HistoryNone
}

func entryFromEvent(evt report.Event) Entry {
	at := evt.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return Entry{
		Stage:      strings.TrimSpace(evt.Stage),
		DocumentID: strings.TrimSpace(evt.DocumentID),
		Source:     evt.Source,
		Status:     evt.Status,
		Message:    evt.Message,
		At:         at.UTC(),
	}
}

func validateEntry(e Entry) error {
	if e.DocumentID == "" {
		return services.Wrap(services.ErrValidation, e.Stage, "record", "document id is required", nil)
	}
	if e.Status == "" {
		return services.Wrap(services.ErrValidation, e.Stage, "record", "status is required", nil)
	}
	return nil
}

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

// queryBuilder assembles WHERE clauses for drivers with different
// placeholder syntax.
type queryBuilder struct {
	placeholder func(n int) string
	clauses     []string
	args        []any
}

func (q *queryBuilder) add(clause string, values ...any) {
	marks := make([]any, len(values))
	for i, v := range values {
		q.args = append(q.args, v)
		marks[i] = q.placeholder(len(q.args))
	}
	q.clauses = append(q.clauses, fmt.Sprintf(clause, marks...))
}

func (q *queryBuilder) where() string {
	if len(q.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.clauses, " AND ")
}

func buildListQuery(f Filter, placeholder func(int) string, formatTime func(time.Time) any) (string, []any) {
	q := &queryBuilder{placeholder: placeholder}
	if id := strings.TrimSpace(f.DocumentID); id != "" {
		q.add("document_id = %s", id)
	}
	if stage := strings.TrimSpace(f.Stage); stage != "" {
		q.add("stage = %s", stage)
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		values := make([]any, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "%s"
			values[i] = string(st)
		}
		q.add("status IN ("+strings.Join(marks, ", ")+")", values...)
	}
	if !f.Since.IsZero() {
		q.add("recorded_at >= %s", formatTime(f.Since.UTC()))
	}
	query := "SELECT id, stage, document_id, source, status, message, recorded_at FROM status_events" +
		q.where() + " ORDER BY recorded_at DESC, id DESC LIMIT " + fmt.Sprint(f.limit())
	return query, q.args
}

// latestStatusQuery counts documents by the status of their most recent event.
const latestStatusQuery = `
SELECT status, COUNT(1) FROM (
    SELECT e.document_id, e.status
    FROM status_events e
    JOIN (
        SELECT document_id, MAX(id) AS max_id FROM status_events GROUP BY document_id
    ) latest ON latest.max_id = e.id
) per_document
GROUP BY status
ORDER BY status`
