package document

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Status represents where a document is in its lifecycle.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusDropped    Status = "dropped"
	StatusError      Status = "error"
	StatusIndexed    Status = "indexed"
	StatusRejected   Status = "rejected"
)

var knownStatuses = []Status{
	StatusProcessing,
	StatusDropped,
	StatusError,
	StatusIndexed,
	StatusRejected,
}

// KnownStatuses returns the statuses recognised by the engine in display order.
func KnownStatuses() []Status {
	out := make([]Status, len(knownStatuses))
	copy(out, knownStatuses)
	return out
}

// ParseStatus normalizes a textual status. Unknown non-empty values are
// accepted as deployment-specific terminal statuses.
func ParseStatus(value string) (Status, bool) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return "", false
	}
	return Status(trimmed), true
}

// Terminal reports whether the status ends a lineage branch.
func (s Status) Terminal() bool {
	return s != StatusProcessing
}

// Label renders the status for human-facing output, e.g. "Processing".
func (s Status) Label() string {
	if s == "" {
		return ""
	}
	return cases.Title(language.Und).String(strings.ReplaceAll(string(s), "_", " "))
}

func (s Status) String() string {
	return string(s)
}
