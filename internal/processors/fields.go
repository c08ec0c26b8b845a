package processors

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"

	"ingest/internal/document"
)

type named struct {
	name string
}

func (n named) Name() string { return n.name }

func (named) HasExternalSideEffects() bool { return false }

func (named) Close() error { return nil }

func pass(doc *document.Document) ([]*document.Document, error) {
	return []*document.Document{doc}, nil
}

// SetField writes fixed values to a field.
type SetField struct {
	named
	field  string
	values []string
	append bool
}

// NewSetField replaces field with values, or appends to it when appendValues is set.
func NewSetField(name, field string, values []string, appendValues bool) (*SetField, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return nil, errors.New("set_field: field is required")
	}
	return &SetField{named: named{name: name}, field: field, values: append([]string(nil), values...), append: appendValues}, nil
}

func (p *SetField) ProcessDocument(_ context.Context, doc *document.Document) ([]*document.Document, error) {
	if p.append {
		doc.Put(p.field, p.values...)
	} else {
		doc.Set(p.field, p.values...)
	}
	return pass(doc)
}

// CopyField copies the values of one field to another.
type CopyField struct {
	named
	from string
	to   string
	move bool
}

// NewCopyField copies from into to. With move the source field is removed.
func NewCopyField(name, from, to string, move bool) (*CopyField, error) {
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" || to == "" {
		return nil, errors.New("copy_field: from and to are required")
	}
	if from == to {
		return nil, errors.New("copy_field: from and to must differ")
	}
	return &CopyField{named: named{name: name}, from: from, to: to, move: move}, nil
}

func (p *CopyField) ProcessDocument(_ context.Context, doc *document.Document) ([]*document.Document, error) {
	values := doc.Get(p.from)
	if len(values) == 0 {
		return pass(doc)
	}
	doc.Put(p.to, values...)
	if p.move {
		doc.Remove(p.from)
	}
	return pass(doc)
}

// OriginalLengthField records the payload length before truncation.
const OriginalLengthField = "original_length"

// Truncate cuts the payload to a number of runes.
type Truncate struct {
	named
	length int
	suffix string
}

// NewTruncate keeps at most length runes of the payload. Fields it writes get
// suffix appended to their names.
func NewTruncate(name string, length int, suffix string) (*Truncate, error) {
	if length <= 0 {
		return nil, errors.New("truncate: length must be positive")
	}
	return &Truncate{named: named{name: name}, length: length, suffix: suffix}, nil
}

func (p *Truncate) ProcessDocument(_ context.Context, doc *document.Document) ([]*document.Document, error) {
	payload := doc.Payload()
	if utf8.RuneCount(payload) <= p.length {
		return pass(doc)
	}
	cut, n := 0, 0
	for cut < len(payload) && n < p.length {
		_, size := utf8.DecodeRune(payload[cut:])
		cut += size
		n++
	}
	truncated := make([]byte, cut)
	copy(truncated, payload[:cut])
	doc.Set(OriginalLengthField+p.suffix, strconv.Itoa(len(payload)))
	doc.SetPayload(truncated)
	return pass(doc)
}
