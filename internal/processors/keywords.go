package processors

import (
	"context"
	"strings"

	"ingest/internal/document"
	"ingest/internal/textutil"
)

// KeywordsField is the default field Keywords writes to.
const KeywordsField = "keywords"

const (
	defaultKeywordCount  = 10
	defaultKeywordMinLen = 3
)

// Keywords extracts the most frequent terms of the payload into a field.
type Keywords struct {
	named
	field string
	count int
	stop  map[string]struct{}
}

// NewKeywords writes up to count terms (default 10) to field (default
// "keywords"), ignoring the words in stop.
func NewKeywords(name, field string, count int, stop []string) *Keywords {
	if strings.TrimSpace(field) == "" {
		field = KeywordsField
	}
	if count <= 0 {
		count = defaultKeywordCount
	}
	return &Keywords{named: named{name: name}, field: field, count: count, stop: textutil.StopWords(stop...)}
}

func (p *Keywords) ProcessDocument(_ context.Context, doc *document.Document) ([]*document.Document, error) {
	terms := textutil.TopTerms(string(doc.Payload()), p.count, defaultKeywordMinLen, p.stop)
	if len(terms) == 0 {
		doc.Remove(p.field)
		return pass(doc)
	}
	doc.Set(p.field, terms...)
	return pass(doc)
}
