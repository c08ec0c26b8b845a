package document

import (
	"encoding/json"

	"ingest/internal/services"
)

// Cloner produces independent copies of documents for fan-out.
type Cloner interface {
	Clone(doc *Document) (*Document, error)
}

// DeepCloner copies documents field by field.
type DeepCloner struct{}

// Clone implements Cloner.
func (DeepCloner) Clone(doc *Document) (*Document, error) {
	if doc == nil {
		return nil, services.Wrap(services.ErrClone, "", "clone", "nil document", nil)
	}
	return doc.Clone(), nil
}

// JSONCloner copies documents through their wire encoding. It is slower than
// DeepCloner but proves the copy survives serialization, which matters for
// processors that later ship documents to Kafka or object storage.
type JSONCloner struct{}

// Clone implements Cloner.
func (JSONCloner) Clone(doc *Document) (*Document, error) {
	if doc == nil {
		return nil, services.Wrap(services.ErrClone, "", "clone", "nil document", nil)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, services.Wrap(services.ErrClone, "", "encode", doc.id, err)
	}
	var out Document
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, services.Wrap(services.ErrClone, "", "decode", doc.id, err)
	}
	return &out, nil
}
