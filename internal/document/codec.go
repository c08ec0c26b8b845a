package document

import (
	"encoding/json"

	"github.com/google/uuid"
)

type wireDocument struct {
	ID      string              `json:"id"`
	Status  Status              `json:"status,omitempty"`
	Source  string              `json:"source,omitempty"`
	Fields  map[string][]string `json:"fields,omitempty"`
	Payload []byte              `json:"payload,omitempty"`
}

// MarshalJSON encodes the document; the payload is base64 encoded.
func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireDocument{
		ID:      d.id,
		Status:  d.status,
		Source:  d.source,
		Fields:  d.fields,
		Payload: d.payload,
	})
}

// UnmarshalJSON decodes a document. A missing status means processing and a
// missing id is assigned, matching New.
func (d *Document) UnmarshalJSON(data []byte) error {
	var wire wireDocument
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.ID == "" {
		wire.ID = uuid.NewString()
	}
	if wire.Status == "" {
		wire.Status = StatusProcessing
	}
	if wire.Fields == nil {
		wire.Fields = make(map[string][]string)
	}
	*d = Document{
		id:      wire.ID,
		status:  wire.Status,
		source:  wire.Source,
		fields:  wire.Fields,
		payload: wire.Payload,
	}
	return nil
}
