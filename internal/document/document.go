package document

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// ErrResurrect is returned when a terminal document is pushed back to processing.
var ErrResurrect = errors.New("terminal document cannot return to processing")

// Document is the unit of work handled by pipeline stages.
type Document struct {
	id      string
	status  Status
	source  string
	fields  map[string][]string
	payload []byte
}

// New creates a processing document. An empty id is replaced by a random UUID.
func New(id, source string, payload []byte) *Document {
	if id == "" {
		id = uuid.NewString()
	}
	return &Document{
		id:      id,
		status:  StatusProcessing,
		source:  source,
		fields:  make(map[string][]string),
		payload: payload,
	}
}

// ID returns the stable identifier assigned at ingestion.
func (d *Document) ID() string { return d.id }

// Source returns the provenance tag of the originating source.
func (d *Document) Source() string { return d.source }

// Status returns the current lifecycle status.
func (d *Document) Status() Status { return d.status }

// SetStatus moves the document to status. Terminal documents never go back to
// processing; a terminal document may still be re-labelled with another
// terminal status (e.g. an ERROR raised while reporting a DROPPED document).
func (d *Document) SetStatus(status Status) error {
	if status == "" {
		return fmt.Errorf("document %s: empty status", d.id)
	}
	if status == StatusProcessing && d.status.Terminal() {
		return fmt.Errorf("document %s (%s): %w", d.id, d.status, ErrResurrect)
	}
	d.status = status
	return nil
}

// Payload returns the raw payload bytes. Callers must not retain the slice
// across stage boundaries; use SetPayload to replace it.
func (d *Document) Payload() []byte { return d.payload }

// SetPayload replaces the payload wholesale.
func (d *Document) SetPayload(payload []byte) { d.payload = payload }

// Get returns every value stored under name.
func (d *Document) Get(name string) []string {
	values := d.fields[name]
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

// First returns the first value stored under name.
func (d *Document) First(name string) (string, bool) {
	values := d.fields[name]
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// Has reports whether name carries at least one value.
func (d *Document) Has(name string) bool {
	return len(d.fields[name]) > 0
}

// Put appends values to name.
func (d *Document) Put(name string, values ...string) {
	if name == "" || len(values) == 0 {
		return
	}
	d.fields[name] = append(d.fields[name], values...)
}

// Set replaces every value under name.
func (d *Document) Set(name string, values ...string) {
	if name == "" {
		return
	}
	if len(values) == 0 {
		delete(d.fields, name)
		return
	}
	cp := make([]string, len(values))
	copy(cp, values)
	d.fields[name] = cp
}

// Remove deletes name and its values.
func (d *Document) Remove(name string) {
	delete(d.fields, name)
}

// FieldNames returns the populated field names in sorted order.
func (d *Document) FieldNames() []string {
	names := make([]string, 0, len(d.fields))
	for name, values := range d.fields {
		if len(values) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Fields returns a copy of the field map.
func (d *Document) Fields() map[string][]string {
	out := make(map[string][]string, len(d.fields))
	for name, values := range d.fields {
		cp := make([]string, len(values))
		copy(cp, values)
		out[name] = cp
	}
	return out
}

// Clone returns an independent deep copy. No field slice or payload byte is
// shared with the receiver.
func (d *Document) Clone() *Document {
	clone := &Document{
		id:     d.id,
		status: d.status,
		source: d.source,
		fields: d.Fields(),
	}
	if d.payload != nil {
		clone.payload = make([]byte, len(d.payload))
		copy(clone.payload, d.payload)
	}
	return clone
}

func (d *Document) String() string {
	return d.id
}
