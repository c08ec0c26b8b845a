package pipeline

import (
	"sync/atomic"

	"ingest/internal/document"
)

// DefaultRouteField is the document field ByField reads when none is configured.
const DefaultRouteField = "next_stage"

// Router picks the successors a document advances to. It is only consulted
// when a stage has two or more successors. An empty result means no
// successor qualifies and the document is dropped.
type Router interface {
	Route(doc *document.Document, successors *Successors) []*Stage
}

// Successors is the ordered, name-indexed set of a stage's next stages.
type Successors struct {
	stages []*Stage
	byName map[string]*Stage
}

// NewSuccessors builds a successor set in the given order. Duplicate and nil
// stages are skipped.
func NewSuccessors(stages ...*Stage) *Successors {
	s := &Successors{byName: make(map[string]*Stage, len(stages))}
	for _, st := range stages {
		if st == nil {
			continue
		}
		if _, dup := s.byName[st.name]; dup {
			continue
		}
		s.byName[st.name] = st
		s.stages = append(s.stages, st)
	}
	return s
}

// Len returns the number of successors.
func (s *Successors) Len() int {
	if s == nil {
		return 0
	}
	return len(s.stages)
}

// At returns the i-th successor in declaration order.
func (s *Successors) At(i int) *Stage { return s.stages[i] }

// Lookup finds a successor by stage name.
func (s *Successors) Lookup(name string) (*Stage, bool) {
	if s == nil {
		return nil, false
	}
	st, ok := s.byName[name]
	return st, ok
}

// All returns the successors in declaration order.
func (s *Successors) All() []*Stage {
	if s == nil {
		return nil
	}
	return append([]*Stage(nil), s.stages...)
}

// Names returns successor names in declaration order.
func (s *Successors) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, len(s.stages))
	for i, st := range s.stages {
		names[i] = st.name
	}
	return names
}

// ByField routes to the successors whose names appear as values of Field.
type ByField struct {
	Field string
}

// Route implements Router.
func (r ByField) Route(doc *document.Document, successors *Successors) []*Stage {
	field := r.Field
	if field == "" {
		field = DefaultRouteField
	}
	var out []*Stage
	seen := make(map[*Stage]struct{})
	for _, name := range doc.Get(field) {
		st, ok := successors.Lookup(name)
		if !ok {
			continue
		}
		if _, dup := seen[st]; dup {
			continue
		}
		seen[st] = struct{}{}
		out = append(out, st)
	}
	return out
}

// All routes every document to every successor.
type All struct{}

// Route implements Router.
func (All) Route(_ *document.Document, successors *Successors) []*Stage {
	return successors.All()
}

// RoundRobin sends each document to the next successor in rotation.
type RoundRobin struct {
	next atomic.Uint64
}

// Route implements Router.
func (r *RoundRobin) Route(_ *document.Document, successors *Successors) []*Stage {
	n := successors.Len()
	if n == 0 {
		return nil
	}
	idx := (r.next.Add(1) - 1) % uint64(n)
	return []*Stage{successors.At(int(idx))}
}
