package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"ingest/internal/document"
	"ingest/internal/logging"
	"ingest/internal/services"
)

// Plan is a validated, immutable DAG of stages.
type Plan struct {
	name    string
	stages  []*Stage // topological order
	byName  map[string]*Stage
	entries []*Stage
	levels  [][]*Stage
	logger  *slog.Logger
}

// Name returns the plan name.
func (p *Plan) Name() string { return p.name }

// Stages returns every stage in topological order.
func (p *Plan) Stages() []*Stage { return slices.Clone(p.stages) }

// Entries returns the stages without predecessors.
func (p *Plan) Entries() []*Stage { return slices.Clone(p.entries) }

// Stage finds a stage by name.
func (p *Plan) Stage(name string) (*Stage, bool) {
	st, ok := p.byName[name]
	return st, ok
}

// Submit enqueues doc on the named stage, blocking while its queue is full.
func (p *Plan) Submit(ctx context.Context, stage string, doc *document.Document) error {
	st, ok := p.byName[stage]
	if !ok {
		return services.Wrap(services.ErrNotFound, stage, "submit", "no such stage in plan "+p.name, nil)
	}
	return st.Put(ctx, doc)
}

// Activate starts every stage, sinks first, so no stage hands documents to
// a successor that is not yet running.
func (p *Plan) Activate(ctx context.Context) error {
	for i := len(p.levels) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return services.Wrap(services.ErrInterrupted, "", "activate plan", p.name, err)
		}
		var g errgroup.Group // WaitGroup
		for _, st := range p.levels[i] {
			g.Go(func() error {
				st.Activate()
				return nil
			})
		}
		_ = g.Wait()
	}
	p.logger.Info("plan activated",
		logging.String(logging.FieldEventType, "plan_activated"),
		logging.Int("stages", len(p.stages)),
	)
	return nil
}

// Deactivate stops every stage, entries first, so upstream stages stop
// producing before their successors stop consuming. Every stage of a level
// is deactivated even when some fail; their errors are joined. A cancelled
// ctx stops the walk before the next level and the stages left running are
// named in an ErrInterrupted error.
func (p *Plan) Deactivate(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	for i, level := range p.levels {
		if err := ctx.Err(); err != nil {
			var running []string
			for _, rest := range p.levels[i:] {
				for _, st := range rest {
					running = append(running, st.name)
				}
			}
			errs = append(errs, services.Wrap(services.ErrInterrupted, "", "deactivate plan",
				p.name+": stages still active: "+strings.Join(running, ", "), err))
			break
		}
		var g errgroup.Group // WaitGroup
		for _, st := range level {
			g.Go(func() error {
				if err := st.Deactivate(); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
	}
	p.logger.Info("plan deactivated",
		logging.String(logging.FieldEventType, "plan_deactivated"),
		logging.Int("errors", len(errs)),
	)
	return errors.Join(errs...)
}

// Idle reports whether no stage has queued or in-flight documents. Stages are
// checked upstream first, so a true result is stable while nothing new is
// submitted.
func (p *Plan) Idle() bool {
	for _, st := range p.stages {
		if st.Busy() {
			return false
		}
	}
	return true
}

type link struct {
	from, to string
}

// PlanBuilder validates stages and links and freezes them into a Plan.
type PlanBuilder struct {
	name   string
	stages []*Stage
	byName map[string]*Stage
	links  []link
	errs   []error
	logger *slog.Logger
	built  bool
}

// NewPlanBuilder starts a plan with the given name.
func NewPlanBuilder(name string) *PlanBuilder {
	return &PlanBuilder{name: strings.TrimSpace(name), byName: make(map[string]*Stage)}
}

func (b *PlanBuilder) WithLogger(logger *slog.Logger) *PlanBuilder {
	b.logger = logger
	return b
}

// AddStage builds sb immediately, leaving sb free to declare the next stage.
// Build errors are reported by Build.
func (b *PlanBuilder) AddStage(sb *StageBuilder) *PlanBuilder {
	st, err := sb.Build()
	if err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	if _, dup := b.byName[st.name]; dup {
		b.errs = append(b.errs, services.Wrap(services.ErrValidation, st.name, "add stage", "duplicate stage name", nil))
		return b
	}
	b.byName[st.name] = st
	b.stages = append(b.stages, st)
	return b
}

// Link declares to as successors of from, in order.
func (b *PlanBuilder) Link(from string, to ...string) *PlanBuilder {
	for _, t := range to {
		b.links = append(b.links, link{from: strings.TrimSpace(from), to: strings.TrimSpace(t)})
	}
	return b
}

// Build validates the graph, wires successors, computes entry stages and
// primes every stage's side-effect set.
func (b *PlanBuilder) Build() (*Plan, error) {
	if b.built {
		return nil, services.Wrap(services.ErrValidation, "", "build plan", "plan builder already used", nil)
	}
	b.built = true

	errs := slices.Clone(b.errs)
	if b.name == "" {
		errs = append(errs, services.Wrap(services.ErrValidation, "", "build plan", "plan name is required", nil))
	}
	if len(b.stages) == 0 && len(b.errs) == 0 {
		errs = append(errs, services.Wrap(services.ErrValidation, "", "build plan", "plan has no stages", nil))
	}

	successors := make(map[*Stage][]*Stage, len(b.stages))
	indegree := make(map[*Stage]int, len(b.stages))
	seenLink := make(map[link]struct{}, len(b.links))
	for _, l := range b.links {
		from, okFrom := b.byName[l.from]
		to, okTo := b.byName[l.to]
		switch {
		case !okFrom:
			errs = append(errs, services.Wrap(services.ErrValidation, l.from, "link", "unknown stage", nil))
			continue
		case !okTo:
			errs = append(errs, services.Wrap(services.ErrValidation, l.from, "link", fmt.Sprintf("unknown successor %q", l.to), nil))
			continue
		case from == to:
			errs = append(errs, services.Wrap(services.ErrValidation, l.from, "link", "stage cannot succeed itself", nil))
			continue
		}
		if _, dup := seenLink[l]; dup {
			continue
		}
		seenLink[l] = struct{}{}
		successors[from] = append(successors[from], to)
		indegree[to]++
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	order, levels, err := topoLevels(b.stages, successors, indegree)
	if err != nil {
		return nil, err
	}

	for _, st := range b.stages {
		st.successors = NewSuccessors(successors[st]...)
	}
	entries := make([]*Stage, 0)
	for _, st := range b.stages {
		if indegree[st] == 0 {
			entries = append(entries, st)
		}
	}
	// Successors are final; compute side-effect sets sinks first so each
	// stage's computation only reads cached successor results.
	for i := len(order) - 1; i >= 0; i-- {
		order[i].PossibleSideEffects()
	}

	logger := logging.NewComponentLogger(b.logger, "plan").With(logging.String("plan", b.name))
	logger.Info("plan built",
		logging.String(logging.FieldEventType, "plan_built"),
		logging.Int("stages", len(order)),
		logging.Int("entries", len(entries)),
	)
	return &Plan{
		name:    b.name,
		stages:  order,
		byName:  b.byName,
		entries: entries,
		levels:  levels,
		logger:  logger,
	}, nil
}

// topoLevels orders stages with Kahn's algorithm, keeping declaration order
// among peers, and groups them by longest distance from an entry stage.
func topoLevels(stages []*Stage, successors map[*Stage][]*Stage, indegree map[*Stage]int) ([]*Stage, [][]*Stage, error) {
	remaining := make(map[*Stage]int, len(stages))
	depth := make(map[*Stage]int, len(stages))
	var ready []*Stage
	for _, st := range stages {
		remaining[st] = indegree[st]
		if indegree[st] == 0 {
			ready = append(ready, st)
		}
	}

	order := make([]*Stage, 0, len(stages))
	for len(ready) > 0 {
		st := ready[0]
		ready = ready[1:]
		order = append(order, st)
		for _, next := range successors[st] {
			if d := depth[st] + 1; d > depth[next] {
				depth[next] = d
			}
			remaining[next]--
			if remaining[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(order) != len(stages) {
		var cyclic []string
		for _, st := range stages {
			if remaining[st] > 0 {
				cyclic = append(cyclic, st.name)
			}
		}
		return nil, nil, services.Wrap(services.ErrValidation, "", "build plan",
			"cycle detected among stages "+strings.Join(cyclic, ", "), nil)
	}

	var levels [][]*Stage
	for _, st := range order {
		d := depth[st]
		for len(levels) <= d {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], st)
	}
	return order, levels, nil
}
