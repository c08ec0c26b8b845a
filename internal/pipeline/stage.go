package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"ingest/internal/document"
	"ingest/internal/logging"
	"ingest/internal/report"
	"ingest/internal/services"
)

// DefaultBatchSize is the queue capacity of stages that do not configure one.
const DefaultBatchSize = 50

// Timings controls worker polling and deactivation.
type Timings struct {
	// InactivePoll is how long a worker sleeps between checks of an inactive stage.
	InactivePoll time.Duration
	// IdlePoll is how long an active worker sleeps on an empty queue unless
	// an enqueue wakes it first.
	IdlePoll time.Duration
	// ShutdownGrace bounds how long Deactivate waits before interrupting the worker.
	ShutdownGrace time.Duration
}

// DefaultTimings returns 50ms inactive polling, 5ms idle polling and a one
// second shutdown grace period.
func DefaultTimings() Timings {
	return Timings{
		InactivePoll:  50 * time.Millisecond,
		IdlePoll:      5 * time.Millisecond,
		ShutdownGrace: time.Second,
	}
}

func (t Timings) withDefaults() Timings {
	def := DefaultTimings()
	if t.InactivePoll <= 0 {
		t.InactivePoll = def.InactivePoll
	}
	if t.IdlePoll <= 0 {
		t.IdlePoll = def.IdlePoll
	}
	if t.ShutdownGrace <= 0 {
		t.ShutdownGrace = def.ShutdownGrace
	}
	return t
}

// Stage is one node of a Plan. It is created by StageBuilder and wired to
// its successors by PlanBuilder; after that its structure never changes.
type Stage struct {
	name      string
	batchSize int
	queue     chan *document.Document
	wake      chan struct{}

	processor DocumentProcessor
	router    Router
	cloner    document.Cloner
	reporter  report.Reporter
	logger    *slog.Logger
	timings   Timings
	exit      func(int)

	successors *Successors

	active   atomic.Bool
	inflight atomic.Int32
	mu       sync.Mutex
	worker   *worker

	sideEffectsOnce sync.Once
	sideEffects     []*Stage
}

type worker struct {
	ctx      context.Context
	cancel   context.CancelFunc
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newWorker() *worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &worker{ctx: ctx, cancel: cancel, stop: make(chan struct{}), done: make(chan struct{})}
}

// alive reports whether the worker can still drain the queue. An interrupted
// worker may still be unwinding a processor call but never drains again.
func (w *worker) alive() bool {
	if w == nil || w.ctx.Err() != nil {
		return false
	}
	select {
	case <-w.done:
		return false
	case <-w.stop:
		return false
	default:
		return true
	}
}

func (w *worker) requestStop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Name returns the stage name.
func (s *Stage) Name() string { return s.name }

// BatchSize returns the queue capacity.
func (s *Stage) BatchSize() int { return s.batchSize }

// ProcessorName returns the name of the configured processor.
func (s *Stage) ProcessorName() string { return s.processor.Name() }

// HasExternalSideEffects reports whether this stage's own processor has
// externally visible effects.
func (s *Stage) HasExternalSideEffects() bool { return s.processor.HasExternalSideEffects() }

// SuccessorNames returns the names of the next stages in declaration order.
func (s *Stage) SuccessorNames() []string { return s.successors.Names() }

// QueueLen returns the number of documents waiting in the queue.
func (s *Stage) QueueLen() int { return len(s.queue) }

// IsActive reports the activity flag.
func (s *Stage) IsActive() bool { return s.active.Load() }

// Busy reports whether documents are queued or a drained batch is still
// being processed.
func (s *Stage) Busy() bool { return len(s.queue) > 0 || s.inflight.Load() > 0 }

// Put enqueues doc, blocking while the queue is full. It returns only when the
// document is accepted or ctx is done.
func (s *Stage) Put(ctx context.Context, doc *document.Document) error {
	if doc == nil {
		return services.Wrap(services.ErrValidation, s.name, "put", "nil document", nil)
	}
	select {
	case s.queue <- doc:
		s.signal()
		return nil
	default:
	}
	select {
	case s.queue <- doc:
		s.signal()
		return nil
	case <-ctx.Done():
		return services.Wrap(services.ErrInterrupted, s.name, "put", doc.ID(), ctx.Err())
	}
}

// Offer enqueues doc without blocking and reports whether it was accepted.
func (s *Stage) Offer(doc *document.Document) bool {
	if doc == nil {
		return false
	}
	select {
	case s.queue <- doc:
		s.signal()
		return true
	default:
		return false
	}
}

func (s *Stage) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Activate starts a worker unless a live one exists and marks the stage active.
// It is safe to call repeatedly.
func (s *Stage) Activate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.worker.alive() {
		s.logger.Info("starting stage worker",
			logging.String(logging.FieldEventType, "stage_worker_started"),
			logging.String("processor", s.processor.Name()),
			logging.Int("batch_size", s.batchSize),
		)
		w := newWorker()
		s.worker = w
		go s.run(w)
	}
	s.active.Store(true)
	s.signal()
}

// Deactivate clears the activity flag and asks the worker to exit. A worker
// still running after the grace period is interrupted: its context is
// cancelled and it never drains the queue again. The processor is closed on
// every path; its error is returned.
func (s *Stage) Deactivate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active.Store(false)
	if w := s.worker; w != nil && w.ctx.Err() == nil {
		w.requestStop()
		timer := time.NewTimer(s.timings.ShutdownGrace)
		select {
		case <-w.done:
		case <-timer.C:
			logging.WarnWithContext(s.logger, "stage was slow shutting down; interrupting worker", "stage_worker_interrupted",
				logging.Duration("grace", s.timings.ShutdownGrace),
				logging.String(logging.FieldErrorHint, "check the stage processor for calls that ignore context cancellation"),
				logging.String(logging.FieldImpact, "documents of the current batch are reported as errors"),
			)
			w.cancel()
		}
		timer.Stop()
	}
	s.logger.Info("stage deactivated", logging.String(logging.FieldEventType, "stage_deactivated"))
	return s.closeProcessor()
}

func (s *Stage) closeProcessor() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = services.Wrap(services.ErrTransient, s.name, "close processor", fmt.Sprint(r), nil)
		}
	}()
	if cerr := s.processor.Close(); cerr != nil {
		return services.Wrap(services.ErrTransient, s.name, "close processor", s.processor.Name(), cerr)
	}
	return nil
}

// PossibleSideEffects returns every stage reachable from s (s included)
// whose processor has external side effects: successors' sets in declaration
// order, then s itself. The result is computed once and cached; an empty,
// non-nil slice means none.
func (s *Stage) PossibleSideEffects() []*Stage {
	s.sideEffectsOnce.Do(func() {
		out := make([]*Stage, 0)
		seen := make(map[*Stage]struct{})
		for _, next := range s.successors.All() {
			for _, st := range next.PossibleSideEffects() {
				if _, dup := seen[st]; dup {
					continue
				}
				seen[st] = struct{}{}
				out = append(out, st)
			}
		}
		if s.processor.HasExternalSideEffects() {
			if _, dup := seen[s]; !dup {
				out = append(out, s)
			}
		}
		s.sideEffects = out
	})
	return slices.Clone(s.sideEffects)
}

func (s *Stage) fatal(r any) {
	stack := debug.Stack()
	logging.ErrorWithContext(s.logger, "stage worker died; this is always an engine bug, shutting down", "stage_worker_died",
		logging.String("panic", fmt.Sprint(r)),
		logging.String("stack", string(stack)),
		logging.String(logging.FieldErrorHint, "report the stack trace; the process exits with status 2"),
	)
	fmt.Fprintf(os.Stderr, "worker for stage %s died: %v\n%s\n", s.name, r, stack)
	s.exit(2)
}
