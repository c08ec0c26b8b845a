package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"ingest/internal/config"
	"ingest/internal/history"
	"ingest/internal/logging"
	"ingest/internal/pipeline"
	"ingest/internal/source"
)

const idlePollInterval = 20 * time.Millisecond

// Daemon runs a plan and its sources under a single-instance lock.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	plan    *pipeline.Plan
	store   history.Store
	sources []source.Source

	lockPath string
	lock     *flock.Flock

	mu          sync.Mutex
	running     atomic.Bool
	cancel      context.CancelFunc
	sourcesDone chan struct{}
	sourceErrs  []error
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Plan         string
	Stages       []StageStatus
	Sources      []string
	HistoryPath  string
	LockFilePath string
}

// StageStatus summarises one stage of the running plan.
type StageStatus struct {
	Name      string
	Active    bool
	Queued    int
	Successor []string
}

// New constructs a daemon. store may be nil when history is disabled.
func New(cfg *config.Config, plan *pipeline.Plan, store history.Store, logger *slog.Logger, sources ...source.Source) (*Daemon, error) {
	if cfg == nil || plan == nil {
		return nil, errors.New("daemon requires config and plan")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		plan:     plan,
		store:    store,
		sources:  sources,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, activates the plan and launches every source.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another ingest daemon instance is already running")
	}

	if err := d.plan.Activate(ctx); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("activate plan: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.sourceErrs = nil
	d.sourcesDone = make(chan struct{})

	var wg sync.WaitGroup
	for _, src := range d.sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.runSource(runCtx, src)
		}()
	}
	go func(done chan struct{}) {
		wg.Wait()
		close(done)
	}(d.sourcesDone)

	d.running.Store(true)
	d.logger.Info("ingest daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("plan", d.plan.Name()),
		logging.Int("sources", len(d.sources)),
		logging.String("lock", d.lockPath),
	)
	return nil
}

func (d *Daemon) runSource(ctx context.Context, src source.Source) {
	d.logger.Info("source started", logging.String(logging.FieldSource, src.Name()))
	err := src.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.ErrorWithContext(d.logger, "source stopped with error", "source_failed",
			logging.String(logging.FieldSource, src.Name()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the source configuration and connectivity"),
			logging.String(logging.FieldImpact, "no new documents from this source until restart"),
		)
		d.mu.Lock()
		d.sourceErrs = append(d.sourceErrs, fmt.Errorf("%s: %w", src.Name(), err))
		d.mu.Unlock()
		return
	}
	d.logger.Info("source finished", logging.String(logging.FieldSource, src.Name()))
}

// WaitSources blocks until every source has returned or ctx is done. It
// returns the errors sources stopped with.
func (d *Daemon) WaitSources(ctx context.Context) error {
	d.mu.Lock()
	done := d.sourcesDone
	d.mu.Unlock()
	if done == nil {
		return errors.New("daemon not started")
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return errors.Join(d.sourceErrs...)
}

// WaitIdle blocks until the plan has no queued or in-flight documents. The
// plan must read idle twice in a row so a document between stages is not
// missed.
func (d *Daemon) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()

	streak := 0
	for {
		if d.plan.Idle() {
			streak++
			if streak >= 2 {
				return nil
			}
		} else {
			streak = 0
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop stops the sources, deactivates the plan and releases the daemon lock.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running.Load() {
		d.mu.Unlock()
		return nil
	}
	cancel, done := d.cancel, d.sourcesDone
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	err := d.plan.Deactivate(context.Background())
	if err != nil {
		logging.WarnWithContext(d.logger, "plan deactivated with errors", "plan_deactivate_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "processor resources may not have been released cleanly"),
		)
	}
	if unlockErr := d.lock.Unlock(); unlockErr != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(unlockErr))
	}
	d.running.Store(false)
	d.logger.Info("ingest daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
	return err
}

// Close stops the daemon and releases the history store.
func (d *Daemon) Close() error {
	err := d.Stop()
	if d.store != nil {
		err = errors.Join(err, d.store.Close())
		d.store = nil
	}
	return err
}

// Status returns a snapshot of the daemon and its plan.
func (d *Daemon) Status(context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		Plan:         d.plan.Name(),
		LockFilePath: d.lockPath,
	}
	for _, st := range d.plan.Stages() {
		status.Stages = append(status.Stages, StageStatus{
			Name:      st.Name(),
			Active:    st.IsActive(),
			Queued:    st.QueueLen(),
			Successor: st.SuccessorNames(),
		})
	}
	for _, src := range d.sources {
		status.Sources = append(status.Sources, src.Name())
	}
	if s, ok := d.store.(interface{ Path() string }); ok {
		status.HistoryPath = s.Path()
	}
	return status
}
