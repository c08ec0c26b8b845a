package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"ingest/internal/document"
	"ingest/internal/logging"
	"ingest/internal/report"
	"ingest/internal/services"
)

// StageConfig is the configuration a StageBuilder accumulates.
type StageConfig struct {
	Name      string
	BatchSize int
	Processor DocumentProcessor
	Router    Router
	Cloner    document.Cloner
	Reporter  report.Reporter
	Logger    *slog.Logger
	Timings   Timings
	// OutputSpace names a remote handoff space. It is recognised so plans
	// that set it fail at build time; remote handoff is not supported.
	OutputSpace string
	// ExitFunc terminates the process when a worker dies. Defaults to os.Exit.
	ExitFunc func(code int)
}

// StageBuilder assembles a Stage in two phases: setters accumulate a
// StageConfig, then Build applies deferred configuration in registration
// order and freezes the result. The builder is reset by Build and can
// declare another stage.
type StageBuilder struct {
	cfg     StageConfig
	actions []func(*StageConfig) error
}

// NewStageBuilder returns an empty builder.
func NewStageBuilder() *StageBuilder {
	return &StageBuilder{}
}

func (b *StageBuilder) Named(name string) *StageBuilder {
	b.cfg.Name = name
	return b
}

func (b *StageBuilder) BatchSize(size int) *StageBuilder {
	b.cfg.BatchSize = size
	return b
}

func (b *StageBuilder) WithProcessor(p DocumentProcessor) *StageBuilder {
	b.cfg.Processor = p
	return b
}

// WithProcessorFactory defers processor construction to Build, after every
// setter has run, so the factory sees the final configuration.
func (b *StageBuilder) WithProcessorFactory(factory func(StageConfig) (DocumentProcessor, error)) *StageBuilder {
	return b.Configure(func(cfg *StageConfig) error {
		p, err := factory(*cfg)
		if err != nil {
			return err
		}
		cfg.Processor = p
		return nil
	})
}

func (b *StageBuilder) WithRouter(r Router) *StageBuilder {
	b.cfg.Router = r
	return b
}

func (b *StageBuilder) WithCloner(c document.Cloner) *StageBuilder {
	b.cfg.Cloner = c
	return b
}

func (b *StageBuilder) WithReporter(r report.Reporter) *StageBuilder {
	b.cfg.Reporter = r
	return b
}

func (b *StageBuilder) WithLogger(logger *slog.Logger) *StageBuilder {
	b.cfg.Logger = logger
	return b
}

func (b *StageBuilder) WithTimings(t Timings) *StageBuilder {
	b.cfg.Timings = t
	return b
}

func (b *StageBuilder) OutputSpace(name string) *StageBuilder {
	b.cfg.OutputSpace = name
	return b
}

func (b *StageBuilder) WithExitFunc(exit func(code int)) *StageBuilder {
	b.cfg.ExitFunc = exit
	return b
}

// Configure registers an action applied to the configuration during Build.
func (b *StageBuilder) Configure(action func(*StageConfig) error) *StageBuilder {
	if action != nil {
		b.actions = append(b.actions, action)
	}
	return b
}

// Build applies deferred actions in order, validates the configuration and
// returns the stage. The builder is reset whether or not Build succeeds.
func (b *StageBuilder) Build() (*Stage, error) {
	cfg := b.cfg
	actions := b.actions
	b.cfg = StageConfig{}
	b.actions = nil

	cfg.Name = strings.TrimSpace(cfg.Name)
	for i, action := range actions {
		if err := action(&cfg); err != nil {
			return nil, services.Wrap(services.ErrConfiguration, cfg.Name, "build stage", fmt.Sprintf("configuration action %d", i+1), err)
		}
	}
	if cfg.Name == "" {
		return nil, services.Wrap(services.ErrValidation, "", "build stage", "stage name is required", nil)
	}
	if space := strings.TrimSpace(cfg.OutputSpace); space != "" {
		return nil, services.Wrap(services.ErrUnsupported, cfg.Name, "build stage",
			fmt.Sprintf("remote output space %q is not supported", space), nil)
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "engine").With(logging.String(logging.FieldStage, cfg.Name))
	if cfg.Processor == nil {
		cfg.Processor = NewWarningProcessor(logger)
	}
	if cfg.Router == nil {
		cfg.Router = ByField{Field: DefaultRouteField}
	}
	if cfg.Cloner == nil {
		cfg.Cloner = document.DeepCloner{}
	}
	if cfg.Reporter == nil {
		cfg.Reporter = report.NewLogReporter(logger)
	}
	if cfg.ExitFunc == nil {
		cfg.ExitFunc = os.Exit
	}

	return &Stage{
		name:       cfg.Name,
		batchSize:  cfg.BatchSize,
		queue:      make(chan *document.Document, cfg.BatchSize),
		wake:       make(chan struct{}, 1),
		processor:  cfg.Processor,
		router:     cfg.Router,
		cloner:     cfg.Cloner,
		reporter:   cfg.Reporter,
		logger:     logger,
		timings:    cfg.Timings.withDefaults(),
		exit:       cfg.ExitFunc,
		successors: NewSuccessors(),
	}, nil
}
