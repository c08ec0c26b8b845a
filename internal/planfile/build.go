package planfile

import (
	"context"

	"ingest/internal/config"
	"ingest/internal/logging"
	"ingest/internal/pipeline"
	"ingest/internal/report"
)

// Options carries the runtime collaborators shared by every stage.
type Options struct {
	Config   *config.Config
	Reporter report.Reporter
	Registry *Registry
	// ExitFunc replaces os.Exit for worker deaths; tests set it.
	ExitFunc func(int)
}

// PlanBuilder translates the definition into a pipeline.PlanBuilder. Stage
// level settings fall back to the [engine] section of the config.
func (d *Definition) PlanBuilder(ctx context.Context, opts Options) *pipeline.PlanBuilder {
	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry(opts.Config, nil)
	}
	timings := pipeline.DefaultTimings()
	batchSize := pipeline.DefaultBatchSize
	if cfg := opts.Config; cfg != nil {
		timings = pipeline.Timings{
			InactivePoll:  cfg.InactivePoll(),
			IdlePoll:      cfg.IdlePoll(),
			ShutdownGrace: cfg.ShutdownGrace(),
		}
		if cfg.Engine.DefaultBatchSize > 0 {
			batchSize = cfg.Engine.DefaultBatchSize
		}
	}

	pb := pipeline.NewPlanBuilder(d.Name).WithLogger(registry.logger)
	for _, st := range d.Stages {
		sb := pipeline.NewStageBuilder().
			Named(st.Name).
			BatchSize(batchSize).
			WithTimings(timings).
			WithReporter(opts.Reporter).
			WithLogger(registry.stageLogger(st.Name)).
			OutputSpace(st.OutputSpace).
			WithExitFunc(opts.ExitFunc)
		if st.BatchSize > 0 {
			sb.BatchSize(st.BatchSize)
		}

		procDef, routerDef, clonerKind, stage := st.Processor, st.Router, st.Cloner, st.Name
		sb.Configure(func(sc *pipeline.StageConfig) error {
			router, err := registry.router(routerDef, stage)
			if err != nil {
				return err
			}
			if router != nil {
				sc.Router = router
			}
			cloner, err := registry.cloner(clonerKind, stage)
			if err != nil {
				return err
			}
			sc.Cloner = cloner
			return nil
		})
		sb.WithProcessorFactory(func(sc pipeline.StageConfig) (pipeline.DocumentProcessor, error) {
			sc.Logger = logging.NewComponentLogger(sc.Logger, "processor").With(logging.String(logging.FieldStage, sc.Name))
			return registry.processor(ctx, procDef, sc)
		})
		pb.AddStage(sb)
		if len(st.Next) > 0 {
			pb.Link(st.Name, st.Next...)
		}
	}
	return pb
}

// Build is PlanBuilder followed by pipeline.PlanBuilder.Build.
func (d *Definition) Build(ctx context.Context, opts Options) (*pipeline.Plan, error) {
	return d.PlanBuilder(ctx, opts).Build()
}

// LoadPlan reads path and builds the plan it describes.
func LoadPlan(ctx context.Context, path string, opts Options) (*pipeline.Plan, *Definition, error) {
	def, err := Load(path)
	if err != nil {
		return nil, nil, err
	}
	plan, err := def.Build(ctx, opts)
	if err != nil {
		return nil, def, err
	}
	return plan, def, nil
}
