package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"ingest/internal/pipeline"
	"ingest/internal/services"
	"ingest/internal/testsupport"
)

func stageNames(stages []*pipeline.Stage) []string {
	names := make([]string, 0, len(stages))
	for _, st := range stages {
		names = append(names, st.Name())
	}
	return names
}

func TestPlanBuildValidation(t *testing.T) {
	rep := &testsupport.Collector{}
	tests := []struct {
		name    string
		build   func() *pipeline.PlanBuilder
		marker  error
		message string
	}{
		{
			name:    "missing plan name",
			build:   func() *pipeline.PlanBuilder { return pipeline.NewPlanBuilder(" ").AddStage(newStage("a", &passThrough{}, rep)) },
			marker:  services.ErrValidation,
			message: "plan name",
		},
		{
			name:    "no stages",
			build:   func() *pipeline.PlanBuilder { return pipeline.NewPlanBuilder("empty") },
			marker:  services.ErrValidation,
			message: "no stages",
		},
		{
			name:    "missing stage name",
			build:   func() *pipeline.PlanBuilder { return pipeline.NewPlanBuilder("p").AddStage(newStage("", &passThrough{}, rep)) },
			marker:  services.ErrValidation,
			message: "stage name",
		},
		{
			name: "duplicate stage",
			build: func() *pipeline.PlanBuilder {
				return pipeline.NewPlanBuilder("p").
					AddStage(newStage("a", &passThrough{}, rep)).
					AddStage(newStage("a", &passThrough{}, rep))
			},
			marker:  services.ErrValidation,
			message: "duplicate",
		},
		{
			name: "unknown successor",
			build: func() *pipeline.PlanBuilder {
				return pipeline.NewPlanBuilder("p").AddStage(newStage("a", &passThrough{}, rep)).Link("a", "ghost")
			},
			marker:  services.ErrValidation,
			message: "ghost",
		},
		{
			name: "unknown origin",
			build: func() *pipeline.PlanBuilder {
				return pipeline.NewPlanBuilder("p").AddStage(newStage("a", &passThrough{}, rep)).Link("ghost", "a")
			},
			marker:  services.ErrValidation,
			message: "unknown stage",
		},
		{
			name: "self link",
			build: func() *pipeline.PlanBuilder {
				return pipeline.NewPlanBuilder("p").AddStage(newStage("a", &passThrough{}, rep)).Link("a", "a")
			},
			marker:  services.ErrValidation,
			message: "itself",
		},
		{
			name: "cycle",
			build: func() *pipeline.PlanBuilder {
				return pipeline.NewPlanBuilder("p").
					AddStage(newStage("entry", &passThrough{}, rep)).
					AddStage(newStage("a", &passThrough{}, rep)).
					AddStage(newStage("b", &passThrough{}, rep)).
					Link("entry", "a").
					Link("a", "b").
					Link("b", "a")
			},
			marker:  services.ErrValidation,
			message: "cycle detected among stages a, b",
		},
		{
			name: "remote output space",
			build: func() *pipeline.PlanBuilder {
				return pipeline.NewPlanBuilder("p").AddStage(newStage("a", &passThrough{}, rep).OutputSpace("remote-space"))
			},
			marker:  services.ErrUnsupported,
			message: "remote-space",
		},
		{
			name: "failing factory",
			build: func() *pipeline.PlanBuilder {
				return pipeline.NewPlanBuilder("p").AddStage(newStage("a", nil, rep).
					WithProcessorFactory(func(pipeline.StageConfig) (pipeline.DocumentProcessor, error) {
						return nil, errors.New("missing credentials")
					}))
			},
			marker:  services.ErrConfiguration,
			message: "missing credentials",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			plan, err := tc.build().Build()
			if err == nil {
				t.Fatalf("expected build error, got plan %v", plan.Name())
			}
			if !errors.Is(err, tc.marker) {
				t.Fatalf("expected %v, got %v", tc.marker, err)
			}
			if !strings.Contains(err.Error(), tc.message) {
				t.Fatalf("error %q does not mention %q", err, tc.message)
			}
		})
	}
}

func TestRemoteOutputSpaceIsFatalConfiguration(t *testing.T) {
	_, err := pipeline.NewStageBuilder().Named("a").OutputSpace("space").Build()
	if !services.IsFatalConfiguration(err) {
		t.Fatalf("expected fatal configuration error, got %v", err)
	}
}

func TestPlanBuilderSingleUse(t *testing.T) {
	b := pipeline.NewPlanBuilder("once").AddStage(newStage("a", &passThrough{}, &testsupport.Collector{}))
	if _, err := b.Build(); err != nil {
		t.Fatalf("first Build: %v", err)
	}
	if _, err := b.Build(); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("second Build should fail, got %v", err)
	}
}

func TestStageBuilderDefaultsAndReset(t *testing.T) {
	var order []string
	b := pipeline.NewStageBuilder().
		Named("first").
		Configure(func(cfg *pipeline.StageConfig) error {
			order = append(order, "batch")
			cfg.BatchSize = 7
			return nil
		}).
		WithProcessorFactory(func(cfg pipeline.StageConfig) (pipeline.DocumentProcessor, error) {
			order = append(order, "factory")
			if cfg.BatchSize != 7 {
				t.Errorf("factory saw batch size %d, want 7", cfg.BatchSize)
			}
			return &passThrough{name: "made-" + cfg.Name}, nil
		})

	st, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if diff := cmp.Diff([]string{"batch", "factory"}, order); diff != "" {
		t.Fatalf("action order mismatch (-want +got):\n%s", diff)
	}
	if st.BatchSize() != 7 || st.ProcessorName() != "made-first" {
		t.Fatalf("unexpected stage: batch=%d processor=%s", st.BatchSize(), st.ProcessorName())
	}

	next, err := b.Named("second").Build()
	if err != nil {
		t.Fatalf("Build after reset: %v", err)
	}
	if len(order) != 2 {
		t.Fatalf("actions re-ran after reset: %v", order)
	}
	if next.BatchSize() != pipeline.DefaultBatchSize {
		t.Fatalf("batch size = %d, want default %d", next.BatchSize(), pipeline.DefaultBatchSize)
	}
	if next.ProcessorName() != "warning" {
		t.Fatalf("default processor = %q, want warning", next.ProcessorName())
	}
	if next.HasExternalSideEffects() {
		t.Fatal("default processor must not report side effects")
	}
}

func TestPlanStructure(t *testing.T) {
	rep := &testsupport.Collector{}
	plan := mustBuild(t, pipeline.NewPlanBuilder("structure").
		AddStage(newStage("index", &passThrough{}, rep)).
		AddStage(newStage("scan", &passThrough{}, rep)).
		AddStage(newStage("feed", &passThrough{}, rep)).
		AddStage(newStage("extract", &passThrough{}, rep)).
		Link("scan", "extract").
		Link("feed", "extract").
		Link("extract", "index").
		Link("extract", "index"))

	if diff := cmp.Diff([]string{"scan", "feed"}, stageNames(plan.Entries())); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"scan", "feed", "extract", "index"}, stageNames(plan.Stages())); diff != "" {
		t.Fatalf("topological order mismatch (-want +got):\n%s", diff)
	}
	extract := mustStage(t, plan, "extract")
	if diff := cmp.Diff([]string{"index"}, extract.SuccessorNames()); diff != "" {
		t.Fatalf("duplicate links must collapse (-want +got):\n%s", diff)
	}
	if _, ok := plan.Stage("missing"); ok {
		t.Fatal("lookup of unknown stage succeeded")
	}
	err := plan.Submit(context.Background(), "missing", newDoc("x"))
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("Submit to unknown stage: %v", err)
	}
}

func TestPossibleSideEffects(t *testing.T) {
	rep := &testsupport.Collector{}

	t.Run("none", func(t *testing.T) {
		plan := mustBuild(t, pipeline.NewPlanBuilder("none").
			AddStage(newStage("a", &passThrough{}, rep)).
			AddStage(newStage("b", &passThrough{}, rep)).
			Link("a", "b"))
		got := mustStage(t, plan, "a").PossibleSideEffects()
		if got == nil || len(got) != 0 {
			t.Fatalf("expected empty non-nil set, got %#v", got)
		}
	})

	t.Run("chain", func(t *testing.T) {
		plan := mustBuild(t, pipeline.NewPlanBuilder("chain").
			AddStage(newStage("a", &passThrough{}, rep)).
			AddStage(newStage("b", &passThrough{}, rep)).
			AddStage(newStage("c", &passThrough{sideEffects: true}, rep)).
			Link("a", "b").
			Link("b", "c"))
		for _, name := range []string{"a", "b", "c"} {
			got := stageNames(mustStage(t, plan, name).PossibleSideEffects())
			if diff := cmp.Diff([]string{"c"}, got); diff != "" {
				t.Fatalf("%s side effects mismatch (-want +got):\n%s", name, diff)
			}
		}
	})

	t.Run("diamond", func(t *testing.T) {
		plan := mustBuild(t, pipeline.NewPlanBuilder("diamond").
			AddStage(newStage("top", &passThrough{sideEffects: true}, rep)).
			AddStage(newStage("left", &passThrough{sideEffects: true}, rep)).
			AddStage(newStage("right", &passThrough{}, rep)).
			AddStage(newStage("sink", &passThrough{sideEffects: true}, rep)).
			Link("top", "left", "right").
			Link("left", "sink").
			Link("right", "sink"))
		got := stageNames(mustStage(t, plan, "top").PossibleSideEffects())
		if diff := cmp.Diff([]string{"sink", "left", "top"}, got); diff != "" {
			t.Fatalf("diamond side effects mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("stable under concurrency", func(t *testing.T) {
		plan := mustBuild(t, pipeline.NewPlanBuilder("concurrent").
			AddStage(newStage("a", &passThrough{}, rep)).
			AddStage(newStage("b", &passThrough{sideEffects: true}, rep)).
			Link("a", "b"))
		st := mustStage(t, plan, "a")
		want := stageNames(st.PossibleSideEffects())

		var wg sync.WaitGroup
		results := make([][]string, 16)
		for i := range results {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = stageNames(st.PossibleSideEffects())
			}()
		}
		wg.Wait()
		for i, got := range results {
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("caller %d saw a different set (-want +got):\n%s", i, diff)
			}
		}
	})

	t.Run("callers receive copies", func(t *testing.T) {
		plan := mustBuild(t, pipeline.NewPlanBuilder("copies").
			AddStage(newStage("a", &passThrough{sideEffects: true}, rep)))
		st := mustStage(t, plan, "a")
		first := st.PossibleSideEffects()
		first[0] = nil
		if got := st.PossibleSideEffects(); got[0] != st {
			t.Fatal("cached set was modified through a returned slice")
		}
	})
}

func TestPlanLifecycleAndIdle(t *testing.T) {
	rep := &testsupport.Collector{}
	a, b := &passThrough{}, &passThrough{}
	plan := mustBuild(t, pipeline.NewPlanBuilder("lifecycle").
		AddStage(newStage("a", a, rep)).
		AddStage(newStage("b", b, rep)).
		Link("a", "b"))

	if !plan.Idle() {
		t.Fatal("fresh plan should be idle")
	}
	if err := plan.Submit(context.Background(), "a", newDoc("1")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if plan.Idle() {
		t.Fatal("plan with a queued document reported idle")
	}

	if err := plan.Activate(context.Background()); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	for _, st := range plan.Stages() {
		if !st.IsActive() {
			t.Fatalf("stage %s not active", st.Name())
		}
	}
	testsupport.Eventually(t, 2*time.Second, func() bool { return len(rep.WithStatus("dropped")) == 1 }, "document reaches the sink")
	testsupport.Eventually(t, time.Second, plan.Idle, "plan drains")

	if err := plan.Deactivate(context.Background()); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	for _, st := range plan.Stages() {
		if st.IsActive() {
			t.Fatalf("stage %s still active", st.Name())
		}
	}
	if a.closed.Load() != 1 || b.closed.Load() != 1 {
		t.Fatalf("processors closed a=%d b=%d", a.closed.Load(), b.closed.Load())
	}
}

func TestActivateHonoursCancelledContext(t *testing.T) {
	plan := mustBuild(t, pipeline.NewPlanBuilder("cancelled").
		AddStage(newStage("a", &passThrough{}, &testsupport.Collector{})))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := plan.Activate(ctx); !errors.Is(err, services.ErrInterrupted) {
		t.Fatalf("expected interrupted activation, got %v", err)
	}
}

func TestDeactivateStopsWalkOnCancelledContext(t *testing.T) {
	a, b := &passThrough{}, &passThrough{}
	plan := mustBuild(t, pipeline.NewPlanBuilder("cancelled-stop").
		AddStage(newStage("a", a, &testsupport.Collector{})).
		AddStage(newStage("b", b, &testsupport.Collector{})).
		Link("a", "b"))
	if err := plan.Activate(context.Background()); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	t.Cleanup(func() { _ = plan.Deactivate(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := plan.Deactivate(ctx)
	if !errors.Is(err, services.ErrInterrupted) {
		t.Fatalf("expected interrupted deactivation, got %v", err)
	}
	if !strings.Contains(err.Error(), "a, b") {
		t.Fatalf("expected running stages named, got %v", err)
	}
	for _, st := range plan.Stages() {
		if !st.IsActive() {
			t.Fatalf("stage %s deactivated after cancellation", st.Name())
		}
	}

	if err := plan.Deactivate(context.Background()); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if a.closed.Load() != 1 || b.closed.Load() != 1 {
		t.Fatalf("processors closed a=%d b=%d", a.closed.Load(), b.closed.Load())
	}
}

type failingClose struct {
	passThrough
}

func (f *failingClose) Close() error { return errors.New("flush failed") }

func TestDeactivateJoinsCloseErrors(t *testing.T) {
	rep := &testsupport.Collector{}
	healthy := &passThrough{}
	plan := mustBuild(t, pipeline.NewPlanBuilder("close").
		AddStage(newStage("a", &failingClose{}, rep)).
		AddStage(newStage("b", healthy, rep)).
		Link("a", "b"))
	if err := plan.Activate(context.Background()); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	err := plan.Deactivate(context.Background())
	if err == nil || !strings.Contains(err.Error(), "flush failed") {
		t.Fatalf("expected close error, got %v", err)
	}
	if healthy.closed.Load() != 1 {
		t.Fatal("healthy stage must still be closed")
	}
}
