package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"ingest/internal/config"
	"ingest/internal/logging"
	"ingest/internal/pipeline"
	"ingest/internal/planfile"
	"ingest/internal/report"
)

func newPlanCommand(ctx *commandContext) *cobra.Command {
	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Validate and inspect plan files",
	}
	planCmd.AddCommand(newPlanValidateCommand(ctx))
	planCmd.AddCommand(newPlanShowCommand(ctx))
	planCmd.AddCommand(newPlanDotCommand(ctx))
	return planCmd
}

// loadPlanOffline builds the plan at path (or the configured plan file)
// without reaching any external sink.
func loadPlanOffline(ctx context.Context, cfg *config.Config, args []string) (*pipeline.Plan, *planfile.Definition, error) {
	path := cfg.Paths.PlanFile
	if len(args) > 0 {
		expanded, err := config.ExpandPath(args[0])
		if err != nil {
			return nil, nil, err
		}
		path = expanded
	}
	logger := logging.NewNop()
	registry := planfile.NewRegistry(cfg, logger)
	registry.DryRun()
	return planfile.LoadPlan(ctx, path, planfile.Options{
		Config:   cfg,
		Reporter: report.NewLogReporter(logger),
		Registry: registry,
	})
}

func newPlanValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Check a plan file for errors",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			plan, _, err := loadPlanOffline(cmd.Context(), cfg, args)
			if err != nil {
				return fmt.Errorf("invalid plan: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Plan %q valid: %d stage(s), entry stage(s): %s\n",
				plan.Name(), len(plan.Stages()), strings.Join(stageNames(plan.Entries()), ", "))
			return nil
		},
	}
}

func newPlanShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show [path]",
		Short: "Print the stages of a plan as a table",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			plan, def, err := loadPlanOffline(cmd.Context(), cfg, args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Plan: %s\n", plan.Name())
			if def.Description != "" {
				fmt.Fprintln(out, def.Description)
			}
			fmt.Fprintln(out, renderTable(out,
				[]string{"Stage", "Batch", "Processor", "Side effects", "Next", "Reaches side effects"},
				planRows(plan, def),
				2,
			))
			return nil
		},
	}
}

func planRows(plan *pipeline.Plan, def *planfile.Definition) [][]string {
	kinds := make(map[string]string, len(def.Stages))
	for _, st := range def.Stages {
		kind := st.Processor.Kind
		if kind == "" {
			kind = "warning"
		}
		kinds[st.Name] = kind
	}
	rows := make([][]string, 0, len(def.Stages))
	for _, st := range plan.Stages() {
		next := strings.Join(st.SuccessorNames(), ", ")
		if next == "" {
			next = "-"
		}
		reach := strings.Join(stageNames(st.PossibleSideEffects()), ", ")
		if reach == "" {
			reach = "-"
		}
		rows = append(rows, []string{
			st.Name(),
			strconv.Itoa(st.BatchSize()),
			kinds[st.Name()],
			yesNo(st.HasExternalSideEffects()),
			next,
			reach,
		})
	}
	return rows
}

func newPlanDotCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "dot [path]",
		Short: "Print the plan as a Graphviz digraph",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			plan, _, err := loadPlanOffline(cmd.Context(), cfg, args)
			if err != nil {
				return err
			}
			writeDOT(cmd.OutOrStdout(), plan)
			return nil
		},
	}
}

// writeDOT renders plan in Graphviz syntax. Stages with external side
// effects are filled.
func writeDOT(w io.Writer, plan *pipeline.Plan) {
	fmt.Fprintf(w, "digraph %s {\n", strconv.Quote(plan.Name()))
	fmt.Fprintln(w, "  rankdir=LR;")
	fmt.Fprintln(w, "  node [shape=box];")
	for _, st := range plan.Stages() {
		if st.HasExternalSideEffects() {
			fmt.Fprintf(w, "  %s [style=filled, fillcolor=\"#f4cccc\"];\n", strconv.Quote(st.Name()))
		} else {
			fmt.Fprintf(w, "  %s;\n", strconv.Quote(st.Name()))
		}
	}
	for _, st := range plan.Stages() {
		for _, next := range st.SuccessorNames() {
			fmt.Fprintf(w, "  %s -> %s;\n", strconv.Quote(st.Name()), strconv.Quote(next))
		}
	}
	fmt.Fprintln(w, "}")
}

func stageNames(stages []*pipeline.Stage) []string {
	names := make([]string, len(stages))
	for i, st := range stages {
		names[i] = st.Name()
	}
	return names
}
