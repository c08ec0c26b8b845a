package preflight

import (
	"context"
	"strings"

	"ingest/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckFileReadable("Plan file", cfg.Paths.PlanFile),
	}

	if cfg.Scanner.Enabled {
		results = append(results, CheckDirectoryAccess("Scanner directory", cfg.Scanner.Dir))
	}
	if cfg.History.Driver == config.HistoryPostgres {
		results = append(results, CheckPostgres(ctx, cfg.History.PostgresDSN))
	}
	if cfg.Kafka.Enabled {
		results = append(results, CheckKafka(ctx, cfg.Kafka.Brokers))
	}
	if strings.TrimSpace(cfg.S3.Endpoint) != "" {
		results = append(results, CheckS3(ctx, cfg.S3))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
