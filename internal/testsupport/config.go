package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"ingest/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.PlanFile = filepath.Join(base, "plan.toml")
	cfgVal.History.SQLitePath = filepath.Join(base, "data", "history.db")
	cfgVal.Engine.IdlePollMS = 1
	cfgVal.Engine.InactivePollMS = 5
	cfgVal.Engine.ShutdownGraceMS = 200

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithHistoryDriver selects the history driver on the test config.
func WithHistoryDriver(driver string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.History.Driver = driver
	}
}

// WithScannerDir enables the directory scanner over a fresh inbox directory
// feeding entryStage.
func WithScannerDir(entryStage string) ConfigOption {
	return func(b *configBuilder) {
		dir := filepath.Join(b.baseDir, "inbox")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			b.t.Fatalf("mkdir inbox: %v", err)
		}
		b.cfg.Scanner.Enabled = true
		b.cfg.Scanner.Dir = dir
		b.cfg.Scanner.EntryStage = entryStage
	}
}

// WithPlan writes contents to the configured plan file.
func WithPlan(contents string) ConfigOption {
	return func(b *configBuilder) {
		if err := os.WriteFile(b.cfg.Paths.PlanFile, []byte(contents), 0o644); err != nil {
			b.t.Fatalf("write plan: %v", err)
		}
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
