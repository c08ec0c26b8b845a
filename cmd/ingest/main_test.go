package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"ingest/internal/config"
	"ingest/internal/document"
	"ingest/internal/history"
	"ingest/internal/logging"
	"ingest/internal/report"
	"ingest/internal/testsupport"
)

const testPlan = `
name = "articles"
description = "tag and archive"

[[stage]]
name = "scan"
next = ["tag", "archive"]
router = { kind = "all" }

[[stage]]
name = "tag"
processor = { kind = "set_field", field = "collection", values = ["articles"] }
next = ["index"]

[[stage]]
name = "index"
processor = { kind = "mark_status", status = "indexed" }

[[stage]]
name = "archive"
processor = { kind = "s3_store", bucket = "docs" }
`

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	opts = append([]testsupport.ConfigOption{testsupport.WithPlan(testPlan)}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, configPath: configPath}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--env-file", ""}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func seedHistory(t *testing.T, cfg *config.Config) {
	t.Helper()
	store, err := history.OpenSQLite(context.Background(), cfg.History.SQLitePath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer store.Close()

	events := []report.Event{
		report.NewEvent("scan", document.New("d1", "file", nil), document.StatusProcessing, ""),
		report.NewEvent("index", document.New("d1", "file", nil), document.StatusIndexed, ""),
		report.NewEvent("archive", document.New("d2", "file", nil), document.StatusError, "bucket unavailable"),
	}
	for _, evt := range events {
		if err := store.Record(context.Background(), evt); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "History driver: sqlite")

	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected refusal to overwrite existing config")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestPlanValidateAndShow(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"plan", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("plan validate: %v", err)
	}
	requireContains(t, out, `Plan "articles" valid: 4 stage(s), entry stage(s): scan`)

	out, _, err = runCLI(t, []string{"plan", "show"}, env.configPath)
	if err != nil {
		t.Fatalf("plan show: %v", err)
	}
	requireContains(t, out, "tag and archive")
	requireContains(t, out, "REACHES SIDE EFFECTS")
	requireContains(t, out, "s3_store")
	// The entry stage reaches the archive sink through its fan-out.
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, " scan ") && !strings.Contains(line, "archive") {
			t.Fatalf("scan row does not list archive: %q", line)
		}
	}
}

func TestPlanValidateRejectsBrokenPlan(t *testing.T) {
	env := setupCLITestEnv(t)
	broken := filepath.Join(testsupport.BaseDir(env.cfg), "broken.toml")
	testsupport.WriteFile(t, broken, "name = \"loop\"\n[[stage]]\nname = \"a\"\nnext = [\"b\"]\n[[stage]]\nname = \"b\"\nnext = [\"a\"]\n")

	_, _, err := runCLI(t, []string{"plan", "validate", broken}, env.configPath)
	if err == nil {
		t.Fatal("expected cycle to be rejected")
	}
	requireContains(t, err.Error(), "cycle")
}

func TestPlanDot(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"plan", "dot"}, env.configPath)
	if err != nil {
		t.Fatalf("plan dot: %v", err)
	}
	requireContains(t, out, `digraph "articles" {`)
	requireContains(t, out, `"scan" -> "tag";`)
	requireContains(t, out, `"scan" -> "archive";`)
	requireContains(t, out, `"archive" [style=filled`)
}

func TestHistoryCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	seedHistory(t, env.cfg)

	out, _, err := runCLI(t, []string{"history", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var entries []history.Entry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode history json: %v\n%s", err, out)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	out, _, err = runCLI(t, []string{"history", "--document", "d2"}, env.configPath)
	if err != nil {
		t.Fatalf("history --document: %v", err)
	}
	requireContains(t, out, "bucket unavailable")
	if strings.Contains(out, "d1") {
		t.Fatalf("unexpected d1 in filtered output: %s", out)
	}

	if _, _, err := runCLI(t, []string{"history", "--status", "bogus"}, env.configPath); err == nil {
		t.Fatal("expected unknown status error")
	}

	out, _, err = runCLI(t, []string{"history", "stats"}, env.configPath)
	if err != nil {
		t.Fatalf("history stats: %v", err)
	}
	requireContains(t, out, "Indexed")
	requireContains(t, out, "Error")
	requireContains(t, out, "Total")

	out, _, err = runCLI(t, []string{"history", "prune", "--older-than", "1h"}, env.configPath)
	if err != nil {
		t.Fatalf("history prune: %v", err)
	}
	requireContains(t, out, "Removed 0 status event(s)")
}

func TestStatusAndStopWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "== Daemon ==")
	requireContains(t, out, "not running")
	requireContains(t, out, "Plan file:")
	requireContains(t, out, "[OK]")
	requireContains(t, out, "none recorded")

	out, _, err = runCLI(t, []string{"stop"}, env.configPath)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, out, "Daemon is not running")
}

func TestRunOnce(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithScannerDir("tag"))
	// No object store sink here; building one needs a live endpoint.
	testsupport.WriteFile(t, env.cfg.Paths.PlanFile, `
name = "local"

[[stage]]
name = "tag"
processor = { kind = "set_field", field = "collection", values = ["articles"] }
next = ["index"]

[[stage]]
name = "index"
processor = { kind = "mark_status", status = "indexed" }
`)
	testsupport.WriteFile(t, filepath.Join(env.cfg.Scanner.Dir, "a.txt"), "hello")

	if _, _, err := runCLI(t, []string{"run", "--once", "--log-level", "error"}, env.configPath); err != nil {
		t.Fatalf("run --once: %v", err)
	}

	out, _, err := runCLI(t, []string{"history", "stats", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("history stats: %v", err)
	}
	var stats []history.StatusCount
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if len(stats) != 1 || stats[0].Status != document.StatusIndexed || stats[0].Count != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	testsupport.WriteFile(t, path, "INGEST_DOTENV_PROBE=from-file\n")
	t.Setenv("INGEST_DOTENV_PROBE", "")
	os.Unsetenv("INGEST_DOTENV_PROBE")

	if err := loadDotEnv(path, true); err != nil {
		t.Fatalf("loadDotEnv: %v", err)
	}
	if got := os.Getenv("INGEST_DOTENV_PROBE"); got != "from-file" {
		t.Fatalf("INGEST_DOTENV_PROBE = %q", got)
	}

	missing := filepath.Join(t.TempDir(), "missing.env")
	if err := loadDotEnv(missing, false); err != nil {
		t.Fatalf("implicit missing env file should be ignored: %v", err)
	}
	if err := loadDotEnv(missing, true); err == nil {
		t.Fatal("explicit missing env file should fail")
	}
}

func TestLogsCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteFile(t, filepath.Join(env.cfg.Paths.LogDir, logging.LogFileName),
		"first doc-1\nsecond doc-2\nthird doc-1\n")

	out, _, err := runCLI(t, []string{"logs", "-n", "2"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if out != "second doc-2\nthird doc-1\n" {
		t.Fatalf("unexpected logs output %q", out)
	}

	out, _, err = runCLI(t, []string{"logs", "--grep", "doc-1"}, env.configPath)
	if err != nil {
		t.Fatalf("logs --grep: %v", err)
	}
	if out != "first doc-1\nthird doc-1\n" {
		t.Fatalf("unexpected filtered output %q", out)
	}
}

func TestNotifyTest(t *testing.T) {
	t.Setenv("NTFY_TOPIC", "")
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"notify", "test"}, env.configPath); err == nil {
		t.Fatal("expected error without ntfy topic")
	}

	var titles []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		titles = append(titles, r.Header.Get("Title"))
	}))
	defer srv.Close()

	env.cfg.Notifications.NtfyTopic = srv.URL
	writeTestConfig(t, env.configPath, env.cfg)
	out, _, err := runCLI(t, []string{"notify", "test"}, env.configPath)
	if err != nil {
		t.Fatalf("notify test: %v", err)
	}
	requireContains(t, out, "Test notification sent to "+srv.URL)
	if len(titles) != 1 || titles[0] != "ingest - Test" {
		t.Fatalf("unexpected requests: %v", titles)
	}
}
