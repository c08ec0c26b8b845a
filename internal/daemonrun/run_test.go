package daemonrun_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"ingest/internal/config"
	"ingest/internal/daemonrun"
	"ingest/internal/document"
	"ingest/internal/history"
	"ingest/internal/logging"
	"ingest/internal/notifications"
	"ingest/internal/services"
	"ingest/internal/testsupport"
)

const plan = `
name = "inbox"

[[stage]]
name = "entry"
processor = { kind = "set_field", field = "collection", values = ["inbox"] }
next = ["index"]

[[stage]]
name = "index"
processor = { kind = "mark_status", status = "indexed" }
`

func TestRunOnceDrainsScannerIntoHistory(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithPlan(plan), testsupport.WithScannerDir("entry"))
	for _, name := range []string{"one.txt", "two.txt"} {
		testsupport.WriteFile(t, filepath.Join(cfg.Scanner.Dir, name), name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := daemonrun.Run(ctx, cfg, daemonrun.Options{Once: true, Logger: logging.NewNop()}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := os.Stat(cfg.PIDPath()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected pid file removed, stat err = %v", err)
	}

	store, err := history.OpenSQLite(context.Background(), cfg.History.SQLitePath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer store.Close()

	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) != 1 || stats[0].Status != document.StatusIndexed || stats[0].Count != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (r *recordingNotifier) Send(_ context.Context, msg notifications.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, msg.Title)
	return nil
}

func TestRunOnceSendsLifecycleNotifications(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithPlan(plan),
		testsupport.WithScannerDir("entry"),
		testsupport.WithHistoryDriver(config.HistoryNone),
	)
	testsupport.WriteFile(t, filepath.Join(cfg.Scanner.Dir, "a.txt"), "a")

	notifier := &recordingNotifier{}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := daemonrun.Run(ctx, cfg, daemonrun.Options{Once: true, Logger: logging.NewNop(), Notifier: notifier}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"ingest - Started", "ingest - Drained"}
	if diff := cmp.Diff(want, notifier.titles); diff != "" {
		t.Fatalf("notifications mismatch (-want +got):\n%s", diff)
	}
}

func TestRunFailsPreflightWithoutPlanFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{Once: true, Logger: logging.NewNop()})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRunRejectsInvalidPlan(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithHistoryDriver(config.HistoryNone),
		testsupport.WithPlan("name = \"bad\"\n[[stage]]\nname = \"a\"\nnext = [\"missing\"]\n"),
	)
	err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{Once: true, Logger: logging.NewNop()})
	if err == nil {
		t.Fatal("expected plan error")
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if err := daemonrun.Run(context.Background(), nil, daemonrun.Options{}); err == nil {
		t.Fatal("expected error without config")
	}
}
