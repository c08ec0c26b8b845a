package processors_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"ingest/internal/document"
	"ingest/internal/notifications"
	"ingest/internal/processors"
	"ingest/internal/services"
)

func TestArchiveFileCopiesAndRecordsChecksum(t *testing.T) {
	src := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(src, []byte("archive me"), 0o644); err != nil {
		t.Fatal(err)
	}
	archiveDir := filepath.Join(t.TempDir(), "archive")
	p, err := processors.NewArchiveFile("archive", archiveDir, "", false, nil)
	if err != nil {
		t.Fatalf("NewArchiveFile: %v", err)
	}
	if !p.HasExternalSideEffects() {
		t.Fatal("archive_file must report side effects")
	}

	for _, want := range []string{"a.txt", "a-1.txt"} {
		doc := document.New("d", "", nil)
		doc.Set("file_path", src)
		process(t, p, doc)
		got, _ := doc.First(processors.ArchivePathField)
		if got != filepath.Join(archiveDir, want) {
			t.Fatalf("archive path = %s, want %s", got, want)
		}
		if sum, _ := doc.First(processors.ArchiveSHA256Field); len(sum) != 64 {
			t.Fatalf("unexpected checksum %q", sum)
		}
		if size, _ := doc.First(processors.ArchiveSizeField); size != "10" {
			t.Fatalf("size = %s", size)
		}
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("source should remain without move: %v", err)
	}
}

func TestArchiveFileMoveRemovesSource(t *testing.T) {
	src := filepath.Join(t.TempDir(), "b.txt")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := processors.NewArchiveFile("archive", t.TempDir(), "path", true, nil)
	if err != nil {
		t.Fatal(err)
	}
	doc := document.New("d", "", nil)
	doc.Set("path", src)
	process(t, p, doc)
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("expected source removed, stat err = %v", err)
	}
}

func TestArchiveFileErrors(t *testing.T) {
	if _, err := processors.NewArchiveFile("archive", " ", "", false, nil); err == nil {
		t.Fatal("expected error without dir")
	}
	p, err := processors.NewArchiveFile("archive", t.TempDir(), "", false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.ProcessDocument(context.Background(), document.New("d", "", nil)); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for missing field, got %v", err)
	}
	doc := document.New("d", "", nil)
	doc.Set("file_path", filepath.Join(t.TempDir(), "missing.txt"))
	if _, err := p.ProcessDocument(context.Background(), doc); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error for missing file, got %v", err)
	}
}

type recordingNotifier struct {
	sent []notifications.Message
	err  error
}

func (r *recordingNotifier) Send(_ context.Context, msg notifications.Message) error {
	r.sent = append(r.sent, msg)
	return r.err
}

func TestNotifySendsPerDocument(t *testing.T) {
	svc := &recordingNotifier{}
	p, err := processors.NewNotify("alert", svc, "", "title", "high")
	if err != nil {
		t.Fatalf("NewNotify: %v", err)
	}
	if !p.HasExternalSideEffects() {
		t.Fatal("notify must report side effects")
	}
	doc := document.New("doc-1", "", nil)
	doc.Set("title", "Quarterly report")
	process(t, p, doc)

	if len(svc.sent) != 1 {
		t.Fatalf("sent %d messages", len(svc.sent))
	}
	msg := svc.sent[0]
	if msg.Title != "ingest - alert" || msg.Body != "Document doc-1 reached alert\nQuarterly report" || msg.Priority != "high" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestNotifyFailureIsTransient(t *testing.T) {
	svc := &recordingNotifier{err: errors.New("offline")}
	p, err := processors.NewNotify("alert", svc, "Custom", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.ProcessDocument(context.Background(), document.New("d", "", nil)); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if svc.sent[0].Title != "Custom" {
		t.Fatalf("title = %q", svc.sent[0].Title)
	}
}

func TestNotifyRequiresTopic(t *testing.T) {
	if _, err := processors.NewNotify("alert", notifications.NewNtfy("", 0), "", "", ""); err == nil {
		t.Fatal("expected error without topic")
	}
}

func TestKeywords(t *testing.T) {
	p := processors.NewKeywords("kw", "", 2, []string{"the"})
	doc := document.New("d", "", []byte("The river, the river bank and the boat."))
	process(t, p, doc)
	if diff := cmp.Diff([]string{"river", "and"}, doc.Get(processors.KeywordsField)); diff != "" {
		t.Fatalf("keywords mismatch (-want +got):\n%s", diff)
	}

	empty := document.New("e", "", []byte("a b"))
	empty.Set(processors.KeywordsField, "stale")
	process(t, p, empty)
	if empty.Has(processors.KeywordsField) {
		t.Fatal("expected keywords removed for text without terms")
	}
}
