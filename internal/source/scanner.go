package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"ingest/internal/document"
	"ingest/internal/logging"
	"ingest/internal/services"
)

// File metadata fields set on scanned documents.
const (
	FieldFilePath  = "file_path"
	FieldFileName  = "file_name"
	FieldFileSize  = "file_size"
	FieldFileMtime = "file_mtime"
)

// Scanner submits every regular file in a directory matching a glob pattern,
// once, in name order.
type Scanner struct {
	dir     string
	pattern string
	entry   string
	plan    Submitter
	logger  *slog.Logger
}

// NewScanner validates the directory and pattern.
func NewScanner(dir, pattern, entry string, plan Submitter, logger *slog.Logger) (*Scanner, error) {
	if plan == nil {
		return nil, errors.New("scanner: plan is required")
	}
	dir = strings.TrimSpace(dir)
	if dir == "" || strings.TrimSpace(entry) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "scanner", "source", "dir and entry_stage are required", nil)
	}
	if pattern == "" {
		pattern = "*"
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "scanner", "source", fmt.Sprintf("invalid pattern %q", pattern), err)
	}
	return &Scanner{
		dir:     dir,
		pattern: pattern,
		entry:   entry,
		plan:    plan,
		logger:  logging.NewComponentLogger(logger, "scanner").With(logging.String("dir", dir)),
	}, nil
}

func (s *Scanner) Name() string { return "scanner:" + s.dir }

// Run submits the matching files and returns when all were accepted.
func (s *Scanner) Run(ctx context.Context) error {
	_, err := s.Scan(ctx)
	return err
}

// Scan submits the matching files and reports how many were accepted.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, s.pattern))
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", s.dir, err)
	}
	sort.Strings(matches)

	submitted := 0
	for _, path := range matches {
		if ctx.Err() != nil {
			return submitted, nil
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		doc, err := s.load(path, info)
		if err != nil {
			logging.WarnWithContext(s.logger, "skipping unreadable file", "scanner_read_failed",
				logging.String(FieldFilePath, path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "file not ingested"),
			)
			continue
		}
		if err := s.plan.Submit(ctx, s.entry, doc); err != nil {
			if ctx.Err() != nil {
				return submitted, nil
			}
			return submitted, fmt.Errorf("submit %s: %w", path, err)
		}
		submitted++
	}
	s.logger.Info("directory scan complete",
		logging.Int("files", submitted),
		logging.String("pattern", s.pattern),
	)
	return submitted, nil
}

func (s *Scanner) load(path string, info os.FileInfo) (*document.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	doc := document.New(abs, "file", data)
	doc.Set(FieldFilePath, abs)
	doc.Set(FieldFileName, filepath.Base(path))
	doc.Set(FieldFileSize, strconv.FormatInt(info.Size(), 10))
	doc.Set(FieldFileMtime, info.ModTime().UTC().Format(time.RFC3339))
	return doc, nil
}
