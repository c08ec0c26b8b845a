package processors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ingest/internal/document"
	"ingest/internal/fileutil"
	"ingest/internal/logging"
	"ingest/internal/services"
)

// Fields written by ArchiveFile.
const (
	ArchivePathField   = "archive_path"
	ArchiveSHA256Field = "archive_sha256"
	ArchiveSizeField   = "archive_size"
)

// ArchiveFile copies the file named by a document field into an archive
// directory, verifying size and checksum. With move set the source file is
// removed after a successful copy.
type ArchiveFile struct {
	name   string
	dir    string
	field  string
	move   bool
	logger *slog.Logger
}

// NewArchiveFile archives the path held in field (default "file_path") into dir.
func NewArchiveFile(name, dir, field string, move bool, logger *slog.Logger) (*ArchiveFile, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("archive_file: dir is required")
	}
	if strings.TrimSpace(field) == "" {
		field = "file_path"
	}
	return &ArchiveFile{
		name:   name,
		dir:    dir,
		field:  field,
		move:   move,
		logger: logging.NewComponentLogger(logger, "archive"),
	}, nil
}

func (p *ArchiveFile) Name() string { return p.name }

func (p *ArchiveFile) HasExternalSideEffects() bool { return true }

func (p *ArchiveFile) Close() error { return nil }

func (p *ArchiveFile) ProcessDocument(ctx context.Context, doc *document.Document) ([]*document.Document, error) {
	src, ok := doc.First(p.field)
	if !ok || strings.TrimSpace(src) == "" {
		return nil, services.Wrap(services.ErrValidation, p.name, "archive", fmt.Sprintf("field %q is empty", p.field), nil)
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, p.name, "archive", "create archive directory", err)
	}
	dst, err := fileutil.AvailablePath(p.dir, filepath.Base(src))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, p.name, "archive", "pick destination", err)
	}
	res, err := fileutil.CopyVerified(src, dst)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, p.name, "archive", src, err)
	}
	if p.move {
		if err := os.Remove(src); err != nil {
			logging.WithContext(ctx, p.logger).Warn("archived source not removed",
				logging.String("path", src),
				logging.Error(err),
				logging.String(logging.FieldEventType, "archive_remove_failed"),
				logging.String(logging.FieldImpact, "source file stays in place"),
			)
		}
	}
	doc.Set(ArchivePathField, res.Path)
	doc.Set(ArchiveSHA256Field, res.SHA256)
	doc.Set(ArchiveSizeField, strconv.FormatInt(res.Size, 10))
	logging.WithContext(ctx, p.logger).Debug("archived file",
		logging.String("source", src),
		logging.String("destination", res.Path),
		logging.Int64("size", res.Size),
	)
	return pass(doc)
}
