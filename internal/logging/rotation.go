package logging

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const rotatedPrefix = "ingest-"

// RotateLogFile renames a non-empty <dir>/ingest.log to ingest-<timestamp>.log
// so each daemon run starts a fresh file. The rotated path is returned, or ""
// when there was nothing to rotate.
func RotateLogFile(dir string, now time.Time) (string, error) {
	current := filepath.Join(dir, LogFileName)
	info, err := os.Stat(current)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	if info.Size() == 0 {
		return "", nil
	}
	rotated := filepath.Join(dir, rotatedPrefix+now.UTC().Format("20060102T150405")+".log")
	if err := os.Rename(current, rotated); err != nil {
		return "", err
	}
	return rotated, nil
}

// PruneRotatedLogs deletes rotated ingest-*.log files in dir last modified
// more than retentionDays before now. The live ingest.log is never touched
// and retentionDays <= 0 disables pruning. Removed paths are returned sorted;
// files that could not be removed are reported through the joined error.
func PruneRotatedLogs(dir string, retentionDays int, now time.Time) ([]string, error) {
	if retentionDays <= 0 || strings.TrimSpace(dir) == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	cutoff := now.AddDate(0, 0, -retentionDays)

	var (
		removed []string
		errs    []error
	)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, rotatedPrefix) || filepath.Ext(name) != ".log" {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, path)
	}
	sort.Strings(removed)
	return removed, errors.Join(errs...)
}
