package logging

import (
	"context"
	"log/slog"
	"strings"
)

// minLevelHandler drops records below min before they reach next. Loggers
// derived through With or WithGroup keep the same floor.
type minLevelHandler struct {
	next slog.Handler
	min  slog.Level
}

func (h *minLevelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.min && h.next.Enabled(ctx, level)
}

func (h *minLevelHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level < h.min {
		return nil
	}
	return h.next.Handle(ctx, record)
}

func (h *minLevelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &minLevelHandler{next: h.next.WithAttrs(attrs), min: h.min}
}

func (h *minLevelHandler) WithGroup(name string) slog.Handler {
	return &minLevelHandler{next: h.next.WithGroup(name), min: h.min}
}

func (h *minLevelHandler) withFloor(level slog.Level) slog.Handler {
	return &minLevelHandler{next: h.next, min: level}
}

// floorSetter is implemented by handlers that carry or wrap a level floor.
type floorSetter interface {
	withFloor(level slog.Level) slog.Handler
}

// withMinLevel replaces any floor already on handler, so a stage override can
// lower the global level as well as raise it.
func withMinLevel(handler slog.Handler, level slog.Level) slog.Handler {
	if handler == nil {
		return NoopHandler{}
	}
	if setter, ok := handler.(floorSetter); ok {
		return setter.withFloor(level)
	}
	return &minLevelHandler{next: handler, min: level}
}

// ForStage returns the logger a stage worker should start from: when
// overrides name the stage, it is held to that minimum level instead of the
// global one.
func ForStage(logger *slog.Logger, overrides map[string]string, stage string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if level, ok := overrides[stage]; ok && strings.TrimSpace(level) != "" {
		return slog.New(withMinLevel(logger.Handler(), ParseLevel(level)))
	}
	return logger
}
