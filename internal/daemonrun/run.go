// Package daemonrun bootstraps the ingest daemon process: logging, history,
// plan, sources and signal handling.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"ingest/internal/config"
	"ingest/internal/daemon"
	"ingest/internal/history"
	"ingest/internal/logging"
	"ingest/internal/notifications"
	"ingest/internal/pipeline"
	"ingest/internal/planfile"
	"ingest/internal/preflight"
	"ingest/internal/report"
	"ingest/internal/services"
	"ingest/internal/source"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
	// Once runs the directory scanner, waits for the plan to drain and exits.
	Once bool
	// Logger replaces the configured logger; tests use it.
	Logger *slog.Logger
	// ExitFunc replaces os.Exit for fatal worker errors; tests use it.
	ExitFunc func(int)
	// Notifier replaces the ntfy service built from the config.
	Notifier notifications.Service
}

// Run starts the ingest daemon and blocks until SIGINT/SIGTERM, ctx
// cancellation or, in Once mode, until the scanned documents have drained.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := newLogger(cfg, opts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logging.WithRunID(logger, uuid.NewString())
	pruned, err := logging.PruneRotatedLogs(cfg.Paths.LogDir, cfg.Logging.RetentionDays, time.Now())
	if err != nil {
		logging.WarnWithContext(logger, "log retention incomplete", "log_retention_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check file permissions and log_dir ownership"),
			logging.String(logging.FieldImpact, "old log files remain on disk"),
		)
	}
	if len(pruned) > 0 {
		logger.Info("rotated logs pruned",
			logging.String(logging.FieldEventType, "log_pruned"),
			logging.Int("files", len(pruned)),
		)
	}

	if failed := preflight.Failed(preflight.RunAll(signalCtx, cfg)); len(failed) > 0 {
		for _, r := range failed {
			logging.ErrorWithContext(logger, "preflight check failed", "preflight_failed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
				logging.String(logging.FieldErrorHint, "fix the reported path or service and restart"),
			)
		}
		return services.Wrap(services.ErrConfiguration, "daemon", "preflight", fmt.Sprintf("%d check(s) failed, first: %s: %s", len(failed), failed[0].Name, failed[0].Detail), nil)
	}

	var (
		store    history.Store
		reporter report.Reporter = report.NewLogReporter(logger)
	)
	if history.Enabled(cfg) {
		store, err = history.Open(signalCtx, cfg)
		if err != nil {
			logger.Error("open history store", logging.Error(err))
			return err
		}
		reporter = report.NewStoreReporter(store, logger, report.WithRecordTimeout(cfg.RecordTimeout()))
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	registry := planfile.NewRegistry(cfg, logger)
	registry.SetNotifier(notifier)
	plan, def, err := planfile.LoadPlan(signalCtx, cfg.Paths.PlanFile, planfile.Options{
		Config:   cfg,
		Reporter: reporter,
		Registry: registry,
		ExitFunc: opts.ExitFunc,
	})
	if err != nil {
		closeStore(store, logger)
		if services.IsFatalConfiguration(err) {
			logging.ErrorWithContext(logger, "plan rejected", "plan_invalid",
				logging.String("plan_file", cfg.Paths.PlanFile),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "run 'ingest plan validate' for details"),
			)
		}
		return fmt.Errorf("load plan: %w", err)
	}
	logger.Info("plan loaded",
		logging.String(logging.FieldEventType, "plan_loaded"),
		logging.String("plan", def.Name),
		logging.Int("stages", len(plan.Stages())),
		logging.Strings("side_effect_stages", sideEffectStages(plan)),
	)

	sources, err := buildSources(cfg, plan, logger, opts.Once)
	if err != nil {
		closeStore(store, logger)
		return err
	}

	d, err := daemon.New(cfg, plan, store, logger, sources...)
	if err != nil {
		closeStore(store, logger)
		return fmt.Errorf("create daemon: %w", err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Warn("daemon shutdown reported errors", logging.Error(err))
		}
	}()

	if err := d.Start(signalCtx); err != nil {
		return err
	}

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	if cfg.Notifications.OnStart {
		notify(signalCtx, notifier, logger, notifications.DaemonStarted(def.Name, len(plan.Stages()), sourceNames(sources)))
	}

	if opts.Once {
		started := time.Now()
		err := drain(signalCtx, d, logger)
		switch {
		case err != nil && cfg.Notifications.OnError:
			notify(signalCtx, notifier, logger, notifications.Failure("plan "+def.Name, err))
		case err == nil && cfg.Notifications.OnDrain:
			notify(signalCtx, notifier, logger, notifications.PlanDrained(def.Name, time.Since(started)))
		}
		return err
	}

	if cfg.Notifications.OnError {
		go func() {
			if err := d.WaitSources(signalCtx); err != nil && !errors.Is(err, context.Canceled) {
				notify(context.WithoutCancel(signalCtx), notifier, logger, notifications.Failure("document sources", err))
			}
		}()
	}

	<-signalCtx.Done()
	logger.Info("ingest daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func drain(ctx context.Context, d *daemon.Daemon, logger *slog.Logger) error {
	started := time.Now()
	sourceErr := d.WaitSources(ctx)
	if errors.Is(sourceErr, context.Canceled) {
		return nil
	}
	if err := d.WaitIdle(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	logger.Info("plan drained",
		logging.String(logging.FieldEventType, "plan_drained"),
		logging.Duration("elapsed", time.Since(started)),
	)
	return sourceErr
}

func newLogger(cfg *config.Config, opts Options) (*slog.Logger, error) {
	if opts.Logger != nil {
		return opts.Logger, nil
	}
	if _, err := logging.RotateLogFile(cfg.Paths.LogDir, time.Now()); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to rotate log file: %v\n", err)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		copyCfg := *cfg
		copyCfg.Logging.Level = level
		return logging.NewFromConfig(&copyCfg)
	}
	return logging.NewFromConfig(cfg)
}

func buildSources(cfg *config.Config, plan *pipeline.Plan, logger *slog.Logger, once bool) ([]source.Source, error) {
	var sources []source.Source
	if cfg.Scanner.Enabled {
		scanner, err := source.NewScanner(cfg.Scanner.Dir, cfg.Scanner.Pattern, cfg.Scanner.EntryStage, plan, logger)
		if err != nil {
			return nil, err
		}
		sources = append(sources, scanner)
	}
	if cfg.Kafka.Enabled {
		if once {
			logger.Info("kafka source skipped in once mode", logging.String("topic", cfg.Kafka.Topic))
		} else {
			reader, err := source.NewKafkaReader(cfg.Kafka)
			if err != nil {
				return nil, err
			}
			kafkaSource, err := source.NewKafka(reader, cfg.Kafka.Topic, cfg.Kafka.EntryStage, plan, logger)
			if err != nil {
				_ = reader.Close()
				return nil, err
			}
			sources = append(sources, kafkaSource)
		}
	}
	if len(sources) == 0 {
		logging.WarnWithContext(logger, "no document sources enabled", "no_sources",
			logging.String(logging.FieldErrorHint, "enable [scanner] or [kafka] in the config"),
			logging.String(logging.FieldImpact, "the plan will stay idle"),
		)
	}
	return sources, nil
}

func sideEffectStages(plan *pipeline.Plan) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, entry := range plan.Entries() {
		for _, st := range entry.PossibleSideEffects() {
			if _, ok := seen[st.Name()]; ok {
				continue
			}
			seen[st.Name()] = struct{}{}
			names = append(names, st.Name())
		}
	}
	return names
}

func sourceNames(sources []source.Source) []string {
	names := make([]string, 0, len(sources))
	for _, src := range sources {
		names = append(names, src.Name())
	}
	return names
}

// notify delivers msg, logging rather than returning failures.
func notify(ctx context.Context, svc notifications.Service, logger *slog.Logger, msg notifications.Message) {
	if !notifications.Enabled(svc) {
		return
	}
	if err := svc.Send(context.WithoutCancel(ctx), msg); err != nil {
		logging.WarnWithContext(logger, "notification failed", "notification_failed",
			logging.String("title", msg.Title),
			logging.Error(err),
			logging.String(logging.FieldImpact, "notification not delivered"),
		)
	}
}

func closeStore(store history.Store, logger *slog.Logger) {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		logger.Warn("close history store", logging.Error(err))
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
