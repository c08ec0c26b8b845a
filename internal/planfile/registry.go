package planfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"

	"ingest/internal/config"
	"ingest/internal/document"
	"ingest/internal/logging"
	"ingest/internal/notifications"
	"ingest/internal/pipeline"
	"ingest/internal/processors"
	"ingest/internal/services"
)

// ProcessorFactory builds a processor for one stage.
type ProcessorFactory func(ctx context.Context, def ProcessorDef, stage pipeline.StageConfig) (pipeline.DocumentProcessor, error)

// RouterFactory builds a router for one stage.
type RouterFactory func(def RouterDef) (pipeline.Router, error)

// Registry maps processor, router and cloner kinds to implementations.
type Registry struct {
	cfg        *config.Config
	logger     *slog.Logger
	processors map[string]ProcessorFactory
	routers    map[string]RouterFactory
	cloners    map[string]document.Cloner

	notifier notifications.Service

	s3Once   sync.Once
	s3Client processors.ObjectPutter
	s3Err    error
}

// NewRegistry returns a registry with every built-in kind. cfg supplies S3
// and Kafka connection settings for the sink processors.
func NewRegistry(cfg *config.Config, logger *slog.Logger) *Registry {
	r := &Registry{
		cfg:        cfg,
		logger:     logger,
		processors: make(map[string]ProcessorFactory),
		routers:    make(map[string]RouterFactory),
		cloners: map[string]document.Cloner{
			"":     document.DeepCloner{},
			"deep": document.DeepCloner{},
			"json": document.JSONCloner{},
		},
	}
	r.RegisterProcessor("warning", func(_ context.Context, _ ProcessorDef, sc pipeline.StageConfig) (pipeline.DocumentProcessor, error) {
		return pipeline.NewWarningProcessor(sc.Logger), nil
	})
	r.RegisterProcessor("set_field", func(_ context.Context, d ProcessorDef, sc pipeline.StageConfig) (pipeline.DocumentProcessor, error) {
		return processors.NewSetField(sc.Name, d.Field, d.Values, d.Append)
	})
	r.RegisterProcessor("copy_field", func(_ context.Context, d ProcessorDef, sc pipeline.StageConfig) (pipeline.DocumentProcessor, error) {
		return processors.NewCopyField(sc.Name, d.From, d.To, d.Move)
	})
	r.RegisterProcessor("truncate", func(_ context.Context, d ProcessorDef, sc pipeline.StageConfig) (pipeline.DocumentProcessor, error) {
		return processors.NewTruncate(sc.Name, d.Length, d.Suffix)
	})
	r.RegisterProcessor("keywords", func(_ context.Context, d ProcessorDef, sc pipeline.StageConfig) (pipeline.DocumentProcessor, error) {
		return processors.NewKeywords(sc.Name, d.Field, d.Length, d.Values), nil
	})
	r.RegisterProcessor("drop", func(_ context.Context, d ProcessorDef, sc pipeline.StageConfig) (pipeline.DocumentProcessor, error) {
		return processors.NewDrop(sc.Name, d.Reason), nil
	})
	r.RegisterProcessor("mark_status", func(_ context.Context, d ProcessorDef, sc pipeline.StageConfig) (pipeline.DocumentProcessor, error) {
		status, ok := document.ParseStatus(d.Status)
		if !ok {
			return nil, fmt.Errorf("mark_status: status is required")
		}
		return processors.NewMarkStatus(sc.Name, status, d.Reason)
	})
	r.RegisterProcessor("s3_store", r.newS3Store)
	r.RegisterProcessor("kafka_publish", r.newKafkaPublish)
	r.RegisterProcessor("archive_file", func(_ context.Context, d ProcessorDef, sc pipeline.StageConfig) (pipeline.DocumentProcessor, error) {
		dir := d.Dir
		if dir != "" {
			expanded, err := config.ExpandPath(dir)
			if err != nil {
				return nil, fmt.Errorf("archive_file: %w", err)
			}
			dir = expanded
		} else if r.cfg != nil {
			dir = filepath.Join(r.cfg.Paths.DataDir, "archive")
		}
		return processors.NewArchiveFile(sc.Name, dir, d.Field, d.Move, sc.Logger)
	})
	r.RegisterProcessor("notify", r.newNotify)

	r.RegisterRouter("field", func(d RouterDef) (pipeline.Router, error) {
		return pipeline.ByField{Field: d.Field}, nil
	})
	r.RegisterRouter("all", func(RouterDef) (pipeline.Router, error) {
		return pipeline.All{}, nil
	})
	r.RegisterRouter("round_robin", func(RouterDef) (pipeline.Router, error) {
		return &pipeline.RoundRobin{}, nil
	})
	return r
}

// RegisterProcessor adds or replaces a processor kind.
func (r *Registry) RegisterProcessor(kind string, factory ProcessorFactory) {
	r.processors[normalizeKind(kind)] = factory
}

// RegisterRouter adds or replaces a router kind.
func (r *Registry) RegisterRouter(kind string, factory RouterFactory) {
	r.routers[normalizeKind(kind)] = factory
}

// ProcessorKinds lists the registered processor kinds in sorted order.
func (r *Registry) ProcessorKinds() []string {
	kinds := make([]string, 0, len(r.processors))
	for kind := range r.processors {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

func (r *Registry) processor(ctx context.Context, def ProcessorDef, sc pipeline.StageConfig) (pipeline.DocumentProcessor, error) {
	kind := normalizeKind(def.Kind)
	if kind == "" {
		// No processor: the stage builder installs the warning processor.
		return nil, nil
	}
	factory, ok := r.processors[kind]
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, sc.Name, "processor",
			fmt.Sprintf("unknown processor kind %q (known: %s)", def.Kind, strings.Join(r.ProcessorKinds(), ", ")), nil)
	}
	return factory(ctx, def, sc)
}

func (r *Registry) router(def RouterDef, stage string) (pipeline.Router, error) {
	kind := normalizeKind(def.Kind)
	if kind == "" {
		if def.Field == "" {
			return nil, nil
		}
		kind = "field"
	}
	factory, ok := r.routers[kind]
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, stage, "router", fmt.Sprintf("unknown router kind %q", def.Kind), nil)
	}
	return factory(def)
}

func (r *Registry) cloner(kind, stage string) (document.Cloner, error) {
	c, ok := r.cloners[normalizeKind(kind)]
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, stage, "cloner", fmt.Sprintf("unknown cloner %q", kind), nil)
	}
	return c, nil
}

// SetS3Client overrides the client used by s3_store stages.
func (r *Registry) SetS3Client(client processors.ObjectPutter) {
	r.s3Once.Do(func() {})
	r.s3Client, r.s3Err = client, nil
}

// DryRun makes s3_store and notify stages use clients that refuse every
// write, so a plan can be built and inspected without reaching the object
// store or the notification topic.
func (r *Registry) DryRun() {
	r.SetS3Client(dryRunPutter{})
	r.SetNotifier(dryRunNotifier{})
}

type dryRunNotifier struct{}

func (dryRunNotifier) Send(context.Context, notifications.Message) error {
	return errors.New("notifications disabled in dry run")
}

type dryRunPutter struct{}

func (dryRunPutter) PutObject(context.Context, string, string, io.Reader, int64, minio.PutObjectOptions) (minio.UploadInfo, error) {
	return minio.UploadInfo{}, errors.New("object store disabled in dry run")
}

func (r *Registry) newS3Store(ctx context.Context, d ProcessorDef, sc pipeline.StageConfig) (pipeline.DocumentProcessor, error) {
	var s3cfg config.S3
	if r.cfg != nil {
		s3cfg = r.cfg.S3
	}
	r.s3Once.Do(func() {
		r.s3Client, r.s3Err = processors.NewS3Client(ctx, s3cfg)
	})
	if r.s3Err != nil {
		return nil, r.s3Err
	}
	bucket := d.Bucket
	if bucket == "" {
		bucket = s3cfg.Bucket
	}
	return processors.NewS3Store(sc.Name, r.s3Client, bucket, d.Prefix, sc.Logger)
}

func (r *Registry) newKafkaPublish(_ context.Context, d ProcessorDef, sc pipeline.StageConfig) (pipeline.DocumentProcessor, error) {
	var brokers []string
	if r.cfg != nil {
		brokers = r.cfg.Kafka.Brokers
	}
	factory, err := processors.KafkaWriterFactory(brokers, d.Topic)
	if err != nil {
		return nil, err
	}
	return processors.NewKafkaPublish(sc.Name, d.Topic, factory)
}

func (r *Registry) newNotify(_ context.Context, d ProcessorDef, sc pipeline.StageConfig) (pipeline.DocumentProcessor, error) {
	svc := r.notifier
	if d.Topic != "" {
		var timeout time.Duration
		if r.cfg != nil {
			timeout = r.cfg.NtfyTimeout()
		}
		svc = notifications.NewNtfy(d.Topic, timeout)
	}
	if svc == nil {
		svc = notifications.NewService(r.cfg)
	}
	return processors.NewNotify(sc.Name, svc, d.Title, d.Field, d.Priority)
}

// SetNotifier overrides the service used by notify stages that do not name
// their own topic.
func (r *Registry) SetNotifier(svc notifications.Service) {
	r.notifier = svc
}

func normalizeKind(kind string) string {
	kind = strings.ToLower(strings.TrimSpace(kind))
	return strings.ReplaceAll(kind, "-", "_")
}

func (r *Registry) stageLogger(stage string) *slog.Logger {
	var overrides map[string]string
	if r.cfg != nil {
		overrides = r.cfg.Logging.StageOverrides
	}
	return logging.ForStage(r.logger, overrides, stage)
}
