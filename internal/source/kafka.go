package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"ingest/internal/config"
	"ingest/internal/document"
	"ingest/internal/logging"
	"ingest/internal/services"
)

// Kafka metadata fields set on consumed documents.
const (
	FieldKafkaTopic     = "kafka_topic"
	FieldKafkaPartition = "kafka_partition"
	FieldKafkaOffset    = "kafka_offset"
)

const defaultReadBackoff = time.Second

// KafkaReader defines the interface for a Kafka message reader.
// This allows for easy mocking in unit tests.
type KafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka consumes a topic and submits each message as a document. Offsets are
// committed only after the entry stage accepted the document.
type Kafka struct {
	reader  KafkaReader
	topic   string
	entry   string
	plan    Submitter
	logger  *slog.Logger
	backoff time.Duration
}

// NewKafkaReader creates a consumer-group reader with manual commits.
func NewKafkaReader(cfg config.Kafka) (*kafka.Reader, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
		return nil, services.Wrap(services.ErrConfiguration, "kafka", "reader", "brokers, topic and group_id are required", nil)
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		CommitInterval: 0,
		MinBytes:       1,
		MaxBytes:       10e6,
	}), nil
}

// NewKafka returns a source reading from reader into the entry stage.
func NewKafka(reader KafkaReader, topic, entry string, plan Submitter, logger *slog.Logger) (*Kafka, error) {
	if reader == nil || plan == nil {
		return nil, errors.New("kafka source: reader and plan are required")
	}
	if strings.TrimSpace(entry) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "kafka", "source", "entry_stage is required", nil)
	}
	return &Kafka{
		reader:  reader,
		topic:   topic,
		entry:   entry,
		plan:    plan,
		logger:  logging.NewComponentLogger(logger, "kafka-source").With(logging.String("topic", topic)),
		backoff: defaultReadBackoff,
	}, nil
}

func (k *Kafka) Name() string { return "kafka:" + k.topic }

// Run consumes until ctx is cancelled or the reader is closed, then closes
// the reader.
func (k *Kafka) Run(ctx context.Context) error {
	defer func() {
		if err := k.reader.Close(); err != nil {
			k.logger.Warn("failed to close kafka reader", logging.Error(err))
		}
	}()
	k.logger.Info("kafka source started", logging.String("entry_stage", k.entry))

	for {
		msg, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				k.logger.Info("kafka source stopped")
				return nil
			}
			logging.WarnWithContext(k.logger, "kafka read failed; retrying", "kafka_read_failed",
				logging.Error(err),
				logging.Duration("backoff", k.backoff),
				logging.String(logging.FieldErrorHint, "check broker connectivity"),
			)
			select {
			case <-time.After(k.backoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		doc := DocumentFromMessage(msg)
		if err := k.plan.Submit(ctx, k.entry, doc); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("submit %s: %w", doc.ID(), err)
		}
		if err := k.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logging.WarnWithContext(k.logger, "kafka commit failed", "kafka_commit_failed",
				logging.String(logging.FieldDocumentID, doc.ID()),
				logging.Int64("offset", msg.Offset),
				logging.Error(err),
				logging.String(logging.FieldImpact, "message may be delivered again after a restart"),
			)
			continue
		}
		k.logger.Debug("message submitted",
			logging.String(logging.FieldDocumentID, doc.ID()),
			logging.Int("partition", msg.Partition),
			logging.Int64("offset", msg.Offset),
		)
	}
}

// DocumentFromMessage decodes a message value that holds an encoded document.
// Any other value becomes the payload of a new document keyed by the message key.
func DocumentFromMessage(msg kafka.Message) *document.Document {
	var doc *document.Document
	if looksLikeDocument(msg.Value) {
		var decoded document.Document
		if err := json.Unmarshal(msg.Value, &decoded); err == nil {
			doc = &decoded
		}
	}
	if doc == nil {
		doc = document.New(string(msg.Key), "kafka:"+msg.Topic, msg.Value)
	}
	doc.Set(FieldKafkaTopic, msg.Topic)
	doc.Set(FieldKafkaPartition, strconv.Itoa(msg.Partition))
	doc.Set(FieldKafkaOffset, strconv.FormatInt(msg.Offset, 10))
	return doc
}

func looksLikeDocument(value []byte) bool {
	var probe struct {
		ID *string `json:"id"`
	}
	if err := json.Unmarshal(value, &probe); err != nil {
		return false
	}
	return probe.ID != nil && *probe.ID != ""
}
