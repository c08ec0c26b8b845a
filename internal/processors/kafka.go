package processors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/segmentio/kafka-go"

	"ingest/internal/document"
	"ingest/internal/services"
)

// MessageWriter is the part of *kafka.Writer KafkaPublish needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// WriterFactory opens a MessageWriter.
type WriterFactory func() (MessageWriter, error)

// KafkaPublish publishes every document as a JSON message keyed by document
// id. The writer is opened on first use and closed with the stage, so a
// reactivated stage publishes through a fresh writer.
type KafkaPublish struct {
	name      string
	topic     string
	newWriter WriterFactory

	mu     sync.Mutex
	writer MessageWriter
}

// KafkaWriterFactory returns a factory producing to topic on brokers.
func KafkaWriterFactory(brokers []string, topic string) (WriterFactory, error) {
	if len(brokers) == 0 || strings.TrimSpace(topic) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "kafka", "writer", "brokers and topic are required", nil)
	}
	brokers = append([]string(nil), brokers...)
	return func() (MessageWriter, error) {
		return &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		}, nil
	}, nil
}

// NewKafkaPublish returns a publisher using writers from newWriter. topic is
// only used in error messages.
func NewKafkaPublish(name, topic string, newWriter WriterFactory) (*KafkaPublish, error) {
	if newWriter == nil {
		return nil, errors.New("kafka_publish: writer factory is required")
	}
	return &KafkaPublish{name: name, topic: topic, newWriter: newWriter}, nil
}

func (p *KafkaPublish) Name() string { return p.name }

func (p *KafkaPublish) HasExternalSideEffects() bool { return true }

// Close flushes and closes the current writer, if any.
func (p *KafkaPublish) Close() error {
	p.mu.Lock()
	w := p.writer
	p.writer = nil
	p.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}

func (p *KafkaPublish) currentWriter() (MessageWriter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer == nil {
		w, err := p.newWriter()
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, p.name, "open writer", p.topic, err)
		}
		p.writer = w
	}
	return p.writer, nil
}

func (p *KafkaPublish) ProcessDocument(ctx context.Context, doc *document.Document) ([]*document.Document, error) {
	value, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	w, err := p.currentWriter()
	if err != nil {
		return nil, err
	}
	msg := kafka.Message{
		Key:   []byte(doc.ID()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "source", Value: []byte(doc.Source())},
			{Key: "status", Value: []byte(doc.Status())},
		},
	}
	if err := w.WriteMessages(ctx, msg); err != nil {
		return nil, services.Wrap(services.ErrTransient, p.name, "publish", p.topic, err)
	}
	return pass(doc)
}
