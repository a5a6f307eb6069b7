package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Producer handles Kafka event emission
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	requiredAcks := kafka.RequiredAcks(cfg.RequiredAcks)

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           requiredAcks,
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// DedupEvent represents a duplicate-detection lifecycle event
type DedupEvent struct {
	EventType   string          `json:"event_type"` // pair.detected, pair.ignored, lead.merged, lead.ingested
	PairID      string          `json:"pair_id,omitempty"`
	LeadID      string          `json:"lead_id,omitempty"`
	PrimaryID   string          `json:"primary_id,omitempty"`
	DuplicateID string          `json:"duplicate_id,omitempty"`
	Confidence  int             `json:"confidence,omitempty"`
	RiskLevel   string          `json:"risk_level,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Actor       string          `json:"actor,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// key picks the partitioning key so events about the same lead stay ordered
func (e *DedupEvent) key() []byte {
	if e.LeadID != "" {
		return []byte(e.LeadID)
	}
	if e.PrimaryID != "" {
		return []byte(e.PrimaryID)
	}
	return []byte(e.PairID)
}

// PublishDedupEvent publishes a dedup event to Kafka
func (p *Producer) PublishDedupEvent(ctx context.Context, event *DedupEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishDedupEvent")
	defer span.End()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   event.key(),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "schema_version", Value: []byte("1.0")},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to publish dedup event")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type": event.EventType,
		"pair_id":    event.PairID,
		"lead_id":    event.LeadID,
	}).Debug("Published dedup event")

	return nil
}

// PublishDedupEvents publishes multiple dedup events in a batch
func (p *Producer) PublishDedupEvents(ctx context.Context, events []*DedupEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishDedupEvents")
	defer span.End()

	if len(events) == 0 {
		return nil
	}

	messages := make([]kafka.Message, len(events))
	for i, event := range events {
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now().UTC()
		}

		data, err := json.Marshal(event)
		if err != nil {
			return err
		}

		messages[i] = kafka.Message{
			Topic: p.topic,
			Key:   event.key(),
			Value: data,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(event.EventType)},
				{Key: "schema_version", Value: []byte("1.0")},
			},
		}
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"batch_size": len(events),
		}).Error("Failed to publish dedup events batch")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_size": len(events),
	}).Debug("Published dedup events batch")

	return nil
}
