package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/smallbiznis/leakradar/internal/config"
	"github.com/smallbiznis/leakradar/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	outcomePublished = "published"
	outcomeFailed    = "failed"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher keys messages by organization so one tenant's events stay ordered.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewKafkaPublisher(cfg config.KafkaConfig, m *metrics.Metrics, log *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: false,
	}
	return newKafkaPublisher(writer, cfg.WriteTimeout, m, log)
}

func newKafkaPublisher(writer messageWriter, timeout time.Duration, m *metrics.Metrics, log *zap.Logger) *KafkaPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KafkaPublisher{writer: writer, timeout: timeout, metrics: m, log: log.Named("events.kafka")}
}

func (p *KafkaPublisher) PublishScanCompleted(ctx context.Context, event ScanCompleted) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.EventType, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.OrgID),
		Value: payload,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "event_id", Value: []byte(event.EventID)},
		},
	})
	if err != nil {
		p.metrics.RecordEventPublished(ctx, event.EventType, outcomeFailed)
		return fmt.Errorf("publish %s: %w", event.EventType, err)
	}
	p.metrics.RecordEventPublished(ctx, event.EventType, outcomePublished)
	p.log.Debug("event.published",
		zap.String("event_type", event.EventType),
		zap.String("event_id", event.EventID),
		zap.String("org_id", event.OrgID),
	)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NewPublisher picks kafka when brokers and a topic are configured.
func NewPublisher(lc fx.Lifecycle, cfg config.Config, m *metrics.Metrics, log *zap.Logger) Publisher {
	if !cfg.Kafka.Enabled() {
		log.Info("kafka disabled; scan events are not published")
		return NoopPublisher{}
	}
	publisher := NewKafkaPublisher(cfg.Kafka, m, log)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return publisher.Close() },
	})
	log.Info("kafka publisher configured",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
	)
	return publisher
}

var Module = fx.Module("events",
	fx.Provide(NewPublisher),
)
