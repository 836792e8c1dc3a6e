package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
)

// ProducerConfig holds Kafka producer configuration.
type ProducerConfig struct {
	Brokers      []string
	BatchSize    int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	Async        bool

	// Registerer receives the producer metrics; nil shares the default registry.
	Registerer prometheus.Registerer
}

// DefaultProducerConfig favors low latency over batching.
func DefaultProducerConfig(brokers []string) ProducerConfig {
	return ProducerConfig{
		Brokers:      brokers,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes event envelopes.
type Producer struct {
	writer  messageWriter
	brokers []string
	logger  *slog.Logger
	metrics *producerMetrics
}

// NewProducer creates a producer. Brokers are dialed lazily on first write.
// Messages are hash-partitioned by key.
func NewProducer(cfg ProducerConfig, logger *slog.Logger) *Producer {
	return newProducer(&kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Async:        cfg.Async,
		RequiredAcks: kafka.RequireAll,
	}, cfg, logger)
}

func newProducer(w messageWriter, cfg ProducerConfig, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := defaultProducerMetrics()
	if cfg.Registerer != nil {
		metrics = newProducerMetrics(cfg.Registerer)
	}
	return &Producer{writer: w, brokers: cfg.Brokers, logger: logger, metrics: metrics}
}

// Publish writes event to topic with the trace context of ctx in its headers.
func (p *Producer) Publish(ctx context.Context, topic string, event *Event) error {
	msg, err := event.Message(topic)
	if err != nil {
		return err
	}
	InjectTraceContext(ctx, &msg)

	start := time.Now()
	err = p.writer.WriteMessages(ctx, msg)
	p.metrics.duration.WithLabelValues(topic).Observe(time.Since(start).Seconds())
	if err != nil {
		p.metrics.failed.WithLabelValues(topic).Inc()
		p.logger.ErrorContext(ctx, "failed to publish event",
			slog.String("topic", topic),
			slog.String("event_type", event.EventType),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("publish event to %s: %w", topic, err)
	}
	p.metrics.published.WithLabelValues(topic).Inc()

	p.logger.DebugContext(ctx, "event published",
		slog.String("topic", topic),
		slog.String("event_id", event.EventID),
		slog.String("aggregate_id", event.AggregateID),
	)
	return nil
}

// Ping reports whether any configured broker answers a metadata request.
func (p *Producer) Ping(ctx context.Context) error {
	return PingBrokers(ctx, p.brokers)
}

// PingBrokers dials brokers in order until one answers.
func PingBrokers(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return errors.New("kafka: no brokers configured")
	}

	var errs []error
	for _, addr := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		_, err = conn.Brokers()
		_ = conn.Close()
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("kafka: no broker reachable: %w", errors.Join(errs...))
}

// Close flushes pending messages and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
