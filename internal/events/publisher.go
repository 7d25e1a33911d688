// Package events publishes transcript block events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"copilot-transcript-service/internal/models"
	"copilot-transcript-service/internal/observability/metrics"
)

// Publisher publishes block events to separate Kafka topics for live updates
// and closed utterances.
type Publisher struct {
	writerUpdated *kafka.Writer
	writerClosed  *kafka.Writer
	principal     string
	topicUpdated  string
	topicClosed   string
	enabled       bool
	metrics       *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicUpdated string
	TopicClosed  string
	Principal    string
	Enabled      bool
}

// New creates a Kafka publisher. Without brokers it runs in log-only mode.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			metrics: m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:    cfg.Principal,
			topicUpdated: cfg.TopicUpdated,
			topicClosed:  cfg.TopicClosed,
			enabled:      false,
			metrics:      m,
		}
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicUpdated", cfg.TopicUpdated).
		Str("topicClosed", cfg.TopicClosed).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerUpdated: newWriter(cfg.TopicUpdated),
		writerClosed:  newWriter(cfg.TopicClosed),
		principal:     cfg.Principal,
		topicUpdated:  cfg.TopicUpdated,
		topicClosed:   cfg.TopicClosed,
		enabled:       true,
		metrics:       m,
	}
}

// Publish routes a block event by type: closed blocks go to the closed topic,
// everything else to the update topic.
func (p *Publisher) Publish(ctx context.Context, ev models.BlockEvent) error {
	if ev.EventType == models.EventBlockClosed {
		return p.PublishClosed(ctx, ev)
	}
	return p.PublishUpdate(ctx, ev)
}

// PublishUpdate publishes an opened, updated or reset event.
func (p *Publisher) PublishUpdate(ctx context.Context, ev models.BlockEvent) error {
	return p.publish(ctx, p.writerUpdated, p.topicUpdated, ev.EventType, ev.SessionID, ev)
}

// PublishClosed publishes a closed-block event.
func (p *Publisher) PublishClosed(ctx context.Context, ev models.BlockEvent) error {
	return p.publish(ctx, p.writerClosed, p.topicClosed, ev.EventType, ev.SessionID, ev)
}

// Enabled reports whether events reach Kafka.
func (p *Publisher) Enabled() bool {
	return p.enabled
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerUpdated != nil {
		if e := p.writerUpdated.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing update writer")
			err = e
		}
	}
	if p.writerClosed != nil {
		if e := p.writerClosed.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing closed-block writer")
			err = e
		}
	}
	return err
}
