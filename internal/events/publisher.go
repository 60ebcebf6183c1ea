// Package events provides event publishing functionality.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"voice-risk-service/internal/models"
	"voice-risk-service/internal/observability/metrics"
	"voice-risk-service/internal/schema"
)

// Default topic names.
const (
	DefaultTopicState = "voice.risk.state"
	DefaultTopicAlert = "voice.risk.alert"
)

// Publisher publishes risk events to separate Kafka topics. Audio never
// leaves the service; only scores, labels and alert requests are published.
type Publisher struct {
	writerState *kafka.Writer
	writerAlert *kafka.Writer
	principal   string
	topicState  string
	topicAlert  string
	enabled     bool
	metrics     *metrics.Metrics
	validator   *schema.Validator
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers    []string
	TopicState string
	TopicAlert string
	Principal  string
	Enabled    bool
}

// New creates a new Kafka event publisher with separate topics for risk
// state transitions and alert requests.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics
	v := schema.New()

	// Handle nil config case
	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			topicState: DefaultTopicState,
			topicAlert: DefaultTopicAlert,
			enabled:    false,
			metrics:    m,
			validator:  v,
		}
	}

	topicState, topicAlert := cfg.TopicState, cfg.TopicAlert
	if topicState == "" {
		topicState = DefaultTopicState
	}
	if topicAlert == "" {
		topicAlert = DefaultTopicAlert
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:  cfg.Principal,
			topicState: topicState,
			topicAlert: topicAlert,
			enabled:    false,
			metrics:    m,
			validator:  v,
		}
	}

	// Create a custom dialer with longer timeouts for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicState", topicState).
		Str("topicAlert", topicAlert).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerState: newWriter(cfg.Brokers, topicState, transport),
		writerAlert: newWriter(cfg.Brokers, topicAlert, transport),
		principal:   cfg.Principal,
		topicState:  topicState,
		topicAlert:  topicAlert,
		enabled:     true,
		metrics:     m,
		validator:   v,
	}
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// PublishRiskState publishes a label transition to the state topic, keyed by
// session so one call stays ordered on one partition.
func (p *Publisher) PublishRiskState(ctx context.Context, ev models.RiskStateEvent) error {
	return p.publish(ctx, p.writerState, p.topicState, ev.EventType, ev.SessionID, ev)
}

// PublishAlert publishes a spoken alert or notification request to the alert topic.
func (p *Publisher) PublishAlert(ctx context.Context, ev models.RiskAlertEvent) error {
	return p.publish(ctx, p.writerAlert, p.topicAlert, ev.EventType, ev.SessionID, ev)
}

// publish is the internal method that writes to a specific Kafka writer.
func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	if err := p.validator.Validate(event); err != nil {
		log.Error().Err(err).Str("topic", topic).Str("key", key).Msg("Dropping invalid event")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	// Log the event
	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log
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
	var errs []error
	if p.writerState != nil {
		if e := p.writerState.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing state writer")
			errs = append(errs, e)
		}
	}
	if p.writerAlert != nil {
		if e := p.writerAlert.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing alert writer")
			errs = append(errs, e)
		}
	}
	return errors.Join(errs...)
}
