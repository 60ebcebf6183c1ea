package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"voice-risk-service/internal/models"
)

// Envelope is one decoded risk event read back from Kafka.
type Envelope struct {
	Topic     string                 `json:"topic"`
	EventType string                 `json:"eventType"`
	SessionID string                 `json:"sessionId"`
	State     *models.RiskStateEvent `json:"state,omitempty"`
	Alert     *models.RiskAlertEvent `json:"alert,omitempty"`
}

// Decode turns a Kafka message from the state or alert topic into an
// Envelope. The eventType header wins over the payload field.
func Decode(msg kafka.Message) (Envelope, error) {
	var probe struct {
		EventType string `json:"eventType"`
	}
	if err := json.Unmarshal(msg.Value, &probe); err != nil {
		return Envelope{}, fmt.Errorf("decode %s: %w", msg.Topic, err)
	}
	eventType := probe.EventType
	for _, h := range msg.Headers {
		if h.Key == "eventType" && len(h.Value) > 0 {
			eventType = string(h.Value)
		}
	}

	env := Envelope{Topic: msg.Topic, EventType: eventType, SessionID: string(msg.Key)}
	switch eventType {
	case models.EventRiskState:
		var ev models.RiskStateEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			return Envelope{}, fmt.Errorf("decode %s: %w", eventType, err)
		}
		env.State = &ev
		env.SessionID = ev.SessionID
	case models.EventRiskAlert:
		var ev models.RiskAlertEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			return Envelope{}, fmt.Errorf("decode %s: %w", eventType, err)
		}
		env.Alert = &ev
		env.SessionID = ev.SessionID
	default:
		return Envelope{}, fmt.Errorf("unknown event type %q on %s", eventType, msg.Topic)
	}
	return env, nil
}

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers  []string
	Topics   []string
	Lookback time.Duration // replay window on start; zero reads new messages only
}

// Consumer reads risk events from partition 0 of each topic.
type Consumer struct {
	cfg ConsumerConfig
	log zerolog.Logger
}

// NewConsumer creates a consumer for the configured topics.
func NewConsumer(cfg ConsumerConfig, log zerolog.Logger) *Consumer {
	if len(cfg.Topics) == 0 {
		cfg.Topics = []string{DefaultTopicState, DefaultTopicAlert}
	}
	return &Consumer{cfg: cfg, log: log}
}

// Run reads every topic until ctx is cancelled, passing decoded events to
// handle. Undecodable messages are logged and skipped.
func (c *Consumer) Run(ctx context.Context, handle func(Envelope)) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, topic := range c.cfg.Topics {
		g.Go(func() error {
			return c.consume(gctx, topic, handle)
		})
	}
	return g.Wait()
}

func (c *Consumer) consume(ctx context.Context, topic string, handle func(Envelope)) error {
	// Partition reader without a consumer group works through port-forwards.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   c.cfg.Brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if c.cfg.Lookback > 0 {
		if err := reader.SetOffsetAt(ctx, time.Now().Add(-c.cfg.Lookback)); err != nil {
			c.log.Warn().Err(err).Str("topic", topic).Msg("Could not rewind, reading latest")
		}
	} else if err := reader.SetOffset(kafka.LastOffset); err != nil {
		return fmt.Errorf("seek %s: %w", topic, err)
	}

	c.log.Info().Str("topic", topic).Dur("lookback", c.cfg.Lookback).Msg("Consuming risk events")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.log.Warn().Err(err).Str("topic", topic).Msg("Kafka read error")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		env, err := Decode(msg)
		if err != nil {
			c.log.Warn().Err(err).Int64("offset", msg.Offset).Msg("Skipping undecodable event")
			continue
		}
		handle(env)
	}
}
