package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	conf "github.com/restockd/restockd/internal/config"
	"github.com/rs/zerolog"
)

// KafkaPublisher publishes events to a single topic, keyed so that
// events about the same subject stay ordered within a partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	log      zerolog.Logger
	topic    string
}

func NewKafkaPublisher(log zerolog.Logger, cfg conf.KafkaConfig) (*KafkaPublisher, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 3
	saramaConfig.Producer.Retry.Backoff = 100 * time.Millisecond
	saramaConfig.Net.DialTimeout = 10 * time.Second
	saramaConfig.Net.ReadTimeout = 10 * time.Second
	saramaConfig.Net.WriteTimeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	log.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("kafka publisher ready")

	return &KafkaPublisher{
		producer: producer,
		log:      log.With().Str("component", "events").Logger(),
		topic:    cfg.Topic,
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, eventType, key string, payload any) error {
	envelope := map[string]any{
		"event_type":  eventType,
		"event_id":    uuid.NewString(),
		"occurred_at": time.Now().UTC().Format(time.RFC3339),
		"version":     1,
		"data":        payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(eventType)},
		},
	}

	partition, offset, err := p.producer.SendMessage(message)
	if err != nil {
		p.log.Error().Err(err).Str("event_type", eventType).Msg("publish failed")
		return fmt.Errorf("publish %s: %w", eventType, err)
	}

	p.log.Info().
		Str("event_type", eventType).
		Str("key", key).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("event published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
