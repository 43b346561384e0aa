package kafka

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
	"github.com/practice-ranking/internal/config"
	"github.com/practice-ranking/internal/domain"
)

// Publisher writes practice records to the ingestion topic
type Publisher struct {
	topic    string
	producer sarama.SyncProducer
	logger   *slog.Logger
}

// NewPublisher creates a synchronous producer for the configured topic
func NewPublisher(cfg *config.KafkaConfig, logger *slog.Logger) (*Publisher, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating producer: %w", err)
	}
	return newPublisher(cfg.Topic, producer, logger), nil
}

func newPublisher(topic string, producer sarama.SyncProducer, logger *slog.Logger) *Publisher {
	return &Publisher{topic: topic, producer: producer, logger: logger}
}

// Publish sends one record keyed by user id so a user's records stay ordered
func (p *Publisher) Publish(rec domain.PracticeRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(RecordMessage{
		UserID:         rec.UserID,
		ElapsedSeconds: rec.ElapsedSeconds,
		SuccessRate:    rec.SuccessRate,
		AvgAttempts:    rec.AvgAttempts,
	})
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(rec.UserID),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("publishing record: %w", err)
	}

	p.logger.Debug("record published", "user_id", rec.UserID, "partition", partition, "offset", offset)
	return nil
}

// Close flushes and closes the producer
func (p *Publisher) Close() error {
	return p.producer.Close()
}
