package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/practice-ranking/internal/config"
	"github.com/practice-ranking/internal/domain"
)

// RecordHandler folds practice records into the ranking
type RecordHandler interface {
	SubmitRecordBatch(ctx context.Context, records []domain.PracticeRecord) error
}

// Consumer consumes practice record messages from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       RecordHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler RecordHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if err == sarama.ErrClosedConsumerGroup {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			// Check if context was cancelled
			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	<-c.ready
	c.logger.Info("Kafka consumer ready")

	// Handle errors in separate goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition.
//
// Offsets are marked only once the records up to them have been stored. A
// failed batch ends the claim unmarked so the group redelivers it.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	batch := make([]domain.PracticeRecord, 0, cfg.BatchSize)
	var last *sarama.ConsumerMessage
	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	processBatch := func() error {
		if last == nil {
			return nil
		}

		if len(batch) > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.ProcessTimeout)
			defer cancel()

			if err := h.consumer.handler.SubmitRecordBatch(ctx, batch); err != nil {
				h.consumer.logger.Error("failed to process batch, leaving offsets unmarked",
					"error", err,
					"batch_size", len(batch),
					"partition", last.Partition,
					"offset", last.Offset,
				)
				return fmt.Errorf("processing batch ending at offset %d: %w", last.Offset, err)
			}
			h.consumer.logger.Debug("processed batch", "batch_size", len(batch))
		}

		session.MarkMessage(last, "")
		batch = batch[:0]
		last = nil
		return nil
	}

	for {
		select {
		case <-session.Context().Done():
			// Process remaining batch before exit
			return processBatch()

		case <-batchTimer.C:
			if err := processBatch(); err != nil {
				return err
			}
			batchTimer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				return processBatch()
			}
			last = message

			record, err := DecodeRecord(message.Value)
			if err != nil {
				h.consumer.logger.Warn("dropping practice record message",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				continue
			}

			batch = append(batch, record)
			if len(batch) >= cfg.BatchSize {
				if err := processBatch(); err != nil {
					return err
				}
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}

// RecordMessage is the wire format of a practice record on the topic
type RecordMessage struct {
	UserID         string  `json:"user_id"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	SuccessRate    float64 `json:"success_rate"`
	AvgAttempts    float64 `json:"avg_attempts"`
}

// DecodeRecord parses and validates one message payload
func DecodeRecord(data []byte) (domain.PracticeRecord, error) {
	var msg RecordMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return domain.PracticeRecord{}, fmt.Errorf("unmarshaling record: %w", err)
	}

	record := domain.PracticeRecord{
		UserID:         msg.UserID,
		ElapsedSeconds: msg.ElapsedSeconds,
		SuccessRate:    msg.SuccessRate,
		AvgAttempts:    msg.AvgAttempts,
	}
	if err := record.Validate(); err != nil {
		return domain.PracticeRecord{}, err
	}
	return record, nil
}
