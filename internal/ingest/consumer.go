package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/secgraph/secgraph/internal/config"
	"github.com/secgraph/secgraph/internal/loader"
	"github.com/secgraph/secgraph/internal/reconcile"
	"github.com/secgraph/secgraph/pkg/models"
)

// Consumer reads evidence envelopes from Kafka in bounded batches, feeds
// them to the loader, hands deferred links to the reconciler, and publishes
// a load-result summary per batch so downstream reporting can track
// ingestion health.
type Consumer struct {
	reader     *kafka.Reader
	writer     *kafka.Writer
	loader     *loader.Loader
	reconciler *reconcile.Reconciler
	log        *zap.Logger
	cfg        config.KafkaConfig
}

// batchSummary is the event published to the results topic after each batch.
type batchSummary struct {
	BatchID   string                   `json:"batch_id"`
	Loaded    int                      `json:"loaded"`
	Failed    int                      `json:"failed"`
	Deferred  int                      `json:"deferred"`
	Failures  []models.EnvelopeFailure `json:"failures,omitempty"`
	Timestamp time.Time                `json:"timestamp"`
}

// NewConsumer creates the ingestion consumer.
func NewConsumer(cfg config.KafkaConfig, l *loader.Loader, r *reconcile.Reconciler, log *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.ConsumerGroup,
		Topic:    cfg.EvidenceTopic,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
	})
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.ResultsTopic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Gzip,
	}
	return &Consumer{
		reader:     reader,
		writer:     writer,
		loader:     l,
		reconciler: r,
		log:        log.Named("ingest"),
		cfg:        cfg,
	}
}

// Run consumes until the context is cancelled. Offsets commit only after a
// batch is handed to the loader; the loader's upsert semantics make
// redelivery after a crash safe.
func (c *Consumer) Run(ctx context.Context) error {
	var (
		batch    []models.EvidenceEnvelope
		messages []kafka.Message
	)

	flushTimer := time.NewTimer(c.cfg.FlushInterval)
	defer flushTimer.Stop()

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.process(ctx, batch); err != nil {
			return err
		}
		if err := c.reader.CommitMessages(ctx, messages...); err != nil {
			return err
		}
		batch = nil
		messages = nil
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-flushTimer.C:
			if err := flush(); err != nil {
				return err
			}
			flushTimer.Reset(c.cfg.FlushInterval)
			continue
		default:
		}

		fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FlushInterval)
		msg, err := c.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				if err := flush(); err != nil {
					return err
				}
				continue
			}
			if errors.Is(err, context.Canceled) {
				return flush()
			}
			return err
		}

		var env models.EvidenceEnvelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			// Poison message: skip past it rather than wedging the partition.
			c.log.Error("undecodable evidence message",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			messages = append(messages, msg)
			continue
		}
		if env.EvidenceID == "" {
			env.EvidenceID = uuid.NewString()
		}

		batch = append(batch, env)
		messages = append(messages, msg)
		if len(batch) >= c.cfg.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

func (c *Consumer) process(ctx context.Context, batch []models.EvidenceEnvelope) error {
	result, err := c.loader.LoadEvidence(ctx, batch)
	if err != nil {
		return err
	}

	c.reconciler.Enqueue(result.Deferred)

	c.log.Info("evidence batch loaded",
		zap.Int("loaded", result.Loaded),
		zap.Int("failed", len(result.Failures)),
		zap.Int("deferred", len(result.Deferred)))

	summary := batchSummary{
		BatchID:   uuid.NewString(),
		Loaded:    result.Loaded,
		Failed:    len(result.Failures),
		Deferred:  len(result.Deferred),
		Failures:  result.Failures,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	if err := c.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(summary.BatchID),
		Value: payload,
	}); err != nil {
		// Result publication is best-effort; the batch itself is committed.
		c.log.Warn("load-result publish failed", zap.Error(err))
	}
	return nil
}

// Close releases the Kafka reader and writer.
func (c *Consumer) Close() error {
	rerr := c.reader.Close()
	werr := c.writer.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}
