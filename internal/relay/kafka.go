package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const handleRetries = 3

// Kafka is a Queue on a Kafka topic read through a consumer group. Offsets
// are committed only after the handler accepts a message.
type Kafka struct {
	writer  *kafka.Writer
	brokers []string
	topic   string
	group   string
	log     *zap.Logger
}

func NewKafka(brokers, topic, group string, logger *zap.Logger) *Kafka {
	if logger == nil {
		logger = zap.NewNop()
	}
	list := strings.Split(brokers, ",")
	return &Kafka{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(list...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		brokers: list,
		topic:   topic,
		group:   group,
		log:     logger.Named("kafka"),
	}
}

func (q *Kafka) Enqueue(ctx context.Context, job Job) error {
	data, err := job.Marshal()
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(job.Record.RoundID),
		Value: data,
		Time:  time.Now(),
	}
	if err := q.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", q.topic, err)
	}
	return nil
}

func (q *Kafka) Consume(ctx context.Context, handle Handler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  q.brokers,
		Topic:    q.topic,
		GroupID:  q.group,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()
	q.log.Info("consuming", zap.String("topic", q.topic), zap.String("group", q.group))

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			q.log.Warn("kafka fetch failed", zap.Error(err))
			time.Sleep(readErrBackoff)
			continue
		}

		job, err := UnmarshalJob(m.Value)
		if err != nil {
			q.log.Error("dropping malformed job", zap.Int64("offset", m.Offset), zap.Error(err))
		} else {
			q.handleWithRetry(ctx, job, handle)
		}
		if err := reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			q.log.Warn("kafka commit failed", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

// handleWithRetry retries in place: a reader cannot rewind to one message
// without replaying the partition.
func (q *Kafka) handleWithRetry(ctx context.Context, job Job, handle Handler) {
	try := 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exponential(readErrBackoff), handleRetries-1), ctx)
	err := backoff.RetryNotify(func() error {
		try++
		return handle(ctx, job)
	}, policy, func(err error, next time.Duration) {
		q.log.Warn("job handler failed",
			zap.String("round", job.Record.RoundID),
			zap.Int("try", try),
			zap.Duration("next", next),
			zap.Error(err),
		)
	})
	if err != nil && ctx.Err() == nil {
		q.log.Error("job abandoned", zap.String("round", job.Record.RoundID), zap.Error(err))
	}
}

func (q *Kafka) Close() error {
	return q.writer.Close()
}
