package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	payloadField   = "job"
	streamMaxLen   = 100000
	readCount      = 16
	readBlock      = 2 * time.Second
	claimMinIdle   = time.Minute
	claimInterval  = 30 * time.Second
	readErrBackoff = 500 * time.Millisecond
)

// RedisStream is a Queue on a Redis stream read through a consumer group.
// Jobs a crashed consumer left pending are reclaimed after claimMinIdle.
type RedisStream struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	log      *zap.Logger
}

func NewRedisStream(client *redis.Client, stream, group string, logger *zap.Logger) *RedisStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStream{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: "worker-" + uuid.NewString()[:8],
		log:      logger.Named("redis_stream"),
	}
}

func (q *RedisStream) Enqueue(ctx context.Context, job Job) error {
	data, err := job.Marshal()
	if err != nil {
		return err
	}
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{payloadField: data},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", q.stream, err)
	}
	return nil
}

func (q *RedisStream) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s: %w", q.group, err)
	}
	return nil
}

func (q *RedisStream) Consume(ctx context.Context, handle Handler) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	q.log.Info("consuming", zap.String("stream", q.stream), zap.String("consumer", q.consumer))

	lastClaim := time.Time{}
	for {
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(lastClaim) > claimInterval {
			lastClaim = time.Now()
			q.reclaim(ctx, handle)
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    readCount,
			Block:    readBlock,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			q.log.Warn("xreadgroup failed", zap.Error(err))
			time.Sleep(readErrBackoff)
			continue
		}
		for _, s := range streams {
			for _, msg := range s.Messages {
				q.process(ctx, msg, handle)
			}
		}
	}
}

func (q *RedisStream) reclaim(ctx context.Context, handle Handler) {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  claimMinIdle,
		Start:    "0-0",
		Count:    readCount,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			q.log.Warn("xautoclaim failed", zap.Error(err))
		}
		return
	}
	for _, msg := range msgs {
		q.process(ctx, msg, handle)
	}
}

func (q *RedisStream) process(ctx context.Context, msg redis.XMessage, handle Handler) {
	raw, _ := msg.Values[payloadField].(string)
	job, err := UnmarshalJob([]byte(raw))
	if err != nil {
		// unreadable entries would be redelivered forever
		q.log.Error("dropping malformed job", zap.String("id", msg.ID), zap.Error(err))
		q.ack(ctx, msg.ID)
		return
	}
	if err := handle(ctx, job); err != nil {
		q.log.Warn("job left pending", zap.String("id", msg.ID), zap.String("round", job.Record.RoundID), zap.Error(err))
		return
	}
	q.ack(ctx, msg.ID)
}

func (q *RedisStream) ack(ctx context.Context, id string) {
	if err := q.client.XAck(ctx, q.stream, q.group, id).Err(); err != nil {
		q.log.Warn("xack failed", zap.String("id", id), zap.Error(err))
	}
}

func (q *RedisStream) Close() error { return nil }
