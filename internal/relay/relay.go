// Package relay moves finished rounds from the engines to durable storage
// without ever blocking a round.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"roundhouse/internal/game"
	"roundhouse/internal/metrics"
)

// Job is the queued unit of work. Attempt counts prior failed deliveries.
type Job struct {
	Attempt int              `json:"attempt"`
	Record  game.RoundRecord `json:"record"`
}

func (j Job) Marshal() ([]byte, error) {
	return json.Marshal(j)
}

func UnmarshalJob(data []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if j.Record.RoundID == "" {
		return Job{}, fmt.Errorf("decode job: missing round id")
	}
	return j, nil
}

// Handler processes one job. A returned error leaves the job unacknowledged.
type Handler func(ctx context.Context, job Job) error

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Consume blocks until ctx ends, passing each job to handle.
	Consume(ctx context.Context, handle Handler) error
	Close() error
}

type Options struct {
	Buffer      int
	MaxAttempts int
	Backoff     time.Duration
	// EnqueueTimeout bounds each queue write.
	EnqueueTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Buffer <= 0 {
		o.Buffer = 256
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 200 * time.Millisecond
	}
	if o.EnqueueTimeout <= 0 {
		o.EnqueueTimeout = 2 * time.Second
	}
	return o
}

// Relay buffers records in process and enqueues them in the background.
type Relay struct {
	queue   Queue
	opts    Options
	buf     chan game.RoundRecord
	log     *zap.Logger
	metrics *metrics.Metrics
	policy  func() backoff.BackOff
}

func New(queue Queue, opts Options, logger *zap.Logger, m *metrics.Metrics) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	r := &Relay{
		queue:   queue,
		opts:    opts,
		buf:     make(chan game.RoundRecord, opts.Buffer),
		log:     logger.Named("relay"),
		metrics: m,
	}
	r.policy = func() backoff.BackOff { return exponential(r.opts.Backoff) }
	return r
}

// Submit hands a record off. A full buffer drops it.
func (r *Relay) Submit(rec game.RoundRecord) {
	select {
	case r.buf <- rec:
	default:
		r.metrics.Relay("buffer_full")
		r.log.Error("relay buffer full, round record dropped",
			zap.String("round", rec.RoundID),
			zap.String("game", string(rec.Game)),
		)
	}
}

// Run drains the buffer until ctx ends. Records still buffered at shutdown,
// and one interrupted mid-retry, get one last enqueue attempt each.
func (r *Relay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case rec := <-r.buf:
			if ctx.Err() != nil || r.deliver(ctx, rec) == errShutdown {
				r.enqueueFinal(rec)
				r.drain()
				return
			}
		}
	}
}

func (r *Relay) drain() {
	for {
		select {
		case rec := <-r.buf:
			r.enqueueFinal(rec)
		default:
			return
		}
	}
}

// enqueueFinal makes a single attempt on a fresh context.
func (r *Relay) enqueueFinal(rec game.RoundRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.EnqueueTimeout)
	defer cancel()
	if err := r.queue.Enqueue(ctx, Job{Record: rec}); err != nil {
		r.metrics.Relay("exhausted")
		r.log.Error("enqueue at shutdown failed", zap.String("round", rec.RoundID), zap.Error(err))
		return
	}
	r.metrics.Relay("enqueued")
}

var errShutdown = errors.New("relay shutting down")

// deliver retries the enqueue with exponential backoff. It returns
// errShutdown when ctx ended before the record was stored.
func (r *Relay) deliver(ctx context.Context, rec game.RoundRecord) error {
	attempt := 0
	enqueue := func() error {
		attempt++
		ectx, cancel := context.WithTimeout(ctx, r.opts.EnqueueTimeout)
		defer cancel()
		return r.queue.Enqueue(ectx, Job{Record: rec})
	}
	retrying := func(err error, next time.Duration) {
		r.metrics.Relay("retry")
		r.log.Warn("enqueue failed",
			zap.String("round", rec.RoundID),
			zap.Int("attempt", attempt),
			zap.Duration("next", next),
			zap.Error(err),
		)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(r.policy(), uint64(r.opts.MaxAttempts-1)), ctx)
	err := backoff.RetryNotify(enqueue, policy, retrying)
	switch {
	case err == nil:
		r.metrics.Relay("enqueued")
		return nil
	case ctx.Err() != nil:
		return errShutdown
	}
	r.metrics.Relay("exhausted")
	r.log.Error("round record not persisted",
		zap.String("round", rec.RoundID),
		zap.String("game", string(rec.Game)),
		zap.Int("attempts", attempt),
		zap.Error(err),
	)
	return err
}

// exponential doubles from initial with no jitter and no elapsed-time cap;
// callers bound it by retry count.
func exponential(initial time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
