package relay

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"roundhouse/internal/game"
	"roundhouse/internal/metrics"
)

// RoundWriter is the durable side of the worker. Both calls must be safe
// to repeat for the same record.
type RoundWriter interface {
	SaveRound(ctx context.Context, rec game.RoundRecord) (created bool, err error)
	AppendHistory(ctx context.Context, rec game.RoundRecord) error
}

// Worker consumes round jobs and writes them through a RoundWriter. A failed
// job goes back on the queue with its attempt count raised until
// maxAttempts, then is dropped.
type Worker struct {
	queue       Queue
	store       RoundWriter
	maxAttempts int
	log         *zap.Logger
	metrics     *metrics.Metrics
}

func NewWorker(queue Queue, store RoundWriter, maxAttempts int, logger *zap.Logger, m *metrics.Metrics) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Worker{
		queue:       queue,
		store:       store,
		maxAttempts: maxAttempts,
		log:         logger.Named("worker"),
		metrics:     m,
	}
}

func (w *Worker) Run(ctx context.Context) error {
	return w.queue.Consume(ctx, w.Handle)
}

// Handle persists one job. It returns an error only when the job could be
// neither stored nor requeued.
func (w *Worker) Handle(ctx context.Context, job Job) error {
	err := w.persist(ctx, job.Record)
	if err == nil {
		return nil
	}

	next := job.Attempt + 1
	if next >= w.maxAttempts {
		w.metrics.Worker("dropped")
		w.log.Error("round persistence failed, giving up",
			zap.String("round", job.Record.RoundID),
			zap.Int("attempts", next),
			zap.Error(err),
		)
		return nil
	}

	w.log.Warn("round persistence failed, requeueing",
		zap.String("round", job.Record.RoundID),
		zap.Int("attempt", next),
		zap.Error(err),
	)
	if qerr := w.queue.Enqueue(ctx, Job{Attempt: next, Record: job.Record}); qerr != nil {
		return fmt.Errorf("requeue %s: %w", job.Record.RoundID, qerr)
	}
	w.metrics.Worker("retry")
	return nil
}

func (w *Worker) persist(ctx context.Context, rec game.RoundRecord) error {
	created, err := w.store.SaveRound(ctx, rec)
	if err != nil {
		return fmt.Errorf("save round: %w", err)
	}
	if err := w.store.AppendHistory(ctx, rec); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	if created {
		w.metrics.Worker("stored")
	} else {
		w.metrics.Worker("duplicate")
	}
	w.log.Debug("round persisted",
		zap.String("round", rec.RoundID),
		zap.Bool("created", created),
		zap.Int("bets", len(rec.Resolved)),
	)
	return nil
}
