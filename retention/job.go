package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-mailstatus/core"
)

// JobIDSweep identifies the retention sweep on the job queue.
const JobIDSweep = "mailstatus.retention.sweep"

// NewSweepMessage builds the queue message for one sweep run. The
// idempotency key collapses duplicate schedules for the same day.
func NewSweepMessage(day time.Time) *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:          JobIDSweep,
		IdempotencyKey: fmt.Sprintf("%s:%s", JobIDSweep, day.UTC().Format("2006-01-02")),
		Parameters: map[string]any{
			"scheduled_for": day.UTC().Format(time.RFC3339),
		},
	}
}

// EnqueueSweep schedules a sweep for the given day. The enqueue receipt
// is discarded; the daily idempotency key already collapses duplicates.
func EnqueueSweep(ctx context.Context, enqueuer queue.Enqueuer, day time.Time) error {
	if enqueuer == nil {
		return fmt.Errorf("retention: enqueuer is required")
	}
	_, err := enqueuer.Enqueue(ctx, NewSweepMessage(day))
	return err
}

// QueueWorker consumes sweep jobs from a go-job queue and runs the
// sweeper for each.
type QueueWorker struct {
	sweeper  *Sweeper
	dequeuer queue.Dequeuer
	logger   core.Logger
}

func NewQueueWorker(sweeper *Sweeper, dequeuer queue.Dequeuer, logger core.Logger) (*QueueWorker, error) {
	if sweeper == nil {
		return nil, fmt.Errorf("retention: sweeper is required")
	}
	if dequeuer == nil {
		return nil, fmt.Errorf("retention: dequeuer is required")
	}
	return &QueueWorker{
		sweeper:  sweeper,
		dequeuer: dequeuer,
		logger:   glog.Ensure(logger),
	}, nil
}

// Run consumes until the context is cancelled. Unknown job ids are
// dead-lettered; sweep failures are requeued with a delay so a
// transient store outage does not drop the run.
func (w *QueueWorker) Run(ctx context.Context) error {
	for {
		delivery, err := w.dequeuer.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		w.handle(ctx, delivery)

		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

func (w *QueueWorker) handle(ctx context.Context, delivery queue.Delivery) {
	message := delivery.Message()
	if message == nil || message.JobID != JobIDSweep {
		jobID := ""
		if message != nil {
			jobID = message.JobID
		}
		w.logger.Error("unexpected job on retention queue", "job_id", jobID)
		_ = delivery.Nack(ctx, queue.NackOptions{
			Disposition: queue.NackDispositionDeadLetter,
			Reason:      "unexpected job id",
		})
		return
	}

	if _, err := w.sweeper.RunSweep(ctx); err != nil {
		w.logger.Error("retention sweep failed", "error", err)
		_ = delivery.Nack(ctx, queue.NackOptions{
			Disposition: queue.NackDispositionRetry,
			Delay:       time.Minute,
			Reason:      "sweep failed",
		})
		return
	}
	_ = delivery.Ack(ctx)
}
