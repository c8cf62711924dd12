package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-mailstatus/core"
)

var sweepNow = time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC)

type recordingPruner struct {
	activeStatuses []core.DeliveryStatus
	activeBefore   time.Time
	totalBefore    time.Time
	activeCount    int
	totalCount     int
	err            error
}

func (p *recordingPruner) DeleteExpiredActive(_ context.Context, statuses []core.DeliveryStatus, before time.Time) (int, error) {
	p.activeStatuses = statuses
	p.activeBefore = before
	return p.activeCount, p.err
}

func (p *recordingPruner) DeleteExpired(_ context.Context, before time.Time) (int, error) {
	p.totalBefore = before
	return p.totalCount, p.err
}

func newTestSweeper(t *testing.T, pruner MessagePruner) *Sweeper {
	t.Helper()
	sweeper, err := NewSweeper(pruner, 14*24*time.Hour, 90*24*time.Hour)
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	sweeper.Now = func() time.Time { return sweepNow }
	return sweeper
}

func TestSweeper_AppliesBothWindows(t *testing.T) {
	pruner := &recordingPruner{activeCount: 2, totalCount: 1}
	sweeper := newTestSweeper(t, pruner)

	report, err := sweeper.RunSweep(context.Background())
	if err != nil {
		t.Fatalf("run sweep: %v", err)
	}
	if report.ExpiredActive != 2 || report.ExpiredTotal != 1 {
		t.Fatalf("report = %+v", report)
	}
	if !report.SweptAt.Equal(sweepNow) {
		t.Fatalf("swept at = %s", report.SweptAt)
	}

	wantActiveBefore := sweepNow.Add(-14 * 24 * time.Hour)
	if !pruner.activeBefore.Equal(wantActiveBefore) {
		t.Fatalf("active cutoff = %s, want %s", pruner.activeBefore, wantActiveBefore)
	}
	wantTotalBefore := sweepNow.Add(-90 * 24 * time.Hour)
	if !pruner.totalBefore.Equal(wantTotalBefore) {
		t.Fatalf("total cutoff = %s, want %s", pruner.totalBefore, wantTotalBefore)
	}
	if len(pruner.activeStatuses) != 2 {
		t.Fatalf("active statuses = %v", pruner.activeStatuses)
	}
}

func TestSweeper_PropagatesPrunerFailure(t *testing.T) {
	pruner := &recordingPruner{err: errors.New("db down")}
	sweeper := newTestSweeper(t, pruner)

	if _, err := sweeper.RunSweep(context.Background()); err == nil {
		t.Fatal("expected sweep failure")
	}
}

func TestNewSweeper_ValidatesWindows(t *testing.T) {
	pruner := &recordingPruner{}
	if _, err := NewSweeper(pruner, 0, time.Hour); err == nil {
		t.Fatal("expected error for a zero active window")
	}
	if _, err := NewSweeper(pruner, 2*time.Hour, time.Hour); err == nil {
		t.Fatal("expected error when active window exceeds max window")
	}
	if _, err := NewSweeper(nil, time.Hour, 2*time.Hour); err == nil {
		t.Fatal("expected error for a nil pruner")
	}
}

func TestSweeper_AgainstMessageStore(t *testing.T) {
	store := core.NewInMemoryMessageStore()
	seed := []struct {
		providerMessageID string
		status            core.DeliveryStatus
		age               time.Duration
	}{
		{"pm-delivered-15d", core.StatusDelivered, 15 * 24 * time.Hour},
		{"pm-delivered-10d", core.StatusDelivered, 10 * 24 * time.Hour},
		{"pm-bounced-91d", core.StatusBounced, 91 * 24 * time.Hour},
		{"pm-bounced-80d", core.StatusBounced, 80 * 24 * time.Hour},
	}
	for _, row := range seed {
		createdAt := sweepNow.Add(-row.age)
		store.Now = func() time.Time { return createdAt }
		message, err := store.Create(context.Background(), core.CreateMessageInput{
			ProviderMessageID: row.providerMessageID,
			From:              "sender@example.com",
			To:                "recipient@example.com",
		})
		if err != nil {
			t.Fatalf("create %s: %v", row.providerMessageID, err)
		}
		if err := store.UpdateStatus(context.Background(), message.ID, row.status, false); err != nil {
			t.Fatalf("seed status %s: %v", row.providerMessageID, err)
		}
	}
	store.Now = func() time.Time { return sweepNow }

	sweeper := newTestSweeper(t, store)
	report, err := sweeper.RunSweep(context.Background())
	if err != nil {
		t.Fatalf("run sweep: %v", err)
	}
	if report.ExpiredActive != 1 || report.ExpiredTotal != 1 {
		t.Fatalf("report = %+v", report)
	}

	for _, survivor := range []string{"pm-delivered-10d", "pm-bounced-80d"} {
		if _, found, _ := store.GetByProviderMessageID(context.Background(), survivor); !found {
			t.Fatalf("%s must survive the sweep", survivor)
		}
	}
	for _, gone := range []string{"pm-delivered-15d", "pm-bounced-91d"} {
		if _, found, _ := store.GetByProviderMessageID(context.Background(), gone); found {
			t.Fatalf("%s must be deleted", gone)
		}
	}
}

type stubDelivery struct {
	message *job.ExecutionMessage
	acked   bool
	nacked  bool
	nackOpt queue.NackOptions
}

func (d *stubDelivery) Message() *job.ExecutionMessage {
	return d.message
}

func (d *stubDelivery) Ack(context.Context) error {
	d.acked = true
	return nil
}

func (d *stubDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	d.nacked = true
	d.nackOpt = opts
	return nil
}

type stubDequeuer struct {
	deliveries []queue.Delivery
}

func (q *stubDequeuer) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if len(q.deliveries) == 0 {
		return nil, context.Canceled
	}
	next := q.deliveries[0]
	q.deliveries = q.deliveries[1:]
	return next, nil
}

type stubEnqueuer struct {
	messages []*job.ExecutionMessage
	err      error
}

func (q *stubEnqueuer) Enqueue(_ context.Context, message *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	q.messages = append(q.messages, message)
	var receipt queue.EnqueueReceipt
	return receipt, q.err
}

func TestEnqueueSweep_SubmitsDailyJob(t *testing.T) {
	enqueuer := &stubEnqueuer{}
	if err := EnqueueSweep(context.Background(), enqueuer, sweepNow); err != nil {
		t.Fatalf("enqueue sweep: %v", err)
	}
	if len(enqueuer.messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(enqueuer.messages))
	}
	got := enqueuer.messages[0]
	if got.JobID != JobIDSweep {
		t.Fatalf("job id = %q", got.JobID)
	}
	if got.IdempotencyKey != "mailstatus.retention.sweep:2026-03-14" {
		t.Fatalf("idempotency key = %q", got.IdempotencyKey)
	}

	if err := EnqueueSweep(context.Background(), nil, sweepNow); err == nil {
		t.Fatal("expected error for a nil enqueuer")
	}
}

func TestQueueWorker_AcksSweepJobs(t *testing.T) {
	pruner := &recordingPruner{}
	sweeper := newTestSweeper(t, pruner)

	sweep := &stubDelivery{message: NewSweepMessage(sweepNow)}
	stranger := &stubDelivery{message: &job.ExecutionMessage{JobID: "other.job"}}
	worker, err := NewQueueWorker(sweeper, &stubDequeuer{deliveries: []queue.Delivery{sweep, stranger}}, nil)
	if err != nil {
		t.Fatalf("new queue worker: %v", err)
	}

	if err := worker.Run(context.Background()); err != nil {
		t.Fatalf("run worker: %v", err)
	}
	if !sweep.acked {
		t.Fatal("sweep job must be acked")
	}
	if !stranger.nacked || stranger.nackOpt.Disposition != queue.NackDispositionDeadLetter {
		t.Fatalf("unexpected job must be dead-lettered, got %+v", stranger.nackOpt)
	}
}

func TestQueueWorker_RequeuesFailedSweep(t *testing.T) {
	pruner := &recordingPruner{err: errors.New("db down")}
	sweeper := newTestSweeper(t, pruner)

	sweep := &stubDelivery{message: NewSweepMessage(sweepNow)}
	worker, err := NewQueueWorker(sweeper, &stubDequeuer{deliveries: []queue.Delivery{sweep}}, nil)
	if err != nil {
		t.Fatalf("new queue worker: %v", err)
	}

	if err := worker.Run(context.Background()); err != nil {
		t.Fatalf("run worker: %v", err)
	}
	if sweep.acked || !sweep.nacked || sweep.nackOpt.Disposition != queue.NackDispositionRetry {
		t.Fatalf("failed sweep must be retried, got acked=%v nack=%+v", sweep.acked, sweep.nackOpt)
	}
	if sweep.nackOpt.Delay != time.Minute {
		t.Fatalf("retry delay = %s, want 1m", sweep.nackOpt.Delay)
	}
}

func TestNewSweepMessage_DedupesByDay(t *testing.T) {
	morning := NewSweepMessage(time.Date(2026, 3, 14, 1, 0, 0, 0, time.UTC))
	evening := NewSweepMessage(time.Date(2026, 3, 14, 23, 0, 0, 0, time.UTC))
	if morning.IdempotencyKey != evening.IdempotencyKey {
		t.Fatalf("keys differ: %q vs %q", morning.IdempotencyKey, evening.IdempotencyKey)
	}
	nextDay := NewSweepMessage(time.Date(2026, 3, 15, 1, 0, 0, 0, time.UTC))
	if morning.IdempotencyKey == nextDay.IdempotencyKey {
		t.Fatal("keys must differ across days")
	}
}
