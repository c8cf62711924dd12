package retention

import (
	"context"
	"fmt"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-mailstatus/core"
)

// ActiveStatuses are the states subject to the short retention window;
// terminal states keep their rows until the maximum window expires.
var ActiveStatuses = []core.DeliveryStatus{core.StatusAccepted, core.StatusDelivered}

// MessagePruner is the slice of the message store the sweeper needs.
// Event rows disappear with their message via cascade.
type MessagePruner interface {
	DeleteExpiredActive(ctx context.Context, statuses []core.DeliveryStatus, before time.Time) (int, error)
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// Report summarizes one sweep run.
type Report struct {
	ExpiredActive int
	ExpiredTotal  int
	SweptAt       time.Time
}

// Sweeper deletes old messages on an externally scheduled cadence. Its
// age filters never touch messages young enough to still receive
// events, so it runs safely alongside live traffic.
type Sweeper struct {
	pruner       MessagePruner
	activeWindow time.Duration
	maxWindow    time.Duration

	logger  core.Logger
	metrics core.MetricsRecorder
	Now     func() time.Time
}

type Option func(*Sweeper)

func WithLogger(logger core.Logger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(s *Sweeper) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

func NewSweeper(pruner MessagePruner, activeWindow, maxWindow time.Duration, options ...Option) (*Sweeper, error) {
	if pruner == nil {
		return nil, fmt.Errorf("retention: message pruner is required")
	}
	if activeWindow <= 0 || maxWindow <= 0 {
		return nil, fmt.Errorf("retention: windows must be positive")
	}
	if activeWindow > maxWindow {
		return nil, fmt.Errorf("retention: active window %s exceeds max window %s", activeWindow, maxWindow)
	}
	sweeper := &Sweeper{
		pruner:       pruner,
		activeWindow: activeWindow,
		maxWindow:    maxWindow,
		logger:       glog.Ensure(nil),
		metrics:      core.NopMetricsRecorder{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, option := range options {
		option(sweeper)
	}
	return sweeper, nil
}

// RunSweep applies both retention filters: active-status messages older
// than the active window, then any message older than the max window.
func (s *Sweeper) RunSweep(ctx context.Context) (Report, error) {
	now := s.Now().UTC()

	expiredActive, err := s.pruner.DeleteExpiredActive(ctx, ActiveStatuses, now.Add(-s.activeWindow))
	if err != nil {
		return Report{}, core.WrapInternalError(err, "retention: active-window sweep failed", nil)
	}
	expiredTotal, err := s.pruner.DeleteExpired(ctx, now.Add(-s.maxWindow))
	if err != nil {
		return Report{}, core.WrapInternalError(err, "retention: max-window sweep failed", nil)
	}

	report := Report{
		ExpiredActive: expiredActive,
		ExpiredTotal:  expiredTotal,
		SweptAt:       now,
	}
	s.logger.Info("retention sweep finished",
		"expired_active", report.ExpiredActive,
		"expired_total", report.ExpiredTotal,
	)
	s.metrics.IncCounter(ctx, "mailstatus.retention.deleted", int64(expiredActive+expiredTotal), nil)
	return report, nil
}
