package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ottoengine/ottoengine/internal/clock"
	"github.com/ottoengine/ottoengine/pkg/observability"
)

// State is the scheduler's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateTicking
	StateStopped
)

// Driver is the single-threaded tick loop that pops due alarms off a
// Timeline and dispatches their actions, rescheduling recurring ones.
type Driver struct {
	clock    clock.Source
	timeline *Timeline
	logger   *slog.Logger
	metrics  observability.Metrics
	interval time.Duration
	grace    time.Duration

	mu      sync.Mutex
	state   State
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewDriver creates a Driver over timeline, reading time from src.
func NewDriver(src clock.Source, timeline *Timeline, logger *slog.Logger, metrics observability.Metrics) *Driver {
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &Driver{
		clock:    src,
		timeline: timeline,
		logger:   logger,
		metrics:  metrics,
		interval: TickInterval,
		grace:    TickGrace,
		state:    StateIdle,
	}
}

// State returns the driver's current lifecycle state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Start runs the tick loop until ctx is cancelled or Stop is called. It
// blocks the calling goroutine; callers typically invoke it with `go`.
func (d *Driver) Start(ctx context.Context) {
	d.mu.Lock()
	if d.state == StateTicking {
		d.mu.Unlock()
		return
	}
	d.state = StateTicking
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	d.mu.Unlock()

	defer close(d.doneCh)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		d.Tick(ctx)

		select {
		case <-ctx.Done():
			d.transitionStopped()
			return
		case <-d.stopCh:
			d.transitionStopped()
			return
		case <-ticker.C:
		}
	}
}

func (d *Driver) transitionStopped() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = StateStopped
	d.timeline.Drain()
}

// Stop cancels the tick loop and releases all pending alarms unfired.
func (d *Driver) Stop() {
	d.mu.Lock()
	if d.state != StateTicking {
		d.mu.Unlock()
		return
	}
	close(d.stopCh)
	done := d.doneCh
	d.mu.Unlock()
	<-done
}

// Tick performs one iteration: pop every alarm whose instant has arrived,
// fire its actions concurrently, and re-insert recurring ones.
func (d *Driver) Tick(ctx context.Context) {
	now := d.clock.Now()
	due := d.timeline.PopDue(now)
	if len(due) == 0 {
		return
	}

	d.metrics.Counter(observability.MetricSchedulerTicks, 1)

	for _, alarm := range due {
		late := now.Sub(alarm.Time)
		if late > d.grace {
			d.metrics.Counter(observability.MetricAlarmsLate, 1)
			if d.logger != nil {
				d.logger.Warn("alarm fired past grace period",
					"scheduled_for", alarm.Time, "late_by", late)
			}
		}
		d.metrics.Counter(observability.MetricAlarmsFired, int64(len(alarm.Actions)))

		for _, action := range alarm.Actions {
			go action.Run(ctx)

			if action.recurring() {
				next, err := action.Spec.NextTimeFrom(now)
				if err != nil {
					if d.logger != nil {
						d.logger.Error("failed to reschedule recurring action",
							"action_id", action.ID, "error", err)
					}
					continue
				}
				d.timeline.Schedule(next, action)
			}
		}
	}
}
