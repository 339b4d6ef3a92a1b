package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ottoengine/ottoengine/internal/clock"
	"github.com/stretchr/testify/assert"
)

func TestDriver_TickFiresExactlyOnceWithinGrace(t *testing.T) {
	// S4.
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := clock.NewFakeClock(base)
	tl := NewTimeline()

	var fired int32
	tl.Schedule(base, Action{ID: "a", Run: func(context.Context) { atomic.AddInt32(&fired, 1) }})

	d := NewDriver(fc, tl, nil, nil)
	d.Tick(context.Background())
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
	assert.Equal(t, 0, tl.Len())
}

func TestDriver_TickAtGraceBoundaryStillFires(t *testing.T) {
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := clock.NewFakeClock(base.Add(TickGrace))
	tl := NewTimeline()

	var fired int32
	tl.Schedule(base, Action{ID: "a", Run: func(context.Context) { atomic.AddInt32(&fired, 1) }})

	d := NewDriver(fc, tl, nil, nil)
	d.Tick(context.Background())
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestDriver_RecurringActionReinsertedExactlyOnce(t *testing.T) {
	// Property 4.
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := clock.NewFakeClock(base)
	tl := NewTimeline()

	spec := NewTimeSpec("*", "", "", "", "", "UTC")
	tl.Schedule(base, Action{ID: "recurring", Spec: &spec, Run: func(context.Context) {}})

	d := NewDriver(fc, tl, nil, nil)
	d.Tick(context.Background())
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, 1, tl.Len())
	assert.Len(t, tl.Peek().Actions, 1)
	assert.Equal(t, "recurring", tl.Peek().Actions[0].ID)
}

func TestDriver_StopDrainsTimelineWithoutFiring(t *testing.T) {
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := clock.NewFakeClock(base.Add(time.Hour))
	tl := NewTimeline()

	var fired int32
	tl.Schedule(base.Add(2*time.Hour), Action{ID: "future", Run: func(context.Context) { atomic.AddInt32(&fired, 1) }})

	d := NewDriver(fc, tl, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go d.Start(ctx)
	time.Sleep(10 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, StateStopped, d.State())
	assert.Equal(t, 0, tl.Len())
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}
