package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeline_AscendingOrderInvariant(t *testing.T) {
	tl := NewTimeline()
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	tl.Schedule(base.Add(3*time.Second), Action{ID: "c", Run: func(context.Context) {}})
	tl.Schedule(base.Add(1*time.Second), Action{ID: "a", Run: func(context.Context) {}})
	tl.Schedule(base.Add(2*time.Second), Action{ID: "b", Run: func(context.Context) {}})

	require.Equal(t, 3, tl.Len())
	due := tl.Drain()
	for i := 0; i < len(due)-1; i++ {
		assert.True(t, due[i].Time.Before(due[i+1].Time))
	}
}

func TestTimeline_MergesActionsAtSameInstant(t *testing.T) {
	tl := NewTimeline()
	at := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	tl.Schedule(at, Action{ID: "a", Run: func(context.Context) {}})
	tl.Schedule(at, Action{ID: "b", Run: func(context.Context) {}})

	assert.Equal(t, 1, tl.Len())
	assert.Len(t, tl.Peek().Actions, 2)
}

func TestTimeline_RemoveByIDPrunesEmptyAlarm(t *testing.T) {
	tl := NewTimeline()
	at := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	tl.Schedule(at, Action{ID: "only", Run: func(context.Context) {}})

	tl.RemoveByID("only")

	assert.Equal(t, 0, tl.Len())
}

func TestTimeline_PopDuePopsOnlyExpiredAlarms(t *testing.T) {
	tl := NewTimeline()
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	tl.Schedule(base, Action{ID: "past", Run: func(context.Context) {}})
	tl.Schedule(base.Add(time.Hour), Action{ID: "future", Run: func(context.Context) {}})

	due := tl.PopDue(base)

	assert.Len(t, due, 1)
	assert.Equal(t, 1, tl.Len())
}
