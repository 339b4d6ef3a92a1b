package scheduler

import (
	"context"
	"time"
)

// Action is one function scheduled to fire at a ClockAlarm's instant. A
// recurring action carries its own TimeSpec so the driver can compute its
// next occurrence and re-insert it after firing.
type Action struct {
	// ID is the opaque identifier a recurring action is registered and
	// removed under. One-shot actions leave it empty.
	ID   string
	Spec *TimeSpec
	Run  func(ctx context.Context)
}

func (a Action) recurring() bool {
	return a.Spec != nil
}

// ClockAlarm is a single wall-clock instant and the unordered list of
// actions to fire at it.
type ClockAlarm struct {
	Time    time.Time
	Actions []Action
}

// Timeline is an ordered sequence of ClockAlarms, ascending by instant. No
// two alarms share an instant: scheduling a second action at an existing
// instant merges it into that alarm.
type Timeline struct {
	alarms []*ClockAlarm
}

// NewTimeline creates an empty Timeline.
func NewTimeline() *Timeline {
	return &Timeline{}
}

// Len returns the number of distinct alarms currently on the timeline.
func (t *Timeline) Len() int {
	return len(t.alarms)
}

// Peek returns the earliest alarm without removing it, or nil if empty.
func (t *Timeline) Peek() *ClockAlarm {
	if len(t.alarms) == 0 {
		return nil
	}
	return t.alarms[0]
}

// Schedule inserts action at the given instant, merging into an existing
// alarm at that instant if one exists, or inserting a new alarm at the
// correct ascending position otherwise.
func (t *Timeline) Schedule(at time.Time, action Action) {
	for _, alarm := range t.alarms {
		if alarm.Time.Equal(at) {
			alarm.Actions = append(alarm.Actions, action)
			return
		}
	}

	pos := 0
	for pos < len(t.alarms) && t.alarms[pos].Time.Before(at) {
		pos++
	}
	alarm := &ClockAlarm{Time: at, Actions: []Action{action}}
	t.alarms = append(t.alarms, nil)
	copy(t.alarms[pos+1:], t.alarms[pos:])
	t.alarms[pos] = alarm
}

// RemoveByID deletes every action with the given id across all alarms,
// pruning any alarm left with no actions.
func (t *Timeline) RemoveByID(id string) {
	kept := t.alarms[:0]
	for _, alarm := range t.alarms {
		remaining := alarm.Actions[:0]
		for _, a := range alarm.Actions {
			if a.ID != id {
				remaining = append(remaining, a)
			}
		}
		alarm.Actions = remaining
		if len(alarm.Actions) > 0 {
			kept = append(kept, alarm)
		}
	}
	t.alarms = kept
}

// PopDue removes and returns every alarm whose instant is at or before
// now, in ascending order.
func (t *Timeline) PopDue(now time.Time) []*ClockAlarm {
	i := 0
	for i < len(t.alarms) && !t.alarms[i].Time.After(now) {
		i++
	}
	due := t.alarms[:i]
	t.alarms = t.alarms[i:]
	return due
}

// Drain removes and returns every remaining alarm, releasing them without
// firing — used when the scheduler transitions to Stopped.
func (t *Timeline) Drain() []*ClockAlarm {
	due := t.alarms
	t.alarms = nil
	return due
}
