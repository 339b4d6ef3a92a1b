// Package trigger evaluates a per-event Trigger predicate (§4.2) against
// an inbound state-change or generic event.
package trigger

import (
	"reflect"
	"strconv"

	"github.com/ottoengine/ottoengine/internal/rules/domain"
	"github.com/ottoengine/ottoengine/internal/state"
)

// Match reports whether t fires in response to ev. ev is either a
// *state.StateChangedEvent or a *state.HassEvent; TimeTrigger never
// matches an event — it is dispatched solely by the scheduler.
func Match(t domain.Trigger, ev any) bool {
	switch trig := t.(type) {
	case domain.StateTrigger:
		return matchState(trig, ev)
	case domain.NumericStateTrigger:
		return matchNumericState(trig, ev)
	case domain.EventTrigger:
		return matchEvent(trig, ev)
	case domain.TimeTrigger:
		return false
	default:
		return false
	}
}

func asStateChanged(ev any) (*state.StateChangedEvent, bool) {
	sce, ok := ev.(*state.StateChangedEvent)
	return sce, ok
}

func matchState(trig domain.StateTrigger, ev any) bool {
	sce, ok := asStateChanged(ev)
	if !ok || sce.EntityID != trig.EntityID {
		return false
	}
	if sce.OldState == nil || sce.NewState == nil {
		return false
	}
	// Attribute-only changes never fire.
	if sce.OldState.State == sce.NewState.State {
		return false
	}
	if trig.To != nil && sce.NewState.State != *trig.To {
		return false
	}
	if trig.From != nil && sce.OldState.State != *trig.From {
		return false
	}
	return true
}

func matchNumericState(trig domain.NumericStateTrigger, ev any) bool {
	sce, ok := asStateChanged(ev)
	if !ok || sce.EntityID != trig.EntityID || sce.NewState == nil {
		return false
	}
	v, err := strconv.ParseFloat(sce.NewState.State, 64)
	if err != nil {
		return false
	}
	if trig.Above != nil && !(v > *trig.Above) {
		return false
	}
	if trig.Below != nil && !(v < *trig.Below) {
		return false
	}
	return true
}

func matchEvent(trig domain.EventTrigger, ev any) bool {
	var eventType string
	var data map[string]any

	switch v := ev.(type) {
	case *state.StateChangedEvent:
		eventType = v.EventType
		data = v.Data
	case *state.HassEvent:
		eventType = v.EventType
		data = v.Data
	default:
		return false
	}

	if eventType != trig.EventType {
		return false
	}
	for key, want := range trig.EventData {
		got, ok := data[key]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}
