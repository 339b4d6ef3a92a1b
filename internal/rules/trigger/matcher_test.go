package trigger

import (
	"testing"
	"time"

	"github.com/ottoengine/ottoengine/internal/rules/domain"
	"github.com/ottoengine/ottoengine/internal/scheduler"
	"github.com/ottoengine/ottoengine/internal/state"
	"github.com/stretchr/testify/assert"
)

func strptr(s string) *string    { return &s }
func f64ptr(f float64) *float64  { return &f }

func stateChanged(entityID, oldState, newState string) *state.StateChangedEvent {
	return &state.StateChangedEvent{
		HassEvent: state.HassEvent{EventType: state.StateChangedEventType, TimeFired: time.Now()},
		EntityID:  entityID,
		OldState:  &state.EntityState{EntityID: entityID, State: oldState},
		NewState:  &state.EntityState{EntityID: entityID, State: newState},
	}
}

func TestMatch_StateTrigger_BasicTransition(t *testing.T) {
	trig := domain.StateTrigger{EntityID: "light.kitchen"}
	assert.True(t, Match(trig, stateChanged("light.kitchen", "off", "on")))
}

func TestMatch_StateTrigger_WrongEntity(t *testing.T) {
	trig := domain.StateTrigger{EntityID: "light.kitchen"}
	assert.False(t, Match(trig, stateChanged("light.bedroom", "off", "on")))
}

func TestMatch_StateTrigger_AttributeOnlyChangeNeverFires(t *testing.T) {
	// Testable Property 6.
	ev := stateChanged("light.kitchen", "on", "on")
	trig := domain.StateTrigger{EntityID: "light.kitchen"}
	assert.False(t, Match(trig, ev))
}

func TestMatch_StateTrigger_ToFromConstraint(t *testing.T) {
	trig := domain.StateTrigger{EntityID: "light.kitchen", To: strptr("on"), From: strptr("off")}
	assert.True(t, Match(trig, stateChanged("light.kitchen", "off", "on")))
	assert.False(t, Match(trig, stateChanged("light.kitchen", "unavailable", "on")))
	assert.False(t, Match(trig, stateChanged("light.kitchen", "off", "unavailable")))
}

func TestMatch_StateTrigger_NilOldOrNewState(t *testing.T) {
	trig := domain.StateTrigger{EntityID: "light.kitchen"}
	ev := &state.StateChangedEvent{EntityID: "light.kitchen", NewState: &state.EntityState{State: "on"}}
	assert.False(t, Match(trig, ev))
}

func TestMatch_NumericStateTrigger_Bounds(t *testing.T) {
	trig := domain.NumericStateTrigger{EntityID: "sensor.temp", Above: f64ptr(20)}
	assert.True(t, Match(trig, stateChanged("sensor.temp", "19", "21")))
	assert.False(t, Match(trig, stateChanged("sensor.temp", "19", "20")))
}

func TestMatch_NumericStateTrigger_NonNumericStateNoMatch(t *testing.T) {
	trig := domain.NumericStateTrigger{EntityID: "sensor.temp", Above: f64ptr(20)}
	assert.False(t, Match(trig, stateChanged("sensor.temp", "unavailable", "unknown")))
}

func TestMatch_EventTrigger_TypeAndDataSubset(t *testing.T) {
	trig := domain.EventTrigger{EventType: "custom_event", EventData: map[string]any{"button": "press"}}
	ev := &state.HassEvent{EventType: "custom_event", Data: map[string]any{"button": "press", "extra": 1}}
	assert.True(t, Match(trig, ev))
}

func TestMatch_EventTrigger_DataMismatch(t *testing.T) {
	trig := domain.EventTrigger{EventType: "custom_event", EventData: map[string]any{"button": "press"}}
	ev := &state.HassEvent{EventType: "custom_event", Data: map[string]any{"button": "release"}}
	assert.False(t, Match(trig, ev))
}

func TestMatch_EventTrigger_FromStateChangedEvent(t *testing.T) {
	trig := domain.EventTrigger{EventType: state.StateChangedEventType}
	assert.True(t, Match(trig, stateChanged("light.kitchen", "off", "on")))
}

func TestMatch_TimeTrigger_NeverMatchesAnEvent(t *testing.T) {
	trig := domain.TimeTrigger{Spec: scheduler.NewTimeSpec("*/2", "", "", "", "", "UTC")}
	assert.False(t, Match(trig, stateChanged("light.kitchen", "off", "on")))
}
