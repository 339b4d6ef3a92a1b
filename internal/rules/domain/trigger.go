// Package domain holds OttoEngine's rule data model: Triggers,
// Conditions, RuleActionItems, ActionSequences and AutomationRule, each
// round-tripping losslessly through its on-disk YAML descriptor (§3.1).
package domain

import (
	"fmt"

	"github.com/ottoengine/ottoengine/internal/scheduler"
	"gopkg.in/yaml.v3"
)

// Trigger is the tagged variant over {StateTrigger, NumericStateTrigger,
// EventTrigger, TimeTrigger}. Platform discriminates the on-disk shape;
// IndexKey reports the listener-index match key, if any.
type Trigger interface {
	Platform() string
	// IndexKey returns the key StateTrigger/NumericStateTrigger/EventTrigger
	// variants are registered under in the listener index, and false for
	// variants (TimeTrigger) that are scheduled instead.
	IndexKey() (key string, ok bool)
}

// Platform discriminator values, matching the original rule descriptor's
// "platform" field.
const (
	PlatformState         = "state"
	PlatformNumericState  = "numeric_state"
	PlatformEvent         = "event"
	PlatformTime          = "time"
	PlatformHomeAssistant = "homeassistant"
)

// StateTrigger matches a state-change on EntityID, optionally constrained
// by the state transitioned To and/or From.
type StateTrigger struct {
	EntityID string
	To       *string
	From     *string
}

func (t StateTrigger) Platform() string { return PlatformState }

func (t StateTrigger) IndexKey() (string, bool) { return t.EntityID, true }

// NumericStateTrigger matches a state-change on EntityID whose new,
// numeric state lies strictly above/below the configured bound(s). At
// least one bound must be set.
type NumericStateTrigger struct {
	EntityID string
	Above    *float64
	Below    *float64
}

func (t NumericStateTrigger) Platform() string { return PlatformNumericState }

func (t NumericStateTrigger) IndexKey() (string, bool) { return t.EntityID, true }

// EventTrigger matches a generic event whose type equals EventType and
// whose data is a superset of EventData.
type EventTrigger struct {
	EventType string
	EventData map[string]any
}

func (t EventTrigger) Platform() string { return PlatformEvent }

func (t EventTrigger) IndexKey() (string, bool) { return t.EventType, true }

// TimeTrigger has no event-matching role; it is dispatched solely by the
// scheduler against its own ID and TimeSpec.
type TimeTrigger struct {
	ID   string
	Spec scheduler.TimeSpec
}

func (t TimeTrigger) Platform() string { return PlatformTime }

func (t TimeTrigger) IndexKey() (string, bool) { return "", false }

// HomeAssistantTrigger is an inert placeholder for the `homeassistant`
// platform (start/shutdown events), carried through for schema
// compatibility but never registered in the listener index or scheduler.
type HomeAssistantTrigger struct{}

func (t HomeAssistantTrigger) Platform() string { return PlatformHomeAssistant }

func (t HomeAssistantTrigger) IndexKey() (string, bool) { return "", false }

// wireTrigger is the on-disk shape every Trigger variant marshals to and
// unmarshals from — a flat map keyed by the union of all variants' fields,
// discriminated by Platform.
type wireTrigger struct {
	Platform  string         `yaml:"platform"`
	EntityID  string         `yaml:"entity_id,omitempty"`
	To        *string        `yaml:"to,omitempty"`
	From      *string        `yaml:"from,omitempty"`
	Above     *float64       `yaml:"above_value,omitempty"`
	Below     *float64       `yaml:"below_value,omitempty"`
	EventType string         `yaml:"event_type,omitempty"`
	EventData map[string]any `yaml:"event_data,omitempty"`

	Minute     string `yaml:"minute,omitempty"`
	Hour       string `yaml:"hour,omitempty"`
	DayOfMonth string `yaml:"day_of_month,omitempty"`
	Month      string `yaml:"month,omitempty"`
	Weekdays   string `yaml:"weekdays,omitempty"`
	TZ         string `yaml:"tz,omitempty"`
}

func triggerToWire(t Trigger) wireTrigger {
	switch v := t.(type) {
	case StateTrigger:
		return wireTrigger{Platform: PlatformState, EntityID: v.EntityID, To: v.To, From: v.From}
	case NumericStateTrigger:
		return wireTrigger{Platform: PlatformNumericState, EntityID: v.EntityID, Above: v.Above, Below: v.Below}
	case EventTrigger:
		return wireTrigger{Platform: PlatformEvent, EventType: v.EventType, EventData: v.EventData}
	case TimeTrigger:
		return wireTrigger{
			Platform: PlatformTime, Minute: v.Spec.Minute, Hour: v.Spec.Hour,
			DayOfMonth: v.Spec.DayOfMonth, Month: v.Spec.Month,
			Weekdays: v.Spec.Weekdays, TZ: v.Spec.TZName,
		}
	case HomeAssistantTrigger:
		return wireTrigger{Platform: PlatformHomeAssistant}
	default:
		return wireTrigger{}
	}
}

func wireToTrigger(w wireTrigger) (Trigger, error) {
	switch w.Platform {
	case PlatformState:
		return StateTrigger{EntityID: w.EntityID, To: w.To, From: w.From}, nil
	case PlatformNumericState:
		if w.Above == nil && w.Below == nil {
			return nil, fmt.Errorf("numeric_state trigger on %s: at least one of above_value/below_value required", w.EntityID)
		}
		return NumericStateTrigger{EntityID: w.EntityID, Above: w.Above, Below: w.Below}, nil
	case PlatformEvent:
		return EventTrigger{EventType: w.EventType, EventData: w.EventData}, nil
	case PlatformTime:
		return TimeTrigger{
			Spec: scheduler.NewTimeSpec(w.Minute, w.Hour, w.DayOfMonth, w.Month, w.Weekdays, w.TZ),
		}, nil
	case PlatformHomeAssistant:
		return HomeAssistantTrigger{}, nil
	default:
		return nil, fmt.Errorf("unknown trigger platform %q", w.Platform)
	}
}

// TriggerList is a named slice so it can carry its own YAML
// marshal/unmarshal implementation for the Trigger interface.
type TriggerList []Trigger

func (l TriggerList) MarshalYAML() (any, error) {
	wires := make([]wireTrigger, len(l))
	for i, t := range l {
		wires[i] = triggerToWire(t)
	}
	return wires, nil
}

func (l *TriggerList) UnmarshalYAML(value *yaml.Node) error {
	var wires []wireTrigger
	if err := value.Decode(&wires); err != nil {
		return err
	}
	out := make(TriggerList, 0, len(wires))
	for _, w := range wires {
		trig, err := wireToTrigger(w)
		if err != nil {
			return err
		}
		out = append(out, trig)
	}
	*l = out
	return nil
}
