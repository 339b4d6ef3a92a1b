package domain

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Condition is the recursive tagged variant over {And, Or, NumericState,
// State, Sun, Template, Time, Zone}. Kind discriminates the on-disk shape.
type Condition interface {
	Kind() string
}

// Kind discriminator values, matching the original condition descriptor's
// "condition" field.
const (
	ConditionAnd           = "and"
	ConditionOr            = "or"
	ConditionNumericState  = "numeric_state"
	ConditionState         = "state"
	ConditionSun           = "sun"
	ConditionTemplate      = "template"
	ConditionTime          = "time"
	ConditionZone          = "zone"
)

// AndCondition is true iff every child is true (first false wins).
type AndCondition struct {
	Children []Condition
}

func (c AndCondition) Kind() string { return ConditionAnd }

// OrCondition is true iff any child is true (first true wins).
type OrCondition struct {
	Children []Condition
}

func (c OrCondition) Kind() string { return ConditionOr }

// StateCondition is true iff EntityID's current state equals State.
type StateCondition struct {
	EntityID string
	State    string
}

func (c StateCondition) Kind() string { return ConditionState }

// NumericStateCondition is true iff EntityID's current numeric state lies
// strictly above/below the configured bound(s). At least one is required.
type NumericStateCondition struct {
	EntityID string
	Above    *float64
	Below    *float64
}

func (c NumericStateCondition) Kind() string { return ConditionNumericState }

// TimeCondition is true iff the current instant (in TZName) falls within
// the daily [After, Before) window — omitted bounds snap to the day's
// edges, and After > Before wraps midnight — and, if Weekdays is set, the
// current weekday is a member. At least one of After/Before/Weekdays must
// be set.
type TimeCondition struct {
	After    *time.Duration // offset since local midnight
	Before   *time.Duration
	Weekdays []time.Weekday
	TZName   string
}

func (c TimeCondition) Kind() string { return ConditionTime }

// SunCondition is true unless the current instant has passed
// next_<Event>+BeforeOffset (Before clause) or has not yet reached
// next_<Event>+AfterOffset (After clause). Exactly one of Before/After is
// required; Event is "sunrise" or "sunset" for whichever clause is set.
type SunCondition struct {
	Before       string // "sunrise" or "sunset"; empty if unset
	BeforeOffset time.Duration
	After        string
	AfterOffset  time.Duration
}

func (c SunCondition) Kind() string { return ConditionSun }

// ZoneCondition is true iff EntityID's current state literally equals Zone.
type ZoneCondition struct {
	EntityID string
	Zone     string
}

func (c ZoneCondition) Kind() string { return ConditionZone }

// TemplateCondition stores a literal template string. Evaluating it is
// outside this engine's scope (§1 Non-goals): it always evaluates true.
type TemplateCondition struct {
	ValueTemplate string
}

func (c TemplateCondition) Kind() string { return ConditionTemplate }

// wireCondition is the on-disk shape every Condition variant marshals to
// and unmarshals from.
type wireCondition struct {
	Condition     string          `yaml:"condition"`
	Conditions    []wireCondition `yaml:"conditions,omitempty"`
	EntityID      string          `yaml:"entity_id,omitempty"`
	State         string          `yaml:"state,omitempty"`
	AboveValue    *float64        `yaml:"above_value,omitempty"`
	BelowValue    *float64        `yaml:"below_value,omitempty"`
	After         string          `yaml:"after,omitempty"`
	Before        string          `yaml:"before,omitempty"`
	AfterOffset   string          `yaml:"after_offset,omitempty"`
	BeforeOffset  string          `yaml:"before_offset,omitempty"`
	Weekday       []string        `yaml:"weekday,omitempty"`
	TZ            string          `yaml:"tz,omitempty"`
	Zone          string          `yaml:"zone,omitempty"`
	ValueTemplate string          `yaml:"value_template,omitempty"`
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
	"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

var weekdayLabels = map[time.Weekday]string{
	time.Sunday: "sun", time.Monday: "mon", time.Tuesday: "tue",
	time.Wednesday: "wed", time.Thursday: "thu", time.Friday: "fri", time.Saturday: "sat",
}

func conditionToWire(c Condition) wireCondition {
	switch v := c.(type) {
	case AndCondition:
		return wireCondition{Condition: ConditionAnd, Conditions: conditionsToWire(v.Children)}
	case OrCondition:
		return wireCondition{Condition: ConditionOr, Conditions: conditionsToWire(v.Children)}
	case StateCondition:
		return wireCondition{Condition: ConditionState, EntityID: v.EntityID, State: v.State}
	case NumericStateCondition:
		return wireCondition{Condition: ConditionNumericState, EntityID: v.EntityID, AboveValue: v.Above, BelowValue: v.Below}
	case TimeCondition:
		w := wireCondition{Condition: ConditionTime, TZ: v.TZName}
		if v.After != nil {
			w.After = durationToHMS(*v.After)
		}
		if v.Before != nil {
			w.Before = durationToHMS(*v.Before)
		}
		for _, d := range v.Weekdays {
			w.Weekday = append(w.Weekday, weekdayLabels[d])
		}
		return w
	case SunCondition:
		w := wireCondition{Condition: ConditionSun}
		if v.Before != "" {
			w.Before = v.Before
			w.BeforeOffset = durationToHMS(v.BeforeOffset)
		}
		if v.After != "" {
			w.After = v.After
			w.AfterOffset = durationToHMS(v.AfterOffset)
		}
		return w
	case ZoneCondition:
		return wireCondition{Condition: ConditionZone, EntityID: v.EntityID, Zone: v.Zone}
	case TemplateCondition:
		return wireCondition{Condition: ConditionTemplate, ValueTemplate: v.ValueTemplate}
	default:
		return wireCondition{}
	}
}

func conditionsToWire(cs []Condition) []wireCondition {
	out := make([]wireCondition, len(cs))
	for i, c := range cs {
		out[i] = conditionToWire(c)
	}
	return out
}

func wireToCondition(w wireCondition) (Condition, error) {
	switch w.Condition {
	case ConditionAnd:
		children, err := wiresToConditions(w.Conditions)
		if err != nil {
			return nil, err
		}
		return AndCondition{Children: children}, nil
	case ConditionOr:
		children, err := wiresToConditions(w.Conditions)
		if err != nil {
			return nil, err
		}
		return OrCondition{Children: children}, nil
	case ConditionState:
		return StateCondition{EntityID: w.EntityID, State: w.State}, nil
	case ConditionNumericState:
		if w.AboveValue == nil && w.BelowValue == nil {
			return nil, fmt.Errorf("numeric_state condition on %s: at least one of above_value/below_value required", w.EntityID)
		}
		return NumericStateCondition{EntityID: w.EntityID, Above: w.AboveValue, Below: w.BelowValue}, nil
	case ConditionTime:
		tc := TimeCondition{TZName: w.TZ}
		if w.After != "" {
			d, err := hmsToDuration(w.After)
			if err != nil {
				return nil, err
			}
			tc.After = &d
		}
		if w.Before != "" {
			d, err := hmsToDuration(w.Before)
			if err != nil {
				return nil, err
			}
			tc.Before = &d
		}
		for _, name := range w.Weekday {
			wd, ok := weekdayNames[name]
			if !ok {
				return nil, fmt.Errorf("time condition: unknown weekday %q", name)
			}
			tc.Weekdays = append(tc.Weekdays, wd)
		}
		if tc.After == nil && tc.Before == nil && len(tc.Weekdays) == 0 {
			return nil, fmt.Errorf("time condition: must specify one of after, before, or weekday")
		}
		return tc, nil
	case ConditionSun:
		sc := SunCondition{Before: w.Before, After: w.After}
		if w.BeforeOffset != "" {
			d, err := hmsToDuration(w.BeforeOffset)
			if err != nil {
				return nil, err
			}
			sc.BeforeOffset = d
		}
		if w.AfterOffset != "" {
			d, err := hmsToDuration(w.AfterOffset)
			if err != nil {
				return nil, err
			}
			sc.AfterOffset = d
		}
		if sc.Before == "" && sc.After == "" {
			return nil, fmt.Errorf("sun condition: either before or after must be specified")
		}
		if sc.Before != "" && sc.After != "" {
			return nil, fmt.Errorf("sun condition: before and after cannot both be specified")
		}
		return sc, nil
	case ConditionZone:
		return ZoneCondition{EntityID: w.EntityID, Zone: w.Zone}, nil
	case ConditionTemplate:
		return TemplateCondition{ValueTemplate: w.ValueTemplate}, nil
	default:
		return nil, fmt.Errorf("unknown condition kind %q", w.Condition)
	}
}

func wiresToConditions(ws []wireCondition) ([]Condition, error) {
	out := make([]Condition, 0, len(ws))
	for _, w := range ws {
		c, err := wireToCondition(w)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ConditionBox wraps a single optional Condition so it can carry its own
// YAML marshal/unmarshal implementation for the Condition interface.
type ConditionBox struct {
	Condition Condition
}

func (b ConditionBox) MarshalYAML() (any, error) {
	if b.Condition == nil {
		return nil, nil
	}
	return conditionToWire(b.Condition), nil
}

func (b *ConditionBox) UnmarshalYAML(value *yaml.Node) error {
	var w wireCondition
	if err := value.Decode(&w); err != nil {
		return err
	}
	c, err := wireToCondition(w)
	if err != nil {
		return err
	}
	b.Condition = c
	return nil
}

func durationToHMS(d time.Duration) string {
	neg := d < 0
	if neg {
		d = -d
	}
	h := int(d / time.Hour)
	d -= time.Duration(h) * time.Hour
	m := int(d / time.Minute)
	d -= time.Duration(m) * time.Minute
	s := int(d / time.Second)
	sign := ""
	if neg {
		sign = "-"
	}
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, h, m, s)
}

func hmsToDuration(s string) (time.Duration, error) {
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	var h, m, sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		return 0, fmt.Errorf("invalid HH:MM:SS duration %q: %w", s, err)
	}
	d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second
	if neg {
		d = -d
	}
	return d, nil
}
