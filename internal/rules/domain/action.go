package domain

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// RuleActionItem is the tagged variant over {ServiceAction, ConditionAction,
// DelayAction, LogAction} — a single step in an ActionSequence.
type RuleActionItem interface {
	Kind() string
}

// Kind discriminator values.
const (
	ActionKindService   = "service"
	ActionKindCondition = "condition"
	ActionKindDelay     = "delay"
	ActionKindLog       = "log_message"
)

// ServiceAction issues a ServiceCall through the connection. It succeeds
// if the outbound frame was accepted for sending; it does not await a
// reply.
type ServiceAction struct {
	Domain  string
	Service string
	Data    map[string]any
}

func (a ServiceAction) Kind() string { return ActionKindService }

// ConditionAction embeds a Condition as an action step: its "success" is
// the boolean evaluation result.
type ConditionAction struct {
	Condition Condition
}

func (a ConditionAction) Kind() string { return ActionKindCondition }

// DelayAction suspends the invocation for Delay and succeeds once it has
// elapsed; it fails if the invocation's context is cancelled first.
type DelayAction struct {
	Delay time.Duration
}

func (a DelayAction) Kind() string { return ActionKindDelay }

// LogAction appends Message to the engine log and always succeeds.
type LogAction struct {
	Message string
}

func (a LogAction) Kind() string { return ActionKindLog }

// wireAction is the on-disk shape of one action-sequence step. The active
// variant is discriminated by which of service/delay/log_message/condition
// is present, per §6.3.
type wireAction struct {
	Description string         `yaml:"description,omitempty"`
	Domain      string         `yaml:"domain,omitempty"`
	Service     string         `yaml:"service,omitempty"`
	Data        map[string]any `yaml:"data,omitempty"`
	Delay       string         `yaml:"delay,omitempty"`
	LogMessage  *string        `yaml:"log_message,omitempty"`

	wireCondition `yaml:",inline"`
}

func actionToWire(a RuleActionItem) wireAction {
	switch v := a.(type) {
	case ServiceAction:
		return wireAction{Domain: v.Domain, Service: v.Service, Data: v.Data}
	case DelayAction:
		return wireAction{Delay: durationToHMS(v.Delay)}
	case LogAction:
		msg := v.Message
		return wireAction{LogMessage: &msg}
	case ConditionAction:
		return wireAction{wireCondition: conditionToWire(v.Condition)}
	default:
		return wireAction{}
	}
}

func wireToAction(w wireAction) (RuleActionItem, error) {
	switch {
	case w.Service != "":
		return ServiceAction{Domain: w.Domain, Service: w.Service, Data: w.Data}, nil
	case w.Delay != "":
		d, err := hmsToDuration(w.Delay)
		if err != nil {
			return nil, err
		}
		return DelayAction{Delay: d}, nil
	case w.LogMessage != nil:
		return LogAction{Message: *w.LogMessage}, nil
	case w.wireCondition.Condition != "":
		c, err := wireToCondition(w.wireCondition)
		if err != nil {
			return nil, err
		}
		return ConditionAction{Condition: c}, nil
	default:
		return nil, fmt.Errorf("action item matches none of service, delay, log_message, condition")
	}
}

// ActionItemList is a named slice carrying its own YAML
// marshal/unmarshal implementation for the RuleActionItem interface.
type ActionItemList []RuleActionItem

func (l ActionItemList) MarshalYAML() (any, error) {
	wires := make([]wireAction, len(l))
	for i, a := range l {
		wires[i] = actionToWire(a)
	}
	return wires, nil
}

func (l *ActionItemList) UnmarshalYAML(value *yaml.Node) error {
	var wires []wireAction
	if err := value.Decode(&wires); err != nil {
		return err
	}
	out := make(ActionItemList, 0, len(wires))
	for _, w := range wires {
		item, err := wireToAction(w)
		if err != nil {
			return err
		}
		out = append(out, item)
	}
	*l = out
	return nil
}

// ActionSequence is an ordered list of actions optionally gated by a
// single condition — the unit at which a rule may be partially aborted
// without ending the rule.
type ActionSequence struct {
	ActionCondition Condition
	Actions         ActionItemList
}

type wireActionSequence struct {
	ActionCondition *wireCondition `yaml:"action_condition,omitempty"`
	ActionSequence  ActionItemList `yaml:"action_sequence"`
}

func (s ActionSequence) MarshalYAML() (any, error) {
	w := wireActionSequence{ActionSequence: s.Actions}
	if s.ActionCondition != nil {
		wc := conditionToWire(s.ActionCondition)
		w.ActionCondition = &wc
	}
	return w, nil
}

func (s *ActionSequence) UnmarshalYAML(value *yaml.Node) error {
	var w wireActionSequence
	if err := value.Decode(&w); err != nil {
		return err
	}
	s.Actions = w.ActionSequence
	if w.ActionCondition != nil {
		c, err := wireToCondition(*w.ActionCondition)
		if err != nil {
			return err
		}
		s.ActionCondition = c
	}
	return nil
}
