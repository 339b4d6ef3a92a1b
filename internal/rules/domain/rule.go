package domain

import "gopkg.in/yaml.v3"

// AutomationRule is a user-authored automation: a set of Triggers gating
// an optional rule-level Condition, dispatching to one or more
// ActionSequences when it fires.
type AutomationRule struct {
	ID             string
	Description    string
	Enabled        bool
	Group          string
	Notes          string
	Triggers       TriggerList
	RuleCondition  Condition
	ActionSequences []ActionSequence
}

// wireRule is the on-disk descriptor shape (§6.3). Optional descriptor
// fields (description, enabled, group, notes) tolerate absence per
// Design Note (d): only id, triggers and actions are required.
type wireRule struct {
	ID             string           `yaml:"id"`
	Description    string           `yaml:"description,omitempty"`
	Enabled        *bool            `yaml:"enabled,omitempty"`
	Group          string           `yaml:"group,omitempty"`
	Notes          string           `yaml:"notes,omitempty"`
	Triggers       TriggerList      `yaml:"triggers"`
	RuleCondition  *wireCondition   `yaml:"rule_condition,omitempty"`
	Actions        []ActionSequence `yaml:"actions"`
}

// MarshalYAML implements yaml.Marshaler.
func (r AutomationRule) MarshalYAML() (any, error) {
	enabled := r.Enabled
	w := wireRule{
		ID:          r.ID,
		Description: r.Description,
		Enabled:     &enabled,
		Group:       r.Group,
		Notes:       r.Notes,
		Triggers:    r.Triggers,
		Actions:     r.ActionSequences,
	}
	if r.RuleCondition != nil {
		wc := conditionToWire(r.RuleCondition)
		w.RuleCondition = &wc
	}
	return w, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *AutomationRule) UnmarshalYAML(value *yaml.Node) error {
	var w wireRule
	if err := value.Decode(&w); err != nil {
		return err
	}

	r.ID = w.ID
	r.Description = w.Description
	r.Enabled = true
	if w.Enabled != nil {
		r.Enabled = *w.Enabled
	}
	r.Group = w.Group
	r.Notes = w.Notes
	r.Triggers = w.Triggers
	r.ActionSequences = w.Actions

	if w.RuleCondition != nil {
		c, err := wireToCondition(*w.RuleCondition)
		if err != nil {
			return err
		}
		r.RuleCondition = c
	}
	return nil
}

// Descriptor is the lightweight summary exposed by `GET /rest/rules`
// (§6.2): id, description, enabled, group — omitting the full trigger and
// action bodies.
type Descriptor struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
	Group       string `json:"group,omitempty"`
}

// ToDescriptor summarizes the rule for listing endpoints.
func (r AutomationRule) ToDescriptor() Descriptor {
	return Descriptor{ID: r.ID, Description: r.Description, Enabled: r.Enabled, Group: r.Group}
}
