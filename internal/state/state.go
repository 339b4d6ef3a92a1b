// Package state defines OttoEngine's mirrored view of Home Assistant
// entity and service state, plus the inbound event shapes the connection
// supervisor decodes off the wire.
package state

import "time"

// EntityState mirrors one remote entity's last known state.
type EntityState struct {
	EntityID     string         `json:"entity_id"`
	State        string         `json:"state"`
	Attributes   map[string]any `json:"attributes"`
	LastChanged  time.Time      `json:"last_changed"`
	FriendlyName string         `json:"friendly_name,omitempty"`
	Hidden       bool           `json:"hidden,omitempty"`
}

// Equal reports whether two states are the same occurrence: identical
// entity_id, state and last_changed. Attribute drift alone is not a change.
func (e EntityState) Equal(other EntityState) bool {
	return e.EntityID == other.EntityID &&
		e.State == other.State &&
		e.LastChanged.Equal(other.LastChanged)
}

// ServiceField describes one parameter a Service accepts.
type ServiceField struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Example     string `json:"example,omitempty"`
}

// Service describes one callable action within a domain.
type Service struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Fields      []ServiceField `json:"fields,omitempty"`
}

// ServiceRegistration groups the services exposed under one domain
// (e.g. "light", "switch"), uniquely keyed by Domain.
type ServiceRegistration struct {
	Domain   string    `json:"domain"`
	Services []Service `json:"services"`
}

// ServiceCall is an outbound service invocation request.
type ServiceCall struct {
	Domain      string         `json:"domain"`
	Service     string         `json:"service"`
	ServiceData map[string]any `json:"service_data,omitempty"`
}

// HassEvent is a generic inbound event frame.
type HassEvent struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data,omitempty"`
	TimeFired time.Time      `json:"time_fired"`
}

// StateChangedEvent refines HassEvent for the "state_changed" event type,
// carrying the entity's state immediately before and after the change.
type StateChangedEvent struct {
	HassEvent
	EntityID string       `json:"entity_id"`
	OldState *EntityState `json:"old_state"`
	NewState *EntityState `json:"new_state"`
}

// StateChangedEventType is the event_type value that discriminates
// StateChangedEvent from a generic HassEvent on the wire.
const StateChangedEventType = "state_changed"
