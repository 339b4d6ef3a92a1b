package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ottoengine/ottoengine/internal/clock"
	"github.com/ottoengine/ottoengine/internal/rules/action"
	"github.com/ottoengine/ottoengine/internal/rules/domain"
	"github.com/ottoengine/ottoengine/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	calls []state.ServiceCall
}

func (f *fakeCaller) CallService(ctx context.Context, call state.ServiceCall) error {
	f.calls = append(f.calls, call)
	return nil
}

// failingCaller records every call it's asked to make but reports an error
// for any service name in failServices.
type failingCaller struct {
	calls        []state.ServiceCall
	failServices map[string]bool
}

func (f *failingCaller) CallService(ctx context.Context, call state.ServiceCall) error {
	f.calls = append(f.calls, call)
	if f.failServices[call.Service] {
		return errors.New("simulated downstream failure")
	}
	return nil
}

func newFailingRunner(caller *failingCaller) *Runner {
	store := state.NewStore()
	return &Runner{
		Executor: &action.Executor{Caller: caller, Store: store, Clock: clock.RealClock{}},
		Store:    store,
		Clock:    clock.RealClock{},
	}
}

func newRunner(caller *fakeCaller) *Runner {
	store := state.NewStore()
	return &Runner{
		Executor: &action.Executor{Caller: caller, Store: store, Clock: clock.RealClock{}},
		Store:    store,
		Clock:    clock.RealClock{},
	}
}

func stateChanged(entityID, oldState, newState string) *state.StateChangedEvent {
	return &state.StateChangedEvent{
		HassEvent: state.HassEvent{EventType: state.StateChangedEventType, TimeFired: time.Now()},
		EntityID:  entityID,
		OldState:  &state.EntityState{EntityID: entityID, State: oldState},
		NewState:  &state.EntityState{EntityID: entityID, State: newState},
	}
}

func TestRunner_HandleEvent_DisabledRuleNeverFires(t *testing.T) {
	caller := &fakeCaller{}
	r := newRunner(caller)
	rule := domain.AutomationRule{
		ID:      "r1",
		Enabled: false,
		Triggers: domain.TriggerList{
			domain.StateTrigger{EntityID: "light.x"},
		},
		ActionSequences: []domain.ActionSequence{
			{Actions: domain.ActionItemList{domain.ServiceAction{Domain: "light", Service: "turn_on"}}},
		},
	}
	r.HandleEvent(context.Background(), rule, stateChanged("light.x", "off", "on"))
	assert.Empty(t, caller.calls)
}

func TestRunner_HandleEvent_UnmatchedTriggerNeverFires(t *testing.T) {
	caller := &fakeCaller{}
	r := newRunner(caller)
	rule := domain.AutomationRule{
		ID:      "r1",
		Enabled: true,
		Triggers: domain.TriggerList{
			domain.StateTrigger{EntityID: "light.x"},
		},
		ActionSequences: []domain.ActionSequence{
			{Actions: domain.ActionItemList{domain.ServiceAction{Domain: "light", Service: "turn_on"}}},
		},
	}
	r.HandleEvent(context.Background(), rule, stateChanged("light.y", "off", "on"))
	assert.Empty(t, caller.calls)
}

func TestRunner_HandleEvent_MatchedTriggerFiresActions(t *testing.T) {
	// S5: StateTrigger fires exactly one ServiceAction.
	caller := &fakeCaller{}
	r := newRunner(caller)
	rule := domain.AutomationRule{
		ID:      "r1",
		Enabled: true,
		Triggers: domain.TriggerList{
			domain.StateTrigger{EntityID: "light.x"},
		},
		ActionSequences: []domain.ActionSequence{
			{Actions: domain.ActionItemList{domain.ServiceAction{Domain: "light", Service: "turn_on"}}},
		},
	}
	r.HandleEvent(context.Background(), rule, stateChanged("light.x", "off", "on"))
	require.Len(t, caller.calls, 1)
}

func TestRunner_RuleConditionGatesActions(t *testing.T) {
	caller := &fakeCaller{}
	r := newRunner(caller)
	rule := domain.AutomationRule{
		ID:            "r1",
		Enabled:       true,
		RuleCondition: domain.StateCondition{EntityID: "gate", State: "on"},
		Triggers:      domain.TriggerList{domain.StateTrigger{EntityID: "light.x"}},
		ActionSequences: []domain.ActionSequence{
			{Actions: domain.ActionItemList{domain.ServiceAction{Domain: "light", Service: "turn_on"}}},
		},
	}
	r.HandleEvent(context.Background(), rule, stateChanged("light.x", "off", "on"))
	assert.Empty(t, caller.calls, "rule condition false should suppress actions")

	r.Store.UpsertEntity(state.EntityState{EntityID: "gate", State: "on"})
	r.HandleEvent(context.Background(), rule, stateChanged("light.x", "off", "on"))
	assert.Len(t, caller.calls, 1)
}

func TestRunner_ActionSequence_ConditionFalseAbortsOnlyThatSequence(t *testing.T) {
	// S6: false action_condition skips its sequence but later sequences still run.
	caller := &fakeCaller{}
	r := newRunner(caller)
	rule := domain.AutomationRule{
		ID:      "r1",
		Enabled: true,
		Triggers: domain.TriggerList{
			domain.StateTrigger{EntityID: "light.x"},
		},
		ActionSequences: []domain.ActionSequence{
			{
				ActionCondition: domain.StateCondition{EntityID: "gate", State: "on"},
				Actions:         domain.ActionItemList{domain.ServiceAction{Domain: "light", Service: "turn_off"}},
			},
			{
				Actions: domain.ActionItemList{domain.ServiceAction{Domain: "light", Service: "turn_on"}},
			},
		},
	}
	r.HandleEvent(context.Background(), rule, stateChanged("light.x", "off", "on"))
	require.Len(t, caller.calls, 1)
	assert.Equal(t, "turn_on", caller.calls[0].Service)
}

func TestRunner_ActionSequence_ConditionActionFalseAbortsOnlyThatSequence(t *testing.T) {
	caller := &fakeCaller{}
	r := newRunner(caller)
	rule := domain.AutomationRule{
		ID:      "r1",
		Enabled: true,
		Triggers: domain.TriggerList{
			domain.StateTrigger{EntityID: "light.x"},
		},
		ActionSequences: []domain.ActionSequence{
			{
				Actions: domain.ActionItemList{
					domain.ConditionAction{Condition: domain.StateCondition{EntityID: "missing", State: "on"}},
					domain.ServiceAction{Domain: "light", Service: "never_called"},
				},
			},
			{
				Actions: domain.ActionItemList{domain.ServiceAction{Domain: "light", Service: "turn_on"}},
			},
		},
	}
	r.HandleEvent(context.Background(), rule, stateChanged("light.x", "off", "on"))
	require.Len(t, caller.calls, 1)
	assert.Equal(t, "turn_on", caller.calls[0].Service)
}

func TestRunner_ActionFailure_AbortsEntireRuleInvocation(t *testing.T) {
	// spec.md:112/204: unlike a false ConditionAction, a genuine action
	// failure (here a ServiceAction whose CallService errors) aborts the
	// whole invocation — the second sequence's action must never run.
	caller := &failingCaller{failServices: map[string]bool{"turn_off": true}}
	r := newFailingRunner(caller)
	rule := domain.AutomationRule{
		ID:      "r1",
		Enabled: true,
		Triggers: domain.TriggerList{
			domain.StateTrigger{EntityID: "light.x"},
		},
		ActionSequences: []domain.ActionSequence{
			{
				Actions: domain.ActionItemList{domain.ServiceAction{Domain: "light", Service: "turn_off"}},
			},
			{
				Actions: domain.ActionItemList{domain.ServiceAction{Domain: "light", Service: "turn_on"}},
			},
		},
	}
	r.HandleEvent(context.Background(), rule, stateChanged("light.x", "off", "on"))
	require.Len(t, caller.calls, 1)
	assert.Equal(t, "turn_off", caller.calls[0].Service)
}

func TestRunner_HandleTimeTrigger_SkipsTriggerRecheck(t *testing.T) {
	caller := &fakeCaller{}
	r := newRunner(caller)
	rule := domain.AutomationRule{
		ID:      "r1",
		Enabled: true,
		ActionSequences: []domain.ActionSequence{
			{Actions: domain.ActionItemList{domain.ServiceAction{Domain: "light", Service: "turn_on"}}},
		},
	}
	r.HandleTimeTrigger(context.Background(), rule)
	require.Len(t, caller.calls, 1)
}
