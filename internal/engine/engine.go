// Package engine is OttoEngine's core: it owns the state store and
// listener index, routes inbound connection events to matching rules,
// drives rule (re)loading from persistence, and exposes every mutation
// or read an outside caller needs through a single-writer façade (§4.5).
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ottoengine/ottoengine/internal/clock"
	"github.com/ottoengine/ottoengine/internal/enginelog"
	"github.com/ottoengine/ottoengine/internal/ottoerr"
	"github.com/ottoengine/ottoengine/internal/persistence/rulefile"
	"github.com/ottoengine/ottoengine/internal/rules/action"
	"github.com/ottoengine/ottoengine/internal/rules/domain"
	"github.com/ottoengine/ottoengine/internal/rules/runtime"
	"github.com/ottoengine/ottoengine/internal/scheduler"
	"github.com/ottoengine/ottoengine/internal/state"
	"github.com/ottoengine/ottoengine/pkg/observability"
)

// DefaultFacadeTimeout is the bounded wait (§4.5) a façade call allows
// before failing with a TimeoutError.
const DefaultFacadeTimeout = 5 * time.Second

// Config wires an Engine's dependencies.
type Config struct {
	Store      *state.Store
	Clock      clock.Source
	Logger     *slog.Logger
	Metrics    observability.Metrics
	Repository *rulefile.Repository
	Caller     action.ServiceCaller
	EngineLog  *enginelog.Log

	// AuxEventType is a configured auxiliary event type (beyond
	// state_changed). The Engine stores it but does not read it or pass it
	// to the connection supervisor, which subscribes to all event types.
	AuxEventType string

	// FacadeTimeout overrides DefaultFacadeTimeout when positive.
	FacadeTimeout time.Duration
}

type listenerEntry struct {
	Rule    domain.AutomationRule
	Trigger domain.Trigger
}

// Engine owns the state store, listener index and rule set, serializing
// every mutation onto one core goroutine (Run). Dispatch* methods satisfy
// connection.Dispatcher; the exported Get/Set/List/Save/Delete/Reload/
// CheckTimeSpec methods are the cross-thread façade REST calls through.
type Engine struct {
	store     *state.Store
	clock     clock.Source
	logger    *slog.Logger
	metrics   observability.Metrics
	repo      *rulefile.Repository
	runner    *runtime.Runner
	engineLog *enginelog.Log
	timeline  *scheduler.Timeline

	auxEventType  string
	facadeTimeout time.Duration

	cmdCh chan func()

	rules       map[string]domain.AutomationRule
	byEntity    map[string][]listenerEntry
	byEventType map[string][]listenerEntry
	timeIDs     []string
}

// New creates an Engine. Call Run to start its core goroutine, then
// Reload to populate the rule set from persistence.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}
	if cfg.FacadeTimeout <= 0 {
		cfg.FacadeTimeout = DefaultFacadeTimeout
	}

	timeline := scheduler.NewTimeline()
	e := &Engine{
		store:         cfg.Store,
		clock:         cfg.Clock,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		repo:          cfg.Repository,
		engineLog:     cfg.EngineLog,
		timeline:      timeline,
		auxEventType:  cfg.AuxEventType,
		facadeTimeout: cfg.FacadeTimeout,
		cmdCh:         make(chan func(), 256),
		rules:         make(map[string]domain.AutomationRule),
		byEntity:      make(map[string][]listenerEntry),
		byEventType:   make(map[string][]listenerEntry),
	}
	e.runner = &runtime.Runner{
		Executor: &action.Executor{
			Caller: cfg.Caller,
			Store:  cfg.Store,
			Clock:  cfg.Clock,
			Log:    cfg.EngineLog,
			Logger: cfg.Logger,
		},
		Store:  cfg.Store,
		Clock:  cfg.Clock,
		Logger: cfg.Logger,
	}
	return e
}

// NewSchedulerDriver builds the scheduler driver over this engine's
// timeline. The caller starts it alongside Run, e.g. `go driver.Start(ctx)`.
func (e *Engine) NewSchedulerDriver() *scheduler.Driver {
	return scheduler.NewDriver(e.clock, e.timeline, e.logger, e.metrics)
}

// Run processes façade calls and dispatched connection events on a single
// goroutine until ctx is cancelled. Callers typically invoke it with `go`.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-e.cmdCh:
			cmd()
		}
	}
}

func (e *Engine) enqueue(cmd func()) {
	e.cmdCh <- cmd
}

type callResult struct {
	value any
	err   error
}

// call marshals fn onto the core goroutine and waits up to facadeTimeout
// both to enqueue and for fn to complete, per §4.5's bounded-wait façade.
func (e *Engine) call(operation string, fn func() (any, error)) (any, error) {
	reply := make(chan callResult, 1)
	cmd := func() {
		v, err := fn()
		reply <- callResult{value: v, err: err}
	}

	select {
	case e.cmdCh <- cmd:
	case <-time.After(e.facadeTimeout):
		return nil, &ottoerr.TimeoutError{Operation: operation}
	}

	select {
	case r := <-reply:
		return r.value, r.err
	case <-time.After(e.facadeTimeout):
		return nil, &ottoerr.TimeoutError{Operation: operation}
	}
}

// ~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~
//  connection.Dispatcher
// ~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~

// DispatchStateChanged implements connection.Dispatcher: it updates the
// store, then fans the event out to every rule listening on this entity.
func (e *Engine) DispatchStateChanged(ev *state.StateChangedEvent) {
	e.enqueue(func() { e.handleStateChanged(ev) })
}

// DispatchEvent implements connection.Dispatcher for a generic event.
func (e *Engine) DispatchEvent(ev *state.HassEvent) {
	e.enqueue(func() { e.handleGenericEvent(ev) })
}

// DispatchEntitySnapshot implements connection.Dispatcher: it updates the
// store's mirrored entity state from an initial get_states result. No
// listeners are fanned out for a snapshot.
func (e *Engine) DispatchEntitySnapshot(entities []state.EntityState) {
	e.enqueue(func() {
		for _, ent := range entities {
			e.store.UpsertEntity(ent)
		}
	})
}

// DispatchServiceRegistry implements connection.Dispatcher.
func (e *Engine) DispatchServiceRegistry(registrations []state.ServiceRegistration) {
	e.enqueue(func() {
		for _, reg := range registrations {
			e.store.RegisterService(reg)
		}
	})
}

func (e *Engine) handleStateChanged(ev *state.StateChangedEvent) {
	if ev.NewState != nil {
		e.store.UpsertEntity(*ev.NewState)
	}

	for _, l := range e.byEntity[ev.EntityID] {
		e.logger.Info("invoking trigger", "rule_id", l.Rule.ID, "entity_id", ev.EntityID)
		e.engineLog.Add(enginelog.KindTriggerFired, map[string]any{"rule_id": l.Rule.ID, "entity_id": ev.EntityID})
		rule := l.Rule
		go e.runner.HandleEvent(context.Background(), rule, ev)
	}
}

func (e *Engine) handleGenericEvent(ev *state.HassEvent) {
	for _, l := range e.byEventType[ev.EventType] {
		e.logger.Info("invoking trigger", "rule_id", l.Rule.ID, "event_type", ev.EventType)
		e.engineLog.Add(enginelog.KindTriggerFired, map[string]any{"rule_id": l.Rule.ID, "event_type": ev.EventType})
		rule := l.Rule
		go e.runner.HandleEvent(context.Background(), rule, ev)
	}
}

// ~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~
//  Façade
// ~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~

// GetState reads one generic (group, key) value.
func (e *Engine) GetState(group, key string) (any, bool, error) {
	v, err := e.call("get_state", func() (any, error) {
		val, ok := e.store.Get(group, key)
		return [2]any{val, ok}, nil
	})
	if err != nil {
		return nil, false, err
	}
	pair := v.([2]any)
	return pair[0], pair[1].(bool), nil
}

// SetState writes one generic (group, key) value.
func (e *Engine) SetState(group, key string, value any) error {
	_, err := e.call("set_state", func() (any, error) {
		e.store.Set(group, key, value)
		return nil, nil
	})
	return err
}

// GetEntity returns one entity's current state.
func (e *Engine) GetEntity(entityID string) (state.EntityState, bool, error) {
	v, err := e.call("get_entity", func() (any, error) {
		ent, ok := e.store.Entity(entityID)
		return [2]any{ent, ok}, nil
	})
	if err != nil {
		return state.EntityState{}, false, err
	}
	pair := v.([2]any)
	return pair[0].(state.EntityState), pair[1].(bool), nil
}

// Entities returns a snapshot of every known entity.
func (e *Engine) Entities() ([]state.EntityState, error) {
	v, err := e.call("list_entities", func() (any, error) {
		return e.store.Entities(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]state.EntityState), nil
}

// Services returns every registered service domain.
func (e *Engine) Services() ([]state.ServiceRegistration, error) {
	v, err := e.call("list_services", func() (any, error) {
		return e.store.Services(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]state.ServiceRegistration), nil
}

// ListRules returns every loaded rule's descriptor.
func (e *Engine) ListRules() ([]domain.Descriptor, error) {
	v, err := e.call("list_rules", func() (any, error) {
		out := make([]domain.Descriptor, 0, len(e.rules))
		for _, r := range e.rules {
			out = append(out, r.ToDescriptor())
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Descriptor), nil
}

// GetRule returns one loaded rule by id.
func (e *Engine) GetRule(id string) (domain.AutomationRule, bool, error) {
	v, err := e.call("get_rule", func() (any, error) {
		r, ok := e.rules[id]
		return [2]any{r, ok}, nil
	})
	if err != nil {
		return domain.AutomationRule{}, false, err
	}
	pair := v.([2]any)
	return pair[0].(domain.AutomationRule), pair[1].(bool), nil
}

// SaveRule persists rule and reloads the rule set so its listeners take
// effect (§4.5: "incremental rule updates are achieved by clear-then-load").
func (e *Engine) SaveRule(rule domain.AutomationRule) error {
	_, err := e.call("save_rule", func() (any, error) {
		if err := e.repo.Save(rule); err != nil {
			return nil, err
		}
		return nil, e.doReload()
	})
	return err
}

// DeleteRule removes a persisted rule and reloads. It reports whether the
// rule existed.
func (e *Engine) DeleteRule(id string) (bool, error) {
	v, err := e.call("delete_rule", func() (any, error) {
		existed, delErr := e.repo.Delete(id)
		if delErr != nil {
			return false, delErr
		}
		if err := e.doReload(); err != nil {
			return existed, err
		}
		return existed, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Reload clears and reloads every rule from persistence.
func (e *Engine) Reload() error {
	_, err := e.call("reload", func() (any, error) {
		return nil, e.doReload()
	})
	return err
}

// EngineLog returns a snapshot of the engine log ring buffer.
func (e *Engine) EngineLog() ([]enginelog.Record, error) {
	v, err := e.call("get_engine_log", func() (any, error) {
		return e.engineLog.Records(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]enginelog.Record), nil
}

// CheckTimeSpec validates spec and returns its next firing instant.
func (e *Engine) CheckTimeSpec(spec scheduler.TimeSpec) (time.Time, error) {
	v, err := e.call("check_timespec", func() (any, error) {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		return spec.NextTimeFrom(e.clock.Now())
	})
	if err != nil {
		return time.Time{}, err
	}
	return v.(time.Time), nil
}

// ~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~
//  Listener index (core-goroutine only)
// ~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~

func (e *Engine) doReload() error {
	e.clearListeners()

	rules, loadErrs := e.repo.List()
	for _, loadErr := range loadErrs {
		e.logger.Error("failed to load rule", "error", loadErr)
		e.engineLog.Add(enginelog.KindDebug, map[string]any{"level": "error", "message": loadErr.Error()})
	}

	for _, rule := range rules {
		e.rules[rule.ID] = rule
		e.registerListeners(rule)
	}
	return nil
}

func (e *Engine) clearListeners() {
	for _, id := range e.timeIDs {
		e.timeline.RemoveByID(id)
	}
	e.timeIDs = nil
	e.byEntity = make(map[string][]listenerEntry)
	e.byEventType = make(map[string][]listenerEntry)
	e.rules = make(map[string]domain.AutomationRule)
}

func (e *Engine) registerListeners(rule domain.AutomationRule) {
	for i, t := range rule.Triggers {
		if tt, ok := t.(domain.TimeTrigger); ok {
			e.registerTimeTrigger(rule, i, tt)
			continue
		}

		key, ok := t.IndexKey()
		if !ok {
			continue
		}
		entry := listenerEntry{Rule: rule, Trigger: t}
		if _, isEvent := t.(domain.EventTrigger); isEvent {
			e.byEventType[key] = append(e.byEventType[key], entry)
		} else {
			e.byEntity[key] = append(e.byEntity[key], entry)
		}
		e.logger.Info("adding listener", "key", key, "rule_id", rule.ID)
	}
}

func (e *Engine) registerTimeTrigger(rule domain.AutomationRule, index int, tt domain.TimeTrigger) {
	id := fmt.Sprintf("%s#%d", rule.ID, index)
	next, err := tt.Spec.NextTimeFrom(e.clock.Now())
	if err != nil {
		e.logger.Error("skipping invalid time trigger", "rule_id", rule.ID, "error", err)
		return
	}

	e.timeIDs = append(e.timeIDs, id)
	boundRule := rule
	spec := tt.Spec
	e.timeline.Schedule(next, scheduler.Action{
		ID:   id,
		Spec: &spec,
		Run: func(ctx context.Context) {
			e.runner.HandleTimeTrigger(ctx, boundRule)
		},
	})
	e.logger.Info("adding time listener", "rule_id", rule.ID, "next", next)
}
