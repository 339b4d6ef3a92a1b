// Package action executes one RuleActionItem at a time (§4.4) against the
// connection, state store, clock and engine log.
package action

import (
	"context"
	"log/slog"
	"time"

	"github.com/ottoengine/ottoengine/internal/clock"
	"github.com/ottoengine/ottoengine/internal/ottoerr"
	"github.com/ottoengine/ottoengine/internal/rules/condition"
	"github.com/ottoengine/ottoengine/internal/rules/domain"
	"github.com/ottoengine/ottoengine/internal/state"
)

// ServiceCaller sends a ServiceCall over the connection. It reports only
// whether the call was accepted for sending, not whether Home Assistant
// carried it out.
type ServiceCaller interface {
	CallService(ctx context.Context, call state.ServiceCall) error
}

// LogSink appends a message to the engine log (§4.7).
type LogSink interface {
	Append(level, message string)
}

// Executor runs RuleActionItems against a fixed set of collaborators.
type Executor struct {
	Caller ServiceCaller
	Store  *state.Store
	Clock  clock.Source
	Log    LogSink
	Logger *slog.Logger
}

// Execute runs one action item within rule ruleID. It returns true and a
// nil error if the step succeeded. A ConditionAction that evaluates false
// returns false with a ConditionFalseError (which aborts only the current
// sequence); any other failure returns false with an ActionFailedError
// (which aborts the containing invocation).
func (e *Executor) Execute(ctx context.Context, ruleID string, item domain.RuleActionItem) (bool, error) {
	switch a := item.(type) {
	case domain.ServiceAction:
		call := state.ServiceCall{Domain: a.Domain, Service: a.Service, ServiceData: a.Data}
		if err := e.Caller.CallService(ctx, call); err != nil {
			return false, &ottoerr.ActionFailedError{RuleID: ruleID, Cause: err}
		}
		if e.Logger != nil {
			e.Logger.Info("service action executed", "rule_id", ruleID, "domain", a.Domain, "service", a.Service)
		}
		return true, nil

	case domain.ConditionAction:
		ok, err := condition.Evaluate(a.Condition, e.Store, e.Clock)
		if err != nil {
			return false, &ottoerr.ActionFailedError{RuleID: ruleID, Cause: err}
		}
		if !ok {
			return false, &ottoerr.ConditionFalseError{RuleID: ruleID}
		}
		return true, nil

	case domain.DelayAction:
		select {
		case <-time.After(a.Delay):
			return true, nil
		case <-ctx.Done():
			return false, &ottoerr.ActionFailedError{RuleID: ruleID, Cause: ctx.Err()}
		}

	case domain.LogAction:
		if e.Log != nil {
			e.Log.Append("INFO", a.Message)
		}
		if e.Logger != nil {
			e.Logger.Info("log action", "rule_id", ruleID, "message", a.Message)
		}
		return true, nil

	default:
		return false, &ottoerr.ActionFailedError{RuleID: ruleID, Cause: ottoerr.ErrInvalidSpec}
	}
}
