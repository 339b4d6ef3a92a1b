// Package runtime orchestrates one AutomationRule's invocation: the
// trigger re-check gate, rule-condition gate, and sequenced execution of
// its ActionSequences (§4.5, §4.6).
package runtime

import (
	"context"
	"log/slog"

	"github.com/ottoengine/ottoengine/internal/clock"
	"github.com/ottoengine/ottoengine/internal/ottoerr"
	"github.com/ottoengine/ottoengine/internal/rules/action"
	"github.com/ottoengine/ottoengine/internal/rules/condition"
	"github.com/ottoengine/ottoengine/internal/rules/domain"
	"github.com/ottoengine/ottoengine/internal/rules/trigger"
	"github.com/ottoengine/ottoengine/internal/state"
)

// Runner evaluates and runs one AutomationRule per invocation.
type Runner struct {
	Executor *action.Executor
	Store    *state.Store
	Clock    clock.Source
	Logger   *slog.Logger
}

// HandleEvent is the entry point for an event-driven firing: ev matched
// one of rule's triggers in the caller's listener index. HandleEvent
// drops a disabled rule, then re-evaluates each of the rule's non-time
// triggers against ev and proceeds only if at least one matches (an
// attribute-only change fails that check) before gating on the rule
// condition.
func (r *Runner) HandleEvent(ctx context.Context, rule domain.AutomationRule, ev any) {
	if !rule.Enabled {
		return
	}

	matched := false
	for _, t := range rule.Triggers {
		if _, ok := t.(domain.TimeTrigger); ok {
			continue
		}
		if trigger.Match(t, ev) {
			matched = true
			break
		}
	}
	if !matched {
		return
	}

	r.evalAndRun(ctx, rule)
}

// HandleTimeTrigger is the entry point for a scheduler-driven firing: the
// TimeSpec already elapsed, so there is no event predicate to re-check.
func (r *Runner) HandleTimeTrigger(ctx context.Context, rule domain.AutomationRule) {
	if !rule.Enabled {
		return
	}
	r.evalAndRun(ctx, rule)
}

func (r *Runner) evalAndRun(ctx context.Context, rule domain.AutomationRule) {
	if rule.RuleCondition != nil {
		ok, err := condition.Evaluate(rule.RuleCondition, r.Store, r.Clock)
		if err != nil {
			r.logError(rule.ID, err)
			return
		}
		if !ok {
			return
		}
	}

	if r.Logger != nil {
		r.Logger.Info("rule firing", "rule_id", rule.ID)
	}

	for seqID, seq := range rule.ActionSequences {
		if abortRule := r.runSequence(ctx, rule.ID, seqID, seq); abortRule {
			return
		}
	}
}

// runSequence runs one ActionSequence to completion or to its first
// failing step. A ConditionAction evaluating false aborts only this
// sequence — later sequences still run. Any other action failing (e.g. a
// ServiceAction whose CallService errors) aborts the entire invocation, so
// runSequence reports that back to evalAndRun as abortRule.
func (r *Runner) runSequence(ctx context.Context, ruleID string, seqID int, seq domain.ActionSequence) (abortRule bool) {
	if seq.ActionCondition != nil {
		ok, err := condition.Evaluate(seq.ActionCondition, r.Store, r.Clock)
		if err != nil {
			r.logError(ruleID, err)
			return false
		}
		if !ok {
			return false
		}
	}

	for actID, item := range seq.Actions {
		ok, err := r.Executor.Execute(ctx, ruleID, item)
		if err != nil {
			if ottoerr.IsConditionFalse(err) {
				if r.Logger != nil {
					r.Logger.Info("action sequence aborted by false condition",
						"rule_id", ruleID, "sequence", seqID, "action", actID)
				}
				return false
			}
			if r.Logger != nil {
				r.Logger.Warn("rule invocation aborted by action failure",
					"rule_id", ruleID, "sequence", seqID, "action", actID, "error", err)
			}
			return true
		}
		if !ok {
			return false
		}
	}
	return false
}

func (r *Runner) logError(ruleID string, err error) {
	if r.Logger != nil {
		r.Logger.Error("rule evaluation error", "rule_id", ruleID, "error", err)
	}
}
