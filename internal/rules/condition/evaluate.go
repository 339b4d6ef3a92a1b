// Package condition evaluates OttoEngine's boolean Condition tree (§4.3)
// against the current state store and clock. Evaluation is pure,
// synchronous, and performs no I/O.
package condition

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ottoengine/ottoengine/internal/clock"
	"github.com/ottoengine/ottoengine/internal/rules/domain"
	"github.com/ottoengine/ottoengine/internal/state"
)

// SunEntityID is the well-known entity exposing next_rising/next_setting
// attributes that SunCondition reads.
const SunEntityID = "sun.sun"

// Evaluate recursively evaluates c against store, using clk for the
// current instant.
func Evaluate(c domain.Condition, store *state.Store, clk clock.Source) (bool, error) {
	switch cond := c.(type) {
	case domain.AndCondition:
		for _, child := range cond.Children {
			ok, err := Evaluate(child, store, clk)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case domain.OrCondition:
		for _, child := range cond.Children {
			ok, err := Evaluate(child, store, clk)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case domain.StateCondition:
		entity, ok := store.Entity(cond.EntityID)
		if !ok {
			return false, nil
		}
		return entity.State == cond.State, nil

	case domain.NumericStateCondition:
		entity, ok := store.Entity(cond.EntityID)
		if !ok {
			return false, nil
		}
		v, err := strconv.ParseFloat(entity.State, 64)
		if err != nil {
			return false, nil
		}
		if cond.Above != nil && !(v > *cond.Above) {
			return false, nil
		}
		if cond.Below != nil && !(v < *cond.Below) {
			return false, nil
		}
		return true, nil

	case domain.ZoneCondition:
		entity, ok := store.Entity(cond.EntityID)
		if !ok {
			return false, nil
		}
		return entity.State == cond.Zone, nil

	case domain.TemplateCondition:
		// Real template evaluation is outside the engine's scope (§1).
		return true, nil

	case domain.TimeCondition:
		return evaluateTime(cond, clk)

	case domain.SunCondition:
		return evaluateSun(cond, store, clk)

	default:
		return false, fmt.Errorf("condition: unknown kind %T", c)
	}
}

func evaluateTime(cond domain.TimeCondition, clk clock.Source) (bool, error) {
	loc := time.UTC
	if cond.TZName != "" {
		l, err := time.LoadLocation(cond.TZName)
		if err != nil {
			return false, fmt.Errorf("time condition: %w", err)
		}
		loc = l
	}

	now := clk.Now().In(loc)
	after := time.Duration(0)
	if cond.After != nil {
		after = *cond.After
	}
	before := 24*time.Hour - time.Microsecond
	if cond.Before != nil {
		before = *cond.Before
	}

	sinceMidnight := now.Sub(time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc))

	if after < before {
		// A period within a day.
		if !(sinceMidnight >= after && sinceMidnight < before) {
			return false, nil
		}
	} else {
		// Period crosses midnight: the *excluded* window is [before, after).
		if sinceMidnight >= before && sinceMidnight < after {
			return false, nil
		}
	}

	if len(cond.Weekdays) > 0 {
		matched := false
		for _, wd := range cond.Weekdays {
			if now.Weekday() == wd {
				matched = true
				break
			}
		}
		if !matched {
			return false, nil
		}
	}

	return true, nil
}

func evaluateSun(cond domain.SunCondition, store *state.Store, clk clock.Source) (bool, error) {
	sun, ok := store.Entity(SunEntityID)
	if !ok {
		return false, fmt.Errorf("sun condition: %s not found in state store", SunEntityID)
	}

	nextRising, err := parseSunAttribute(sun, "next_rising")
	if err != nil {
		return false, err
	}
	nextSetting, err := parseSunAttribute(sun, "next_setting")
	if err != nil {
		return false, err
	}

	now := clk.Now()

	if cond.Before == "sunrise" && now.After(nextRising.Add(cond.BeforeOffset)) {
		return false, nil
	}
	if cond.Before == "sunset" && now.After(nextSetting.Add(cond.BeforeOffset)) {
		return false, nil
	}
	if cond.After == "sunrise" && now.Before(nextRising.Add(cond.AfterOffset)) {
		return false, nil
	}
	if cond.After == "sunset" && now.Before(nextSetting.Add(cond.AfterOffset)) {
		return false, nil
	}

	return true, nil
}

func parseSunAttribute(entity state.EntityState, key string) (time.Time, error) {
	raw, ok := entity.Attributes[key]
	if !ok {
		return time.Time{}, fmt.Errorf("sun condition: entity attribute %q missing", key)
	}
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("sun condition: attribute %q is not a string", key)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sun condition: attribute %q: %w", key, err)
	}
	return t, nil
}
