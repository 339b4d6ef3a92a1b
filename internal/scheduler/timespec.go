// Package scheduler implements OttoEngine's cron-style wall-clock
// scheduler: TimeSpec parsing, the ascending alarm timeline, and the
// tick-driven dispatch loop with grace handling.
package scheduler

import (
	"fmt"
	"regexp"
	"time"

	"github.com/ottoengine/ottoengine/internal/ottoerr"
	"github.com/robfig/cron/v3"
)

// TICK_INTERVAL and TICK_GRACE are named to mirror the original engine's
// clock.py constants.
const (
	TickInterval = 1 * time.Second
	TickGrace    = 60 * time.Second
)

// fieldPattern accepts a wildcard, a step expression, or a comma-separated
// list of literal values — the cron field grammar this engine supports.
var fieldPattern = regexp.MustCompile(`^(\*(/\d+)?|\d+(-\d+)?(,\d+(-\d+)?)*)$`)

// TimeSpec is a cron-style recurrence description: six fields (minute,
// hour, day-of-month, month, weekday) each a literal, wildcard, or step
// expression, plus an IANA timezone name. Weekday numbering is 0=Sunday
// through 6=Saturday.
type TimeSpec struct {
	Minute     string `yaml:"minute,omitempty" json:"minute,omitempty"`
	Hour       string `yaml:"hour,omitempty" json:"hour,omitempty"`
	DayOfMonth string `yaml:"day_of_month,omitempty" json:"day_of_month,omitempty"`
	Month      string `yaml:"month,omitempty" json:"month,omitempty"`
	Weekdays   string `yaml:"weekdays,omitempty" json:"weekdays,omitempty"`
	TZName     string `yaml:"tz,omitempty" json:"tz,omitempty"`
}

// NewTimeSpec fills unset fields with "*" and defaults TZName when empty.
func NewTimeSpec(minute, hour, dayOfMonth, month, weekdays, tzName string) TimeSpec {
	ts := TimeSpec{
		Minute:     orWildcard(minute),
		Hour:       orWildcard(hour),
		DayOfMonth: orWildcard(dayOfMonth),
		Month:      orWildcard(month),
		Weekdays:   orWildcard(weekdays),
		TZName:     tzName,
	}
	if ts.TZName == "" {
		ts.TZName = "UTC"
	}
	return ts
}

func orWildcard(field string) string {
	if field == "" {
		return "*"
	}
	return field
}

// Validate checks each field against the supported cron grammar and that
// TZName names a loadable IANA zone. It returns an *InvalidSpecError
// naming the first offending field.
func (t TimeSpec) Validate() error {
	fields := map[string]string{
		"minute":       t.Minute,
		"hour":         t.Hour,
		"day_of_month": t.DayOfMonth,
		"month":        t.Month,
		"weekdays":     t.Weekdays,
	}
	for _, name := range []string{"minute", "hour", "day_of_month", "month", "weekdays"} {
		v := fields[name]
		if v == "" {
			v = "*"
		}
		if !fieldPattern.MatchString(v) {
			return &ottoerr.InvalidSpecError{Field: name, Message: fmt.Sprintf("invalid cron field value %q", v)}
		}
	}
	if t.TZName == "" {
		return &ottoerr.InvalidSpecError{Field: "tz", Message: "timezone name is required"}
	}
	if _, err := time.LoadLocation(t.TZName); err != nil {
		return &ottoerr.InvalidSpecError{Field: "tz", Message: fmt.Sprintf("unknown timezone %q", t.TZName)}
	}
	return nil
}

// cronExpr builds the five-field "minute hour dom month dow" expression
// robfig/cron's standard parser expects, mirroring the original
// implementation's croniter expression construction.
func (t TimeSpec) cronExpr() string {
	return fmt.Sprintf("%s %s %s %s %s",
		orWildcard(t.Minute), orWildcard(t.Hour), orWildcard(t.DayOfMonth),
		orWildcard(t.Month), orWildcard(t.Weekdays))
}

// NextTimeFrom returns the least instant strictly greater than now that
// satisfies every field, expressed in now's original location. Fails with
// *InvalidSpecError if any field or the timezone does not validate.
func (t TimeSpec) NextTimeFrom(now time.Time) (time.Time, error) {
	if err := t.Validate(); err != nil {
		return time.Time{}, err
	}
	loc, err := time.LoadLocation(t.TZName)
	if err != nil {
		return time.Time{}, &ottoerr.InvalidSpecError{Field: "tz", Message: err.Error()}
	}

	schedule, err := cron.ParseStandard(t.cronExpr())
	if err != nil {
		return time.Time{}, &ottoerr.InvalidSpecError{Field: "cron", Message: err.Error()}
	}

	localNow := now.In(loc)
	next := schedule.Next(localNow)
	return next.In(now.Location()), nil
}
