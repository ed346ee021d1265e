package cron

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidCron is returned when an expression cannot be parsed.
var ErrInvalidCron = errors.New("invalid cron expression")

// InvalidCronError reports an unparseable expression or timezone.
type InvalidCronError struct {
	Expr  string
	Cause error
}

func (e *InvalidCronError) Error() string {
	return fmt.Sprintf("invalid cron expression %q: %v", e.Expr, e.Cause)
}

func (e *InvalidCronError) Unwrap() []error {
	return []error{ErrInvalidCron, e.Cause}
}

// Presets maps preset names to expressions.
var Presets = map[string]string{
	"EVERY_MINUTE":     "* * * * *",
	"EVERY_5_MINUTES":  "*/5 * * * *",
	"EVERY_30_MINUTES": "*/30 * * * *",
	"HOURLY":           "0 * * * *",
	"DAILY_9AM":        "0 9 * * *",
	"DAILY_6PM":        "0 18 * * *",
	"WEEKLY_MONDAY":    "0 9 * * 1",
	"WEEKLY_FRIDAY":    "0 17 * * 5",
	"MONTHLY_FIRST":    "0 9 1 * *",
}

// Standard 5-field expressions plus @daily style descriptors.
var cronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Expand returns the expression for a preset name, or expr unchanged.
func Expand(expr string) string {
	expr = strings.TrimSpace(expr)
	if preset, ok := Presets[strings.ToUpper(expr)]; ok {
		return preset
	}
	return expr
}

// Schedule is a parsed expression bound to a location.
type Schedule struct {
	Expr     string
	Location *time.Location
	spec     cron.Schedule
}

// Parse parses expr (or a preset name) evaluated in timezone. An empty
// timezone uses fallback, or UTC when fallback is nil.
func Parse(expr, timezone string, fallback *time.Location) (Schedule, error) {
	expanded := Expand(expr)
	if expanded == "" {
		return Schedule{}, &InvalidCronError{Expr: expr, Cause: errors.New("expression is empty")}
	}
	loc := fallback
	if loc == nil {
		loc = time.UTC
	}
	if tz := strings.TrimSpace(timezone); tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			return Schedule{}, &InvalidCronError{Expr: expr, Cause: fmt.Errorf("timezone %q: %w", tz, err)}
		}
		loc = parsed
	}
	spec, err := cronParser.Parse(expanded)
	if err != nil {
		return Schedule{}, &InvalidCronError{Expr: expr, Cause: err}
	}
	return Schedule{Expr: expanded, Location: loc, spec: spec}, nil
}

// Next returns the first activation strictly after t, in UTC.
func (s Schedule) Next(t time.Time) time.Time {
	if s.spec == nil {
		return time.Time{}
	}
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	return s.spec.Next(t.In(loc)).UTC()
}
