package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleKind selects how a rule's schedule fires.
type ScheduleKind string

const (
	ScheduleKindCron     ScheduleKind = "cron"
	ScheduleKindInterval ScheduleKind = "interval"
	ScheduleKindOnce     ScheduleKind = "once"
)

var (
	// ErrInvalidSchedule is returned when schedule validation fails.
	ErrInvalidSchedule = errors.New("invalid schedule configuration")
)

// cronParser accepts the standard 5-field format (minute hour dom month dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule is a rule's persisted schedule definition. Exactly one of the
// kind-specific field groups is meaningful, selected by Kind.
type Schedule struct {
	Kind ScheduleKind `json:"kind" validate:"required"`

	// Cron kind.
	CronExpression string `json:"cron_expression,omitempty"`
	Timezone       string `json:"timezone,omitempty"`

	// Interval kind.
	IntervalMS    int `json:"interval_ms,omitempty"    validate:"min=0"`
	StartDelayMS  int `json:"start_delay_ms,omitempty" validate:"min=0"`
	MaxExecutions int `json:"max_executions,omitempty" validate:"min=0"`

	// Once kind.
	ExecuteAt *time.Time `json:"execute_at,omitempty"`

	// Execution window. Both are advisory filters checked at fire time.
	ActiveHours *ActiveHours `json:"active_hours,omitempty"`
	ActiveDays  []int        `json:"active_days,omitempty" validate:"dive,min=0,max=6"`
}

// ActiveHours restricts fires to a time-of-day window. Start after End means
// the window wraps midnight.
type ActiveHours struct {
	Start string `json:"start" validate:"required"`
	End   string `json:"end"   validate:"required"`
}

// Validate checks the kind-specific fields and window definition.
func (s *Schedule) Validate() error {
	switch s.Kind {
	case ScheduleKindCron:
		if s.CronExpression == "" {
			return fmt.Errorf("%w: cron expression is required", ErrInvalidSchedule)
		}

		if _, err := cronParser.Parse(s.CronExpression); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}

		if s.Timezone != "" {
			if _, err := time.LoadLocation(s.Timezone); err != nil {
				return fmt.Errorf("%w: unknown timezone %q", ErrInvalidSchedule, s.Timezone)
			}
		}
	case ScheduleKindInterval:
		if s.IntervalMS <= 0 {
			return fmt.Errorf("%w: interval_ms must be positive", ErrInvalidSchedule)
		}
	case ScheduleKindOnce:
		if s.ExecuteAt == nil {
			return fmt.Errorf("%w: execute_at is required", ErrInvalidSchedule)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, s.Kind)
	}

	if s.ActiveHours != nil {
		if _, err := parseMinuteOfDay(s.ActiveHours.Start); err != nil {
			return fmt.Errorf("%w: active_hours.start: %v", ErrInvalidSchedule, err)
		}

		if _, err := parseMinuteOfDay(s.ActiveHours.End); err != nil {
			return fmt.Errorf("%w: active_hours.end: %v", ErrInvalidSchedule, err)
		}
	}

	for _, day := range s.ActiveDays {
		if day < 0 || day > 6 {
			return fmt.Errorf("%w: active day %d out of range", ErrInvalidSchedule, day)
		}
	}

	return nil
}

// Location resolves the schedule's timezone, defaulting to UTC.
func (s *Schedule) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}

	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}

	return loc
}

// NextCron computes the next cron fire strictly after the given time.
func (s *Schedule) NextCron(after time.Time) (time.Time, error) {
	spec, err := cronParser.Parse(s.CronExpression)
	if err != nil {
		return time.Time{}, err
	}

	return spec.Next(after.In(s.Location())), nil
}

// Interval returns the interval kind's period.
func (s *Schedule) Interval() time.Duration {
	return time.Duration(s.IntervalMS) * time.Millisecond
}

// StartDelay returns the interval kind's initial delay.
func (s *Schedule) StartDelay() time.Duration {
	return time.Duration(s.StartDelayMS) * time.Millisecond
}

// InWindow reports whether t falls inside the schedule's execution window.
// A schedule without window restrictions is always in window.
func (s *Schedule) InWindow(t time.Time) bool {
	local := t.In(s.Location())

	if len(s.ActiveDays) > 0 {
		day := int(local.Weekday()) // 0=Sunday..6=Saturday
		found := false

		for _, d := range s.ActiveDays {
			if d == day {
				found = true

				break
			}
		}

		if !found {
			return false
		}
	}

	if s.ActiveHours != nil {
		start, err := parseMinuteOfDay(s.ActiveHours.Start)
		if err != nil {
			return true
		}

		end, err := parseMinuteOfDay(s.ActiveHours.End)
		if err != nil {
			return true
		}

		minute := local.Hour()*60 + local.Minute()

		if start > end {
			// Window wraps midnight, e.g. 22:00-06:00.
			return minute >= start || minute < end
		}

		return minute >= start && minute < end
	}

	return true
}

// parseMinuteOfDay converts "HH:MM" into a minute-of-day offset.
func parseMinuteOfDay(value string) (int, error) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", value)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", value)
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", value)
	}

	return hour*60 + minute, nil
}
