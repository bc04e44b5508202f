package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/llmbx/jobqueue/job"
	"github.com/llmbx/jobqueue/payload"
)

// field is one calendar component of a Predicate: either "any"
// (any == true) or a specific integer to match exactly.
type field struct {
	any   bool
	value int
}

func anyField() field { return field{any: true} }

func exactField(v int) field { return field{value: v} }

func (f field) matches(v int) bool {
	return f.any || f.value == v
}

// Predicate is a calendar matcher over minute/hour/day/month/day-of-week,
// each field either "any" or a specific integer, mirroring a cron-style
// expression without ranges, steps or lists.
type Predicate struct {
	minute    field
	hour      field
	day       field
	month     field
	dayOfWeek field
}

// Matches reports whether t falls on a minute this predicate selects.
// Seconds are ignored: minute granularity is the finest resolution the
// scheduler promises.
func (p Predicate) Matches(t time.Time) bool {
	return p.minute.matches(t.Minute()) &&
		p.hour.matches(t.Hour()) &&
		p.day.matches(t.Day()) &&
		p.month.matches(int(t.Month())) &&
		p.dayOfWeek.matches(int(t.Weekday()))
}

// EveryMinute matches every minute of every day.
func EveryMinute() Predicate {
	return Predicate{anyField(), anyField(), anyField(), anyField(), anyField()}
}

// Hourly matches minute on every hour of every day.
func Hourly(minute int) Predicate {
	return Predicate{exactField(minute), anyField(), anyField(), anyField(), anyField()}
}

// Daily matches hour:minute every day.
func Daily(hour, minute int) Predicate {
	return Predicate{exactField(minute), exactField(hour), anyField(), anyField(), anyField()}
}

// Weekly matches hour:minute on the given day of week (0=Sunday).
func Weekly(dayOfWeek, hour, minute int) Predicate {
	return Predicate{exactField(minute), exactField(hour), anyField(), anyField(), exactField(dayOfWeek)}
}

// ParsePredicate parses a 5-field cron-like expression: "minute hour day
// month day_of_week", each field either "*" or a non-negative integer.
// It does not support ranges, steps, or comma lists.
func ParsePredicate(expr string) (Predicate, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return Predicate{}, fmt.Errorf("scheduler: expected 5 fields, got %d in %q", len(parts), expr)
	}
	fields := make([]field, 5)
	for i, part := range parts {
		if part == "*" {
			fields[i] = anyField()
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return Predicate{}, fmt.Errorf("scheduler: bad field %q in %q: %w", part, expr, err)
		}
		if v < 0 {
			return Predicate{}, fmt.Errorf("scheduler: negative field %q in %q", part, expr)
		}
		fields[i] = exactField(v)
	}
	return Predicate{fields[0], fields[1], fields[2], fields[3], fields[4]}, nil
}

// Entry is one recurring job definition: a name (for logging), the
// predicate selecting which minutes it fires on, a template payload to
// clone for each emission, and the priority to enqueue at.
type Entry struct {
	Name      string
	Predicate Predicate
	Payload   func() payload.Payload
	Priority  job.Priority
}
