// Package schedule parses five-field cron expressions and computes fire
// times. It has no clock, no goroutines and no storage; the cron package
// drives it.
//
// Expressions follow github.com/robfig/cron/v3 standard syntax: "*", "n",
// "a-b", "*/s", "a-b/s", "n/s" and comma lists of those, month names
// JAN-DEC and weekday names SUN-SAT. In the day-of-week field 7 is also
// accepted as Sunday. The descriptors @yearly, @annually, @monthly,
// @weekly, @daily, @midnight and @hourly are recognised; @every is not.
// When both day-of-month and day-of-week are restricted, a day matches if
// either does.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/backlog"
)

// cronParser accepts standard 5-field cron and descriptors.
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

var weekdays = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

// Schedule is a parsed cron expression.
type Schedule struct {
	expr string
	loc  *time.Location
	spec *cronlib.SpecSchedule
}

// Parse parses expr and evaluates it in UTC.
func Parse(expr string) (*Schedule, error) {
	return ParseInLocation(expr, time.UTC)
}

// MustParse is like Parse but panics on error. Use it for expressions
// fixed at compile time.
func MustParse(expr string) *Schedule {
	s, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return s
}

// ParseInLocation parses expr and evaluates fire times in loc. A
// CRON_TZ= or TZ= prefix in expr takes precedence over loc.
func ParseInLocation(expr string, loc *time.Location) (*Schedule, error) {
	if loc == nil {
		loc = time.UTC
	}
	trimmed := strings.TrimSpace(expr)

	tz, body := splitTZ(trimmed)
	if strings.HasPrefix(body, "@") {
		body = strings.ToLower(body)
		if strings.HasPrefix(body, "@every") {
			return nil, fmt.Errorf("%w: %q: @every is not supported", backlog.ErrInvalidSchedule, expr)
		}
	} else {
		fields := strings.Fields(body)
		if len(fields) != 5 {
			return nil, fmt.Errorf("%w: %q: expected 5 fields, found %d", backlog.ErrInvalidSchedule, expr, len(fields))
		}
		dow, err := normalizeWeekdays(fields[4])
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", backlog.ErrInvalidSchedule, expr, err)
		}
		fields[4] = dow
		body = strings.Join(fields, " ")
	}

	parsed, err := cronParser.Parse(tz + body)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", backlog.ErrInvalidSchedule, expr, err)
	}
	spec, ok := parsed.(*cronlib.SpecSchedule)
	if !ok {
		return nil, fmt.Errorf("%w: %q: not a calendar schedule", backlog.ErrInvalidSchedule, expr)
	}
	if tz == "" {
		spec.Location = loc
	}
	return &Schedule{expr: trimmed, loc: spec.Location, spec: spec}, nil
}

// splitTZ separates a leading CRON_TZ= or TZ= clause, returned with its
// trailing space, from the rest of the expression.
func splitTZ(expr string) (tz, body string) {
	if !strings.HasPrefix(expr, "CRON_TZ=") && !strings.HasPrefix(expr, "TZ=") {
		return "", expr
	}
	head, rest, _ := strings.Cut(expr, " ")
	return head + " ", strings.TrimSpace(rest)
}

// normalizeWeekdays rewrites 7 in the day-of-week field to Sunday (0),
// which cronlib rejects as out of range.
func normalizeWeekdays(field string) (string, error) {
	parts := strings.Split(field, ",")
	out := make([]string, 0, len(parts)+1)
	for _, part := range parts {
		rng, stepExpr, hasStep := strings.Cut(part, "/")
		lo, hi, isRange := strings.Cut(rng, "-")

		switch {
		case rng == "7":
			out = append(out, "0")
		case isRange && hi == "7":
			from, err := weekday(lo)
			if err != nil {
				return "", err
			}
			step := 1
			if hasStep {
				if step, err = strconv.Atoi(stepExpr); err != nil || step <= 0 {
					return "", fmt.Errorf("day-of-week: invalid step %q", stepExpr)
				}
			}
			if from < 7 {
				out = append(out, lo+"-6"+stepSuffix(stepExpr, hasStep))
			}
			if (7-from)%step == 0 {
				out = append(out, "0")
			}
		default:
			out = append(out, part)
		}
	}
	return strings.Join(out, ","), nil
}

func stepSuffix(step string, ok bool) string {
	if !ok {
		return ""
	}
	return "/" + step
}

func weekday(s string) (int, error) {
	if n, ok := weekdays[strings.ToLower(s)]; ok {
		return n, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 7 {
		return 0, fmt.Errorf("day-of-week: invalid value %q", s)
	}
	return n, nil
}

// String returns the expression as written.
func (s *Schedule) String() string { return s.expr }

// Location returns the zone fire times are computed in.
func (s *Schedule) Location() *time.Location { return s.loc }

// Next returns the first fire instant strictly after t, or the zero time
// if the expression cannot fire within five years (e.g. "0 0 30 2 *").
func (s *Schedule) Next(t time.Time) time.Time {
	next := s.spec.Next(t.In(s.loc))
	if next.IsZero() {
		return next
	}
	return next.In(s.loc)
}

// Latest returns the last fire instant in the half-open window
// (after, until]. ok is false when the window contains none.
func (s *Schedule) Latest(after, until time.Time) (latest time.Time, ok bool) {
	for next := s.Next(after); !next.IsZero() && !next.After(until); next = s.Next(next) {
		latest, ok = next, true
	}
	return latest, ok
}
