package pipeline

import (
	"errors"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"
)

// cronMacros are the shorthand schedules accepted in place of five fields.
var cronMacros = map[string]string{
	"@yearly":  "0 0 1 1 *",
	"@monthly": "0 0 1 * *",
	"@weekly":  "0 0 * * 0",
	"@daily":   "0 0 * * *",
	"@hourly":  "0 * * * *",
}

// cronHorizon bounds the search for the next run. Five years always spans a
// leap day.
const cronHorizon = 5 * 366 * 24 * time.Hour

// schedule is a parsed five-field cron expression. Each field is a bit set
// of the values it allows.
type schedule struct {
	minute, hour, dom, month, dow uint64
	// When both day fields are restricted a day matches if either does,
	// as in Vixie cron.
	domAny, dowAny bool
}

type cronSpec struct {
	name   string
	lo, hi int
}

var cronSpecs = [5]cronSpec{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	// 7 is accepted as Sunday and folded onto 0.
	{"day-of-week", 0, 7},
}

// parseCron parses "minute hour day-of-month month day-of-week" or one of
// the @macros. Fields accept *, n, a-b, lists and /step.
func parseCron(expr string) (schedule, error) {
	expr = strings.TrimSpace(expr)
	if m, ok := cronMacros[expr]; ok {
		expr = m
	}
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return schedule{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	var sets [5]uint64
	for i, f := range fields {
		set, err := parseCronField(f, cronSpecs[i].lo, cronSpecs[i].hi)
		if err != nil {
			return schedule{}, fmt.Errorf("%s field: %w", cronSpecs[i].name, err)
		}
		sets[i] = set
	}
	if sets[4]&(1<<7) != 0 {
		sets[4] = sets[4]&^(1<<7) | 1
	}
	return schedule{
		minute: sets[0],
		hour:   sets[1],
		dom:    sets[2],
		month:  sets[3],
		dow:    sets[4],
		domAny: strings.HasPrefix(fields[2], "*"),
		dowAny: strings.HasPrefix(fields[4], "*"),
	}, nil
}

func parseCronField(field string, lo, hi int) (uint64, error) {
	var set uint64
	for _, part := range strings.Split(field, ",") {
		rng, stepStr, hasStep := strings.Cut(part, "/")
		step := 1
		if hasStep {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n <= 0 {
				return 0, fmt.Errorf("invalid step in %q", part)
			}
			step = n
		}

		from, to := lo, hi
		if rng != "*" {
			a, b, isRange := strings.Cut(rng, "-")
			var err error
			if from, err = strconv.Atoi(a); err != nil {
				return 0, fmt.Errorf("invalid value in %q", part)
			}
			to = from
			switch {
			case isRange:
				if to, err = strconv.Atoi(b); err != nil {
					return 0, fmt.Errorf("invalid value in %q", part)
				}
			case hasStep:
				// "5/15" means from 5 to the end of the range.
				to = hi
			}
		}
		if from < lo || to > hi || from > to {
			return 0, fmt.Errorf("%q out of range [%d,%d]", part, lo, hi)
		}
		for v := from; v <= to; v += step {
			set |= 1 << uint(v)
		}
	}
	return set, nil
}

func has(set uint64, v int) bool {
	return set&(1<<uint(v)) != 0
}

func (s schedule) dayMatches(t time.Time) bool {
	dom, dow := has(s.dom, t.Day()), has(s.dow, int(t.Weekday()))
	switch {
	case s.domAny && s.dowAny:
		return true
	case s.domAny:
		return dow
	case s.dowAny:
		return dom
	default:
		return dom || dow
	}
}

// next returns the first minute strictly after 'after' that the schedule
// allows, in after's location. It skips whole months, days and hours that
// cannot match.
func (s schedule) next(after time.Time) (time.Time, error) {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(cronHorizon)
	loc := t.Location()

	for t.Before(limit) {
		switch {
		case !has(s.month, int(t.Month())):
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc)
		case !s.dayMatches(t):
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
		case !has(s.hour, t.Hour()):
			t = t.Truncate(time.Hour).Add(time.Hour)
		case !has(s.minute, t.Minute()):
			// Jump to the next allowed minute in this hour, or the next hour.
			rest := s.minute >> uint(t.Minute())
			if rest == 0 {
				t = t.Truncate(time.Hour).Add(time.Hour)
			} else {
				t = t.Add(time.Duration(bits.TrailingZeros64(rest)) * time.Minute)
			}
		default:
			return t, nil
		}
	}
	return time.Time{}, errors.New("no matching time within five years")
}
