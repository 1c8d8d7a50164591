package prompt

import (
	"strings"
	"time"

	"github.com/worldloom/loom/pkg/models"
)

var startLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseStartTime parses a timeline start timestamp into UTC. Empty or
// malformed input yields the fallback so a session without calendar
// configuration still gets a usable baseline.
func ParseStartTime(value string, fallback time.Time) time.Time {
	if parsed, ok := parseStartTime(value); ok {
		return parsed
	}
	return fallback.UTC()
}

func parseStartTime(value string) (time.Time, bool) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range startLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}

// AddSteps advances start by offset steps of the given unit. Month and year
// arithmetic is clamped calendar math: the day of month pins to the target
// month's length instead of spilling over, and years stay within 1..9999.
// Unknown or empty units count as months.
func AddSteps(start time.Time, offset int, unit string) time.Time {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case models.StepUnitDay:
		return start.AddDate(0, 0, offset)
	case models.StepUnitWeek:
		return start.AddDate(0, 0, offset*7)
	case models.StepUnitYear:
		return addYears(start, offset)
	default:
		return addMonths(start, offset)
	}
}

// SimulatedTime is the in-world timestamp of the round that will produce
// sequence nextSeq: the start advanced by one step per already-generated
// report. The fallback baseline is used when startISO does not parse.
func SimulatedTime(startISO string, stepValue int, stepUnit string, nextSeq int, fallback time.Time) time.Time {
	return AddSteps(ParseStartTime(startISO, fallback), stepOffset(nextSeq, stepValue), stepUnit)
}

func stepOffset(nextSeq, stepValue int) int {
	offset := nextSeq - 1
	if offset < 0 {
		offset = 0
	}
	if stepValue < 1 {
		stepValue = 1
	}
	return offset * stepValue
}

func addMonths(source time.Time, months int) time.Time {
	idx := int(source.Month()) - 1 + months
	year := clampYear(source.Year() + idx/12)
	month := time.Month(idx%12 + 1)
	day := source.Day()
	if limit := daysInMonth(year, month); day > limit {
		day = limit
	}
	return time.Date(year, month, day,
		source.Hour(), source.Minute(), source.Second(), source.Nanosecond(), source.Location())
}

func addYears(source time.Time, years int) time.Time {
	year := clampYear(source.Year() + years)
	day := source.Day()
	if limit := daysInMonth(year, source.Month()); day > limit {
		day = limit
	}
	return time.Date(year, source.Month(), day,
		source.Hour(), source.Minute(), source.Second(), source.Nanosecond(), source.Location())
}

func clampYear(year int) int {
	if year < 1 {
		return 1
	}
	if year > 9999 {
		return 9999
	}
	return year
}

func daysInMonth(year int, month time.Month) int {
	switch month {
	case time.April, time.June, time.September, time.November:
		return 30
	case time.February:
		if year%4 == 0 && (year%100 != 0 || year%400 == 0) {
			return 29
		}
		return 28
	default:
		return 31
	}
}
