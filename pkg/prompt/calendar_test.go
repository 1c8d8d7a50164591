package prompt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseStartTime(t *testing.T) {
	fallback := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	parsed := ParseStartTime("2030-01-15T08:30:00+02:00", fallback)
	assert.Equal(t, "2030-01-15T06:30:00Z", parsed.Format(time.RFC3339))

	dateOnly := ParseStartTime("2031-05-02", fallback)
	assert.Equal(t, "2031-05-02T00:00:00Z", dateOnly.Format(time.RFC3339))

	assert.Equal(t, fallback, ParseStartTime("", fallback))
	assert.Equal(t, fallback, ParseStartTime("not-a-date", fallback))
}

func TestAddStepsClampsMonthEnd(t *testing.T) {
	start := time.Date(2030, 1, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2030, 2, 28, 0, 0, 0, 0, time.UTC), AddSteps(start, 1, "month"))

	leap := time.Date(2032, 1, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2032, 2, 29, 0, 0, 0, 0, time.UTC), AddSteps(leap, 1, "month"))

	leapDay := time.Date(2032, 2, 29, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2033, 2, 28, 0, 0, 0, 0, time.UTC), AddSteps(leapDay, 1, "year"))
}

func TestAddStepsUnits(t *testing.T) {
	start := time.Date(2030, 3, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2030, 3, 13, 12, 0, 0, 0, time.UTC), AddSteps(start, 3, "day"))
	assert.Equal(t, time.Date(2030, 3, 17, 12, 0, 0, 0, time.UTC), AddSteps(start, 1, "week"))
	assert.Equal(t, time.Date(2033, 3, 10, 12, 0, 0, 0, time.UTC), AddSteps(start, 3, "year"))
	// Unknown units advance by months.
	assert.Equal(t, time.Date(2030, 5, 10, 12, 0, 0, 0, time.UTC), AddSteps(start, 2, "fortnight"))
}

func TestAddStepsClampsYearRange(t *testing.T) {
	far := time.Date(9999, 6, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 9999, AddSteps(far, 5, "year").Year())
	assert.Equal(t, 9999, AddSteps(far, 24, "month").Year())
}

func TestSimulatedTimeUsesRoundIndex(t *testing.T) {
	fallback := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first := SimulatedTime("2030-01-15T00:00:00Z", 1, "month", 1, fallback)
	assert.Equal(t, time.Date(2030, 1, 15, 0, 0, 0, 0, time.UTC), first)

	third := SimulatedTime("2030-01-15T00:00:00Z", 2, "month", 3, fallback)
	assert.Equal(t, time.Date(2030, 5, 15, 0, 0, 0, 0, time.UTC), third)

	assert.Equal(t, fallback, SimulatedTime("", 1, "month", 1, fallback))
}
