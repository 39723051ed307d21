package domain

import (
	"fmt"
	"strings"
	"time"
)

// Step is the spacing of a regular time axis.
type Step int

const (
	Hourly Step = iota + 1
	Daily
	Monthly
)

func (s Step) String() string {
	switch s {
	case Hourly:
		return "hourly"
	case Daily:
		return "daily"
	case Monthly:
		return "monthly"
	default:
		return fmt.Sprintf("Step(%d)", int(s))
	}
}

// ParseStep accepts the step names used on the command line and in profiles.
func ParseStep(s string) (Step, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hourly", "1h", "h":
		return Hourly, nil
	case "daily", "1d", "d":
		return Daily, nil
	case "monthly", "1m", "m", "ms":
		return Monthly, nil
	default:
		return 0, fmt.Errorf("unknown time step %q", s)
	}
}

// Next returns the axis value one step after t.
func (s Step) Next(t time.Time) time.Time {
	switch s {
	case Hourly:
		return t.Add(time.Hour)
	case Daily:
		return t.AddDate(0, 0, 1)
	case Monthly:
		return t.AddDate(0, 1, 0)
	default:
		return t
	}
}

// Nominal is the fixed duration of one step. Monthly steps use 30 days; only
// fixed-count windows rely on it.
func (s Step) Nominal() time.Duration {
	switch s {
	case Hourly:
		return time.Hour
	case Daily:
		return 24 * time.Hour
	case Monthly:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// Floor truncates t to the start of the step period containing it.
func (s Step) Floor(t time.Time) time.Time {
	t = t.UTC()
	switch s {
	case Hourly:
		return t.Truncate(time.Hour)
	case Daily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case Monthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return t
	}
}

// TimeAxis returns the regular axis from start through end inclusive.
func TimeAxis(start, end time.Time, s Step) []time.Time {
	var axis []time.Time
	for t := start; !t.After(end); t = s.Next(t) {
		axis = append(axis, t)
	}
	return axis
}

// InferStep determines the step of a regular axis. Axes with fewer than two
// values cannot be inferred and return fallback.
func InferStep(times []time.Time, fallback Step) (Step, error) {
	if len(times) < 2 {
		return fallback, nil
	}
	var step Step
	switch d := times[1].Sub(times[0]); {
	case d == time.Hour:
		step = Hourly
	case d == 24*time.Hour:
		step = Daily
	case Monthly.Next(times[0]).Equal(times[1]):
		step = Monthly
	default:
		return 0, fmt.Errorf("%w: step %s between %s and %s", ErrIrregularTime, d, times[0], times[1])
	}
	if err := CheckRegular(times, step); err != nil {
		return 0, err
	}
	return step, nil
}

// CheckRegular verifies that times is strictly increasing by step.
func CheckRegular(times []time.Time, step Step) error {
	for i := 1; i < len(times); i++ {
		if want := step.Next(times[i-1]); !times[i].Equal(want) {
			return fmt.Errorf("%w: index %d is %s, want %s", ErrIrregularTime, i, times[i], want)
		}
	}
	return nil
}

// IndexOf returns the position of t in axis, or -1. The axis must be sorted.
func IndexOf(axis []time.Time, t time.Time) int {
	lo, hi := 0, len(axis)
	for lo < hi {
		mid := (lo + hi) / 2
		if axis[mid].Before(t) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(axis) && axis[lo].Equal(t) {
		return lo
	}
	return -1
}
