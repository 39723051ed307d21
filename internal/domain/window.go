package domain

import (
	"fmt"
	"time"
)

// WindowKind selects how a source axis is split into aggregation windows.
type WindowKind int

const (
	// FixedWindow groups a constant number of native steps.
	FixedWindow WindowKind = iota + 1
	// CalendarMonth groups steps by calendar month.
	CalendarMonth
)

// WindowSpec describes one coarsening, e.g. 24 hourly steps into a day.
type WindowSpec struct {
	Kind WindowKind
	// Size is the number of native steps per window for FixedWindow.
	Size   int
	Native Step
	Output Step
}

// DailyWindow coarsens hourly values into days.
func DailyWindow() WindowSpec {
	return WindowSpec{Kind: FixedWindow, Size: 24, Native: Hourly, Output: Daily}
}

// MonthlyWindow coarsens daily values into calendar months.
func MonthlyWindow() WindowSpec {
	return WindowSpec{Kind: CalendarMonth, Native: Daily, Output: Monthly}
}

func (w WindowSpec) String() string {
	return fmt.Sprintf("%s->%s", w.Native, w.Output)
}

// Window is a half-open range of source indices and its output label. A
// window with Start == Stop has no data and its values are NaN.
type Window struct {
	Start, Stop int
	Label       time.Time
}

// Empty reports whether the window covers no source steps.
func (w Window) Empty() bool { return w.Stop <= w.Start }

// Partition splits times into windows. Trailing partial windows are kept
// ("pad" boundaries). When count exceeds the number of windows the data
// supports, empty windows are appended, each labelled one output step after
// its predecessor. Non-empty fixed windows are labelled at their nominal
// midpoint less offset; calendar windows are labelled at month start less
// offset.
func (w WindowSpec) Partition(times []time.Time, count int, offset time.Duration) ([]Window, error) {
	if len(times) == 0 {
		return nil, fmt.Errorf("partition %s: %w", w, ErrNoTimeOrigin)
	}
	var windows []Window
	switch w.Kind {
	case FixedWindow:
		if w.Size <= 0 {
			return nil, fmt.Errorf("partition %s: window size must be positive", w)
		}
		half := time.Duration(w.Size-1) * w.Native.Nominal() / 2
		for start := 0; start < len(times); start += w.Size {
			windows = append(windows, Window{
				Start: start,
				Stop:  min(start+w.Size, len(times)),
				Label: times[start].Add(half).Add(-offset),
			})
		}
	case CalendarMonth:
		start := 0
		for i := 1; i <= len(times); i++ {
			if i < len(times) && sameMonth(times[i], times[start]) {
				continue
			}
			windows = append(windows, Window{
				Start: start,
				Stop:  i,
				Label: Monthly.Floor(times[start]).Add(-offset),
			})
			start = i
		}
	default:
		return nil, fmt.Errorf("partition: unknown window kind %d", w.Kind)
	}

	for len(windows) < count {
		prev := windows[len(windows)-1]
		end := prev.Stop
		windows = append(windows, Window{Start: end, Stop: end, Label: w.Output.Next(prev.Label)})
	}
	return windows, nil
}

// WindowCount returns how many windows a fixed-size spec yields for n native
// steps.
func (w WindowSpec) WindowCount(n int) int {
	if w.Kind != FixedWindow || w.Size <= 0 {
		return 0
	}
	return (n + w.Size - 1) / w.Size
}

func sameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}
