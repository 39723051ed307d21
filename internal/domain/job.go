package domain

import (
	"fmt"
	"time"
)

// Job is one independently processable slice of the time axis.
type Job struct {
	Index int
	Start time.Time
	// End is exclusive.
	End time.Time
}

// JobFor returns the job at index for a run that splits the axis starting at
// base into chunkDays-long pieces. Jobs for distinct indices never overlap and
// their union is contiguous.
func JobFor(base time.Time, chunkDays, index int) Job {
	start := base.AddDate(0, 0, index*chunkDays)
	return Job{
		Index: index,
		Start: start,
		End:   start.AddDate(0, 0, chunkDays),
	}
}

// Hours returns the hourly timestamps covered by the job.
func (j Job) Hours() []time.Time {
	return TimeAxis(j.Start, j.End.Add(-time.Hour), Hourly)
}

// Days returns the number of calendar days covered by the job.
func (j Job) Days() int {
	return int(j.End.Sub(j.Start).Hours() / 24)
}

func (j Job) String() string {
	return fmt.Sprintf("job %d [%s, %s)", j.Index, j.Start.Format(time.DateTime), j.End.Format(time.DateTime))
}

// CheckAligned verifies that start falls on a chunkDays boundary from base,
// so that a job's region never straddles a destination time chunk.
func CheckAligned(base, start time.Time, chunkDays int) error {
	if chunkDays <= 0 {
		return fmt.Errorf("chunk days must be positive, got %d", chunkDays)
	}
	d := start.Sub(base)
	period := time.Duration(chunkDays) * 24 * time.Hour
	if d < 0 || d%period != 0 {
		return fmt.Errorf("%w: %s is not a multiple of %d days from %s",
			ErrUnalignedStart, start.Format(time.DateTime), chunkDays, base.Format(time.DateOnly))
	}
	return nil
}

// JobCount returns how many jobs of chunkDays are needed to cover the hourly
// axis from base through end inclusive.
func JobCount(base, end time.Time, chunkDays int) int {
	if end.Before(base) || chunkDays <= 0 {
		return 0
	}
	period := time.Duration(chunkDays) * 24 * time.Hour
	span := end.Sub(base) + time.Hour
	return int((span + period - 1) / period)
}

// StepSlice is a half-open index range over a source axis processed by one
// aggregation job.
type StepSlice struct {
	Start, Stop int
}

// AggregationSlice returns the source index range for job index when each job
// covers stepsPerJob source steps of an axis of length n. The last slice is
// clamped to n; indices past the end return an empty slice.
func AggregationSlice(index, stepsPerJob, n int) StepSlice {
	start := index * stepsPerJob
	if start > n {
		start = n
	}
	return StepSlice{Start: start, Stop: min(start+stepsPerJob, n)}
}

// Empty reports whether the slice covers no steps.
func (s StepSlice) Empty() bool { return s.Stop <= s.Start }

// Shifted returns the slice moved forward by shift steps and clamped to n.
func (s StepSlice) Shifted(shift, n int) StepSlice {
	return StepSlice{Start: min(s.Start+shift, n), Stop: min(s.Stop+shift, n)}
}

// JobIndices returns count consecutive job indices, the first being the job
// that begins at start.
func JobIndices(base, start time.Time, chunkDays, count int) ([]int, error) {
	if err := CheckAligned(base, start, chunkDays); err != nil {
		return nil, err
	}
	first := int(start.Sub(base) / (time.Duration(chunkDays) * 24 * time.Hour))
	out := make([]int, count)
	for i := range out {
		out[i] = first + i
	}
	return out, nil
}
