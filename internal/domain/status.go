package domain

import (
	"fmt"
	"time"
)

// Outcome is the final state of one job.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeRetried means the job succeeded after at least one transient
	// failure.
	OutcomeRetried Outcome = "retried"
	OutcomeFailed  Outcome = "failed"
	// OutcomeSkipped means the job's range lies past the end of the source.
	OutcomeSkipped Outcome = "skipped"
)

// JobStatus reports the result of one job to operators.
type JobStatus struct {
	RunID      string    `json:"run_id"`
	Stage      string    `json:"stage"`
	Index      int       `json:"index"`
	RangeStart time.Time `json:"range_start,omitzero"`
	RangeEnd   time.Time `json:"range_end,omitzero"`
	Outcome    Outcome   `json:"outcome"`
	Fatal      bool      `json:"fatal,omitempty"`
	Attempts   int       `json:"attempts"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	ReportedAt time.Time `json:"reported_at"`
}

// Key identifies the job across reruns of the same stage.
func (s JobStatus) Key() string {
	return fmt.Sprintf("%s-%05d", s.Stage, s.Index)
}

// NewJobStatus builds a status stamped with the package clock.
func NewJobStatus(runID, stage string, index int, outcome Outcome, attempts int, elapsed time.Duration, err error) JobStatus {
	s := JobStatus{
		RunID:      runID,
		Stage:      stage,
		Index:      index,
		Outcome:    outcome,
		Attempts:   attempts,
		DurationMS: elapsed.Milliseconds(),
		ReportedAt: Now(),
	}
	if err != nil {
		s.Error = err.Error()
		s.Fatal = !IsTransient(err)
	}
	return s
}
