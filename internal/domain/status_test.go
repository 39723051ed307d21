package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestNewJobStatus(t *testing.T) {
	fixedTime := time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)
	SetClock(clockwork.NewFakeClockAt(fixedTime))
	defer SetClock(nil)

	t.Run("success", func(t *testing.T) {
		s := NewJobStatus("run-1", "ingest", 42, OutcomeSucceeded, 1, 1500*time.Millisecond, nil)
		assert.Equal(t, JobStatus{
			RunID:      "run-1",
			Stage:      "ingest",
			Index:      42,
			Outcome:    OutcomeSucceeded,
			Attempts:   1,
			DurationMS: 1500,
			ReportedAt: fixedTime,
		}, s)
		assert.Equal(t, "ingest-00042", s.Key())
	})

	t.Run("permanent failure is fatal", func(t *testing.T) {
		s := NewJobStatus("run-1", "daily", 3, OutcomeFailed, 1, 0, ErrShapeMismatch)
		assert.True(t, s.Fatal)
		assert.Equal(t, ErrShapeMismatch.Error(), s.Error)
	})

	t.Run("transient failure is not fatal", func(t *testing.T) {
		s := NewJobStatus("run-1", "ingest", 3, OutcomeFailed, 3, 0, Transient(errors.New("io timeout")))
		assert.False(t, s.Fatal)
		assert.Contains(t, s.Error, "io timeout")
	})
}

func TestSetClock(t *testing.T) {
	t.Run("set custom clock", func(t *testing.T) {
		fixedTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		SetClock(clockwork.NewFakeClockAt(fixedTime))
		defer SetClock(nil)

		assert.Equal(t, fixedTime, Now())
		assert.Equal(t, fixedTime, Clock().Now())
	})

	t.Run("reset to real clock", func(t *testing.T) {
		SetClock(clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
		SetClock(nil)

		assert.Less(t, time.Since(Now()), time.Second)
	})
}
