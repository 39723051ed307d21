package kafka

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/conus404-etl/internal/domain"
)

func TestSerializeToMessage(t *testing.T) {
	now := time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC)
	status := domain.JobStatus{
		RunID:      "run-1",
		Stage:      "ingest",
		Index:      42,
		RangeStart: time.Date(1980, 6, 8, 0, 0, 0, 0, time.UTC),
		Outcome:    domain.OutcomeRetried,
		Attempts:   2,
		DurationMS: 1500,
		ReportedAt: now,
	}

	msg, err := serializeToMessage(status)
	require.NoError(t, err)

	assert.Equal(t, []byte("ingest-00042"), msg.Key)
	assert.Contains(t, string(msg.Value), `"outcome":"retried"`)
	assert.Contains(t, string(msg.Value), `"range_start":"1980-06-08T00:00:00Z"`)
	assert.NotContains(t, string(msg.Value), "range_end")
	require.Len(t, msg.Headers, 3)
	assert.Equal(t, "stage", msg.Headers[0].Key)
	assert.Equal(t, []byte("ingest"), msg.Headers[0].Value)
	assert.Equal(t, "outcome", msg.Headers[1].Key)
	assert.Equal(t, []byte("retried"), msg.Headers[1].Value)
	assert.Equal(t, "reported_at", msg.Headers[2].Key)
	assert.Equal(t, []byte(now.Format(time.RFC3339)), msg.Headers[2].Value)
}

func TestSerializeToMessage_FailedJob(t *testing.T) {
	status := domain.NewJobStatus("run-2", "daily", 3, domain.OutcomeFailed, 1, time.Second, domain.ErrTimeMismatch)

	msg, err := serializeToMessage(status)
	require.NoError(t, err)
	assert.Equal(t, []byte("daily-00003"), msg.Key)
	assert.Contains(t, string(msg.Value), `"fatal":true`)
	assert.Contains(t, string(msg.Value), domain.ErrTimeMismatch.Error())

	transient := domain.NewJobStatus("run-2", "daily", 4, domain.OutcomeFailed, 3, time.Second,
		domain.Transient(errors.New("disk full")))
	msg, err = serializeToMessage(transient)
	require.NoError(t, err)
	assert.NotContains(t, string(msg.Value), "fatal")
}
