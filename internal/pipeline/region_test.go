package pipeline_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/conus404-etl/internal/domain"
	"github.com/couchcryptid/conus404-etl/internal/pipeline"
)

func TestLocateRegion(t *testing.T) {
	dest := domain.TimeAxis(base, base.AddDate(0, 0, 12).Add(-time.Hour), domain.Hourly)
	hours := func(lo, hi int) []time.Time { return dest[lo:hi] }

	tests := []struct {
		name  string
		slice []time.Time
		want  pipeline.Region
		err   error
	}{
		{name: "first job", slice: hours(0, 144), want: pipeline.Region{Start: 0, Stop: 144}},
		{name: "second job", slice: hours(144, 288), want: pipeline.Region{Start: 144, Stop: 288}},
		{name: "single step", slice: hours(5, 6), want: pipeline.Region{Start: 5, Stop: 6}},
		{name: "empty", slice: nil, err: domain.ErrTimeMismatch},
		{
			name:  "first time absent",
			slice: domain.TimeAxis(base.Add(-time.Hour), base, domain.Hourly),
			err:   domain.ErrTimeMismatch,
		},
		{
			name:  "last time absent",
			slice: domain.TimeAxis(dest[286], dest[287].Add(time.Hour), domain.Hourly),
			err:   domain.ErrTimeMismatch,
		},
		{
			name:  "off the hour",
			slice: domain.TimeAxis(base.Add(time.Minute), base.Add(time.Hour+time.Minute), domain.Hourly),
			err:   domain.ErrTimeMismatch,
		},
		{
			name:  "gap inside slice",
			slice: []time.Time{dest[0], dest[2]},
			err:   domain.ErrTimeMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pipeline.LocateRegion(dest, tt.slice)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, len(tt.slice), got.Len())
		})
	}
}
