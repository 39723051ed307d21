package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTimes(t *testing.T) {
	tests := []struct {
		units string
		vals  []float64
		want  time.Time
	}{
		{"minutes since 1979-10-01 00:00:00", []float64{90}, testBase.Add(90 * time.Minute)},
		{"hours since 1979-10-01", []float64{25}, testBase.Add(25 * time.Hour)},
		{"days since 1979-10-01T00:00:00", []float64{1.5}, testBase.Add(36 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.units, func(t *testing.T) {
			got, err := DecodeTimes(tt.vals, tt.units)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got[0])
		})
	}
}

func TestDecodeTimes_Invalid(t *testing.T) {
	for _, units := range []string{"minutes", "fortnights since 1979-10-01", "minutes since yesterday"} {
		_, err := DecodeTimes([]float64{1}, units)
		assert.Error(t, err, units)
	}
}

func TestEncodeMinutes(t *testing.T) {
	times := []time.Time{testBase, testBase.Add(time.Hour)}
	vals := EncodeMinutes(times, testBase)
	assert.Equal(t, []float64{0, 60}, vals)

	back, err := DecodeTimes(vals, "minutes since 1979-10-01 00:00:00")
	require.NoError(t, err)
	assert.Equal(t, times, back)
}
