package zarr

import (
	"time"

	"github.com/couchcryptid/conus404-etl/internal/domain"
)

// timeEpoch anchors stored time values. Every CONUS404 axis starts on or
// after it, so offsets stay positive.
var timeEpoch = time.Date(1979, 10, 1, 0, 0, 0, 0, time.UTC)

const timeUnits = "minutes since 1979-10-01 00:00:00"

func timeAttrs() domain.Attrs {
	return domain.Attrs{
		"standard_name": "time",
		"axis":          "T",
		"units":         timeUnits,
		"calendar":      "proleptic_gregorian",
	}
}

func encodeTimes(times []time.Time) []float64 {
	return domain.EncodeMinutes(times, timeEpoch)
}

func decodeTimes(vals []float64, units string) ([]time.Time, error) {
	return domain.DecodeTimes(vals, units)
}
