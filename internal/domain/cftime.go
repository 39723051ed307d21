package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// DecodeTimes converts CF-style "<unit> since <reference>" offsets to UTC
// times.
func DecodeTimes(vals []float64, units string) ([]time.Time, error) {
	unit, refText, ok := strings.Cut(units, " since ")
	if !ok {
		return nil, fmt.Errorf("time units %q: missing reference", units)
	}
	var scale time.Duration
	switch strings.TrimSpace(strings.ToLower(unit)) {
	case "seconds":
		scale = time.Second
	case "minutes":
		scale = time.Minute
	case "hours":
		scale = time.Hour
	case "days":
		scale = 24 * time.Hour
	default:
		return nil, fmt.Errorf("time units %q: unsupported unit", units)
	}
	ref, err := parseReference(strings.TrimSpace(refText))
	if err != nil {
		return nil, fmt.Errorf("time units %q: %w", units, err)
	}
	out := make([]time.Time, len(vals))
	for i, v := range vals {
		out[i] = ref.Add(time.Duration(math.Round(v * float64(scale))))
	}
	return out, nil
}

// EncodeMinutes returns each time as minutes since epoch.
func EncodeMinutes(times []time.Time, epoch time.Time) []float64 {
	out := make([]float64, len(times))
	for i, t := range times {
		out[i] = t.Sub(epoch).Minutes()
	}
	return out
}

func parseReference(s string) (time.Time, error) {
	for _, layout := range []string{time.DateTime, "2006-01-02T15:04:05", "2006-01-02T15:04:05Z", time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable reference time %q", s)
}
