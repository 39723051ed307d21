package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/couchcryptid/conus404-etl/internal/domain"
)

// Region is a half-open range of destination time indices.
type Region struct {
	Start, Stop int
}

// Len returns the number of time steps in the region.
func (r Region) Len() int { return r.Stop - r.Start }

// LocateRegion finds the destination indices of slice. Both its first and
// last timestamps must be present in dest, exactly, and the span between them
// must have the slice's length.
func LocateRegion(dest, slice []time.Time) (Region, error) {
	if len(slice) == 0 {
		return Region{}, fmt.Errorf("locate region: empty slice: %w", domain.ErrTimeMismatch)
	}
	first, last := slice[0], slice[len(slice)-1]
	start := domain.IndexOf(dest, first)
	if start < 0 {
		return Region{}, fmt.Errorf("locate region: %s: %w", first.Format(time.DateTime), domain.ErrTimeMismatch)
	}
	end := domain.IndexOf(dest, last)
	if end < 0 {
		return Region{}, fmt.Errorf("locate region: %s: %w", last.Format(time.DateTime), domain.ErrTimeMismatch)
	}
	r := Region{Start: start, Stop: end + 1}
	if r.Len() != len(slice) {
		return Region{}, fmt.Errorf("locate region: %d steps span %d destination steps: %w",
			len(slice), r.Len(), domain.ErrTimeMismatch)
	}
	return r, nil
}

// writeRegion writes the time-varying variables of ds into the matching
// region of store. Constants are dropped; they were written with the
// template.
func (p *Pipeline) writeRegion(ctx context.Context, store Store, dest []time.Time, ds *domain.GridDataset, label string) (Region, error) {
	region, err := LocateRegion(dest, ds.Time)
	if err != nil {
		return Region{}, err
	}
	batch := ds.TimeVarying()
	if len(batch.Vars) == 0 {
		return region, nil
	}
	if err := store.WriteRegion(ctx, batch, region.Start, region.Stop); err != nil {
		return Region{}, err
	}
	p.metrics.RegionWrites.WithLabelValues(label).Inc()
	p.logger.Debug("region written", "store", label, "start", region.Start, "stop", region.Stop, "variables", len(batch.Vars))
	return region, nil
}
