package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/couchcryptid/conus404-etl/internal/domain"
)

const stageDerive = "derive"

// PrepareDerived adds the humidity arrays to the hourly store, unfilled. It
// does nothing when they already exist.
func (p *Pipeline) PrepareDerived(ctx context.Context, store Store) error {
	schema, err := store.Schema(ctx)
	if err != nil {
		return err
	}
	var missing int
	for _, n := range domain.DerivedHumidityNames() {
		if _, ok := schema.Vars[n]; !ok {
			missing++
		}
	}
	if missing == 0 {
		p.logger.Info("derived variables already present")
		return nil
	}

	derived, err := domain.DeriveHumidity(schema)
	if err != nil {
		return err
	}
	chunks, err := domain.PlanChunks(derived, p.opts.Profile.Chunks[domain.Hourly])
	if err != nil {
		return err
	}
	if err := store.AddVariables(ctx, derived, chunks); err != nil {
		return fmt.Errorf("add derived variables: %w", err)
	}
	p.logger.Info("derived variables added", "variables", domain.DerivedHumidityNames())
	return nil
}

// Derive fills the humidity arrays of the hourly store, one job per hourly
// job's worth of steps. PrepareDerived must have run first.
func (p *Pipeline) Derive(ctx context.Context, store Store, indices []int) ([]JobResult, error) {
	schema, err := store.Schema(ctx)
	if err != nil {
		return nil, fmt.Errorf("read store schema: %w", err)
	}
	for _, n := range domain.DerivedHumidityNames() {
		if _, ok := schema.Vars[n]; !ok {
			return nil, fmt.Errorf("derive: %w: %s", domain.ErrUnknownVariable, n)
		}
	}
	steps := p.opts.Profile.HourlyJobDays * 24
	n := len(schema.Time)

	tasks := make([]Task, len(indices))
	for i, idx := range indices {
		slice := domain.AggregationSlice(idx, steps, n)
		t := Task{Index: idx, Run: func(ctx context.Context) error {
			if slice.Empty() {
				return errSkip
			}
			ds, err := store.ReadRegion(ctx, domain.HumiditySources, slice.Start, slice.Stop)
			if err != nil {
				return err
			}
			derived, err := domain.DeriveHumidity(ds)
			if err != nil {
				return err
			}
			_, err = p.writeRegion(ctx, store, schema.Time, derived, stageDerive)
			return err
		}}
		if !slice.Empty() {
			t.Start, t.End = schema.Time[slice.Start], schema.Time[slice.Stop-1].Add(time.Hour)
		}
		tasks[i] = t
	}
	return p.runner.Run(ctx, stageDerive, tasks), nil
}
