package pipeline

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/ctessum/sparse"

	"github.com/couchcryptid/conus404-etl/internal/domain"
)

const (
	stageDaily   = "daily"
	stageMonthly = "monthly"
)

// dailyCategories are aggregated from the hourly store, in this order.
var dailyCategories = []domain.AccumulationCategory{
	domain.Instantaneous, domain.Accum60Min, domain.AccumSinceStart, domain.Accum24H,
}

// PlanAggregateTemplate lays out the store produced from src by spec: one
// step per output window from the first window through the window holding
// src's last timestamp. Constants are copied from src.
func (p *Pipeline) PlanAggregateTemplate(ctx context.Context, src Store, spec domain.WindowSpec, overwrite bool) (TemplatePlan, error) {
	schema, err := src.Schema(ctx)
	if err != nil {
		return TemplatePlan{}, fmt.Errorf("read source schema: %w", err)
	}
	if len(schema.Time) == 0 {
		return TemplatePlan{}, fmt.Errorf("plan %s template: %w", spec.Output, domain.ErrNoTimeOrigin)
	}

	var constants *domain.GridDataset
	if names := schema.Constants().VarNames(); len(names) > 0 {
		if constants, err = src.ReadRegion(ctx, names, 0, 0); err != nil {
			return TemplatePlan{}, fmt.Errorf("read constants: %w", err)
		}
		constants.Time = nil
	}

	source := schema
	if len(p.opts.Vars) > 0 {
		source = schema.Select(p.opts.Vars...)
	}
	return PlanTemplate(source, TemplateOptions{
		End:       spec.Output.Floor(schema.Time[len(schema.Time)-1]),
		Step:      spec.Output,
		Chunks:    p.opts.Profile.Chunks[spec.Output],
		Constants: constants,
		Window:    &spec,
		Overwrite: overwrite,
	})
}

// Daily coarsens the hourly store src into the daily store dst. Each job
// covers DailyJobDays days of src.
func (p *Pipeline) Daily(ctx context.Context, src, dst Store, indices []int) ([]JobResult, error) {
	schema, err := src.Schema(ctx)
	if err != nil {
		return nil, fmt.Errorf("read source schema: %w", err)
	}
	dest, err := dst.Schema(ctx)
	if err != nil {
		return nil, fmt.Errorf("read destination schema: %w", err)
	}
	cats := p.restrict(domain.Classify(schema))
	steps := p.opts.Profile.HourlyStepsPerDailyJob()
	n := len(schema.Time)

	tasks := make([]Task, len(indices))
	for i, idx := range indices {
		slice := domain.AggregationSlice(idx, steps, n)
		t := Task{Index: idx, Run: func(ctx context.Context) error {
			if slice.Empty() {
				return errSkip
			}
			return p.dailyJob(ctx, src, dst, schema, dest.Time, cats, slice)
		}}
		if !slice.Empty() {
			t.Start, t.End = schema.Time[slice.Start], schema.Time[slice.Stop-1].Add(time.Hour)
		}
		tasks[i] = t
	}
	return p.runner.Run(ctx, stageDaily, tasks), nil
}

// dailyJob aggregates one slice of the hourly axis. Accumulated categories
// are read shifted forward so that the value ending each hour falls in the
// window for the day it accumulated over.
func (p *Pipeline) dailyJob(ctx context.Context, src, dst Store, schema *domain.GridDataset, destTime []time.Time, cats domain.Classification, slice domain.StepSlice) error {
	prof := p.opts.Profile
	spec := domain.DailyWindow()
	n := len(schema.Time)
	windows := spec.WindowCount(slice.Stop - slice.Start)

	var out *domain.GridDataset
	for _, c := range dailyCategories {
		names := cats[c]
		if len(names) == 0 {
			continue
		}
		shift := prof.SourceShifts[c]
		offset := prof.LabelOffsets[c]
		var ds *domain.GridDataset
		if shifted := slice.Shifted(shift, n); shifted.Empty() {
			// The slice ends the axis before the shifted read starts, so its
			// windows hold no data. Aggregating NaN over the unshifted times
			// gives the same labels and NaN values.
			p.logger.Warn("no source steps after shift, writing NaN", "category", c, "start", slice.Start, "stop", slice.Stop)
			ds = nanRegion(schema, names, schema.Time[slice.Start:slice.Stop])
			offset -= time.Duration(shift) * domain.Hourly.Nominal()
		} else {
			var err error
			if ds, err = src.ReadRegion(ctx, names, shifted.Start, shifted.Stop); err != nil {
				return err
			}
		}
		agg, err := domain.Aggregate(ds, domain.Classification{c: names}, spec, domain.AggregateOptions{
			Offsets: map[domain.AccumulationCategory]time.Duration{c: offset},
			Windows: windows,
		})
		if err != nil {
			return err
		}
		if out == nil {
			out = agg
		} else if err := out.Merge(agg); err != nil {
			return err
		}
	}
	if out == nil {
		return errSkip
	}
	_, err := p.writeRegion(ctx, dst, destTime, out, domain.Daily.String())
	return err
}

// nanRegion returns the named variables of schema over times, every value NaN.
func nanRegion(schema *domain.GridDataset, names []string, times []time.Time) *domain.GridDataset {
	ds := schema.Select()
	ds.Time = times
	for _, name := range names {
		v := schema.Vars[name].Schema()
		shape, err := ds.Shape(v)
		if err != nil {
			continue
		}
		v.Data = sparse.ZerosDense(shape...)
		for i := range v.Data.Elements {
			v.Data.Elements[i] = math.NaN()
		}
		ds.Vars[name] = v
	}
	return ds
}

// Monthly coarsens the daily store src into calendar months in dst, one job
// per variable over the whole axis.
func (p *Pipeline) Monthly(ctx context.Context, src, dst Store) ([]JobResult, error) {
	schema, err := src.Schema(ctx)
	if err != nil {
		return nil, fmt.Errorf("read source schema: %w", err)
	}
	dest, err := dst.Schema(ctx)
	if err != nil {
		return nil, fmt.Errorf("read destination schema: %w", err)
	}
	cats := p.restrict(domain.Classify(schema))
	spec := domain.MonthlyWindow()

	var tasks []Task
	for _, c := range []domain.AccumulationCategory{domain.Instantaneous, domain.Accum24H, domain.AccumMonth} {
		for _, name := range cats[c] {
			tasks = append(tasks, Task{
				Index: len(tasks),
				Name:  name,
				Run: func(ctx context.Context) error {
					ds, err := src.ReadRegion(ctx, []string{name}, 0, len(schema.Time))
					if err != nil {
						return err
					}
					agg, err := domain.Aggregate(ds, domain.Classification{c: {name}}, spec, domain.AggregateOptions{})
					if err != nil {
						return err
					}
					_, err = p.writeRegion(ctx, dst, dest.Time, agg, domain.Monthly.String())
					return err
				},
			})
		}
	}
	return p.runner.Run(ctx, stageMonthly, tasks), nil
}

// restrict limits cats to the configured variables, if any.
func (p *Pipeline) restrict(cats domain.Classification) domain.Classification {
	if len(p.opts.Vars) == 0 {
		return cats
	}
	out := domain.Classification{}
	for c, names := range cats {
		for _, n := range names {
			if slices.Contains(p.opts.Vars, n) {
				out[c] = append(out[c], n)
			}
		}
	}
	return out
}
