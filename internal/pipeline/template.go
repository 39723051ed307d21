package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/couchcryptid/conus404-etl/internal/domain"
)

// TemplateOptions control how a template is planned from a source schema.
type TemplateOptions struct {
	// End is the last time step of the axis, inclusive.
	End  time.Time
	Step domain.Step
	// Chunks is the requested chunking of the destination.
	Chunks domain.ChunkPlan
	// Constants supplies time-invariant fields with data, such as the model
	// constants file. They take precedence over source constants.
	Constants *domain.GridDataset
	// Window, when set, relabels integration lengths for a store produced by
	// that aggregation.
	Window    *domain.WindowSpec
	Overwrite bool
}

// TemplatePlan is the complete layout of a destination store, computed
// without touching it.
type TemplatePlan struct {
	Step domain.Step
	// Template holds every time-varying variable, without data, over the
	// full axis.
	Template *domain.GridDataset
	// Constants holds time-invariant variables with data.
	Constants *domain.GridDataset
	Chunks    map[string][]int
	Overwrite bool
}

// PlanTemplate lays out a store for source over the regular axis running
// from the source's first timestamp, floored to opts.Step, through opts.End.
// Constants and bucket counters are not broadcast along time. Bucket
// remainders are labelled as since-start totals. Source constants without
// data are left out.
func PlanTemplate(source *domain.GridDataset, opts TemplateOptions) (TemplatePlan, error) {
	if len(source.Time) == 0 {
		return TemplatePlan{}, fmt.Errorf("plan template: %w", domain.ErrNoTimeOrigin)
	}
	origin := opts.Step.Floor(source.Time[0])
	if opts.End.Before(origin) {
		return TemplatePlan{}, fmt.Errorf("plan template: end %s precedes origin %s", opts.End, origin)
	}

	cats := domain.Classify(source)
	tmpl := source.Select()
	tmpl.Attrs = source.Attrs.Clone()
	tmpl.Time = domain.TimeAxis(origin, opts.End, opts.Step)
	for _, c := range []domain.AccumulationCategory{
		domain.Instantaneous, domain.Accum60Min, domain.AccumSinceStart, domain.Accum24H, domain.AccumMonth,
	} {
		for _, name := range cats[c] {
			v := source.Vars[name].Schema()
			v.Encoding = domain.Encoding{}
			if text, _ := v.Attrs.String(domain.IntegrationAttr); text == domain.IntegrationSinceStartBucket {
				// Bucket remainders are stored as their resolved totals.
				v.Attrs[domain.IntegrationAttr] = domain.IntegrationSinceStart
				delete(v.Attrs, "notes")
			}
			if opts.Window != nil {
				v.Attrs[domain.IntegrationAttr] = domain.AggregatedIntegration(c, *opts.Window)
			}
			tmpl.Vars[name] = v
		}
	}

	constants := source.Select()
	constants.Time = nil
	for _, name := range cats[domain.Constant] {
		if v := source.Vars[name]; v.Data != nil {
			constants.Vars[name] = v
		}
	}
	if opts.Constants != nil {
		for _, d := range opts.Constants.Dims {
			if n, ok := constants.DimLen(d.Name); ok && n != d.Len {
				return TemplatePlan{}, fmt.Errorf("plan template: constant dimension %s is %d, source has %d: %w",
					d.Name, d.Len, n, domain.ErrShapeMismatch)
			}
			constants.SetDim(d.Name, d.Len)
		}
		for name, v := range opts.Constants.Vars {
			if v.IsTimeVarying() {
				return TemplatePlan{}, fmt.Errorf("plan template: constant %s has a time dimension", name)
			}
			constants.Vars[name] = v
		}
	}

	if err := tmpl.Validate(); err != nil {
		return TemplatePlan{}, fmt.Errorf("plan template: %w", err)
	}
	chunks, err := domain.PlanChunks(tmpl, opts.Chunks)
	if err != nil {
		return TemplatePlan{}, err
	}
	constChunks, err := domain.PlanChunks(constants, opts.Chunks)
	if err != nil {
		return TemplatePlan{}, err
	}
	for name, c := range constChunks {
		chunks[name] = c
	}

	return TemplatePlan{
		Step:      opts.Step,
		Template:  tmpl,
		Constants: constants,
		Chunks:    chunks,
		Overwrite: opts.Overwrite,
	}, nil
}

// ExecuteTemplate writes plan to store: the zero-filled time-varying layout
// first, then the constants in full. It destroys an existing store only when
// the plan allows overwriting, and must not run once region writes began.
func (p *Pipeline) ExecuteTemplate(ctx context.Context, store Store, plan TemplatePlan) error {
	if err := store.WriteTemplate(ctx, plan.Template, plan.Chunks, plan.Overwrite); err != nil {
		return fmt.Errorf("write template: %w", err)
	}
	if len(plan.Constants.Vars) > 0 {
		if err := store.WriteConstants(ctx, plan.Constants, plan.Chunks); err != nil {
			return fmt.Errorf("write constants: %w", err)
		}
	}
	p.metrics.Templates.WithLabelValues(plan.Step.String()).Inc()
	p.logger.Info("template written",
		"level", plan.Step,
		"variables", len(plan.Template.Vars),
		"constants", len(plan.Constants.Vars),
		"steps", len(plan.Template.Time),
		"start", plan.Template.Time[0],
		"end", plan.Template.Time[len(plan.Template.Time)-1],
	)
	return nil
}
