package pipeline

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/couchcryptid/conus404-etl/internal/domain"
)

const stageIngest = "ingest"

// Ingest copies the model output of each hourly job into store. The store
// must already hold a template covering the jobs. Jobs starting after the
// store's last timestamp are skipped.
func (p *Pipeline) Ingest(ctx context.Context, store Store, indices []int) ([]JobResult, error) {
	if err := p.requireOpener(); err != nil {
		return nil, err
	}
	dest, err := store.Schema(ctx)
	if err != nil {
		return nil, fmt.Errorf("read destination schema: %w", err)
	}

	prof := p.opts.Profile
	tasks := make([]Task, len(indices))
	for i, idx := range indices {
		job := domain.JobFor(prof.BaseDate, prof.HourlyJobDays, idx)
		tasks[i] = Task{
			Index: idx,
			Start: job.Start,
			End:   job.End,
			Run: func(ctx context.Context) error {
				return p.ingestJob(ctx, store, dest, job)
			},
		}
	}
	return p.runner.Run(ctx, stageIngest, tasks), nil
}

func (p *Pipeline) ingestJob(ctx context.Context, store Store, dest *domain.GridDataset, job domain.Job) error {
	if len(dest.Time) == 0 || job.Start.After(dest.Time[len(dest.Time)-1]) {
		return errSkip
	}
	src, err := p.opener.OpenRange(ctx, job.Start, job.Days())
	if err != nil {
		return err
	}
	schema := src.Schema()
	if want := len(job.Hours()); len(schema.Time) != want {
		p.logger.Warn("partial source availability", "job", job.Index, "steps", len(schema.Time), "expected", want)
	}

	names, mode := p.ingestVars(schema, dest)
	if len(names) == 0 {
		return fmt.Errorf("%s: no source variable matches the destination: %w", job, domain.ErrUnknownVariable)
	}
	batches, err := p.batches(schema, names, mode)
	if err != nil {
		return err
	}

	var staging Store
	if p.opts.Scratch != nil {
		dirs, err := p.opts.Scratch.Prepare(ctx, job.Index)
		if err != nil {
			return err
		}
		defer func() {
			if err := p.opts.Scratch.Cleanup(dirs); err != nil {
				p.logger.Warn("scratch cleanup failed", "job", job.Index, "error", err)
			}
		}()
		if p.opts.Staging != nil {
			if staging, err = p.opts.Staging(dirs); err != nil {
				return err
			}
			if c, ok := staging.(io.Closer); ok {
				defer c.Close()
			}
		}
	}

	pairs := p.opts.Profile.BucketPairs
	for _, batch := range batches {
		ds, err := src.Load(ctx, batch)
		if err != nil {
			return err
		}
		if mode == domain.BucketOnly {
			if ds, err = domain.ResolveBuckets(ds, pairsIn(pairs, batch)); err != nil {
				return err
			}
		}
		if staging != nil {
			if ds, err = p.stage(ctx, staging, ds); err != nil {
				return err
			}
		}
		if _, err := p.writeRegion(ctx, store, dest.Time, ds, domain.Hourly.String()); err != nil {
			return fmt.Errorf("%s: %w", job, err)
		}
	}
	return nil
}

// ingestVars picks the time-varying source variables the destination holds,
// including the counters of bucket pairs whose totals it holds. A mix of
// bucket pairs and other variables leaves the pairs out.
func (p *Pipeline) ingestVars(schema, dest *domain.GridDataset) ([]string, domain.BucketMode) {
	candidates := p.opts.Vars
	if len(candidates) == 0 {
		candidates = schema.VarNames()
	}
	pairs := p.opts.Profile.BucketPairs

	var names []string
	for _, n := range candidates {
		v, ok := schema.Vars[n]
		if !ok {
			p.logger.Warn("variable not in source", "variable", n)
			continue
		}
		if !v.IsTimeVarying() {
			continue
		}
		if _, ok := dest.Vars[n]; ok {
			names = append(names, n)
			continue
		}
		for _, pr := range pairs {
			if pr.Bucket == n {
				if _, ok := dest.Vars[pr.Accumulated]; ok {
					names = append(names, n)
				}
			}
		}
	}
	slices.Sort(names)
	names = slices.Compact(names)

	mode := domain.DetectBucketMode(schema.Select(names...), pairs)
	if mode == domain.BucketMixed {
		paired := domain.PairNames(pairs)
		names = slices.DeleteFunc(names, func(n string) bool { return slices.Contains(paired, n) })
		p.logger.Info("bucket pairs mixed with other variables, leaving them for a separate pass")
	}
	return names, mode
}

// batches splits names so that each load stays within the per-thread memory
// budget. The halves of a bucket pair always load together. A single
// variable larger than the budget forms its own batch.
func (p *Pipeline) batches(schema *domain.GridDataset, names []string, mode domain.BucketMode) ([][]string, error) {
	var units [][]string
	if mode == domain.BucketOnly {
		for _, pr := range pairsIn(p.opts.Profile.BucketPairs, names) {
			units = append(units, []string{pr.Accumulated, pr.Bucket})
		}
	} else {
		for _, n := range names {
			units = append(units, []string{n})
		}
	}

	budget := p.opts.MaxMemPerThread
	var out [][]string
	var cur []string
	var used int64
	for _, u := range units {
		var size int64
		for _, n := range u {
			cells, err := schema.CellCount(schema.Vars[n])
			if err != nil {
				return nil, err
			}
			size += int64(cells) * int64(len(schema.Time)) * 8
		}
		if len(cur) > 0 && budget > 0 && used+size > budget {
			out = append(out, cur)
			cur, used = nil, 0
		}
		cur = append(cur, u...)
		used += size
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out, nil
}

// stage copies ds through the staging store, running the copy up to
// CopyRetries times.
func (p *Pipeline) stage(ctx context.Context, staging Store, ds *domain.GridDataset) (*domain.GridDataset, error) {
	attempts := max(p.opts.CopyRetries, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		out, err := p.copyThrough(ctx, staging, ds)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn("staging copy failed", "attempt", attempt, "of", attempts, "error", err)
	}
	return nil, fmt.Errorf("staging copy failed after %d attempts: %w", attempts, lastErr)
}

// copyThrough writes ds into a fresh staging store with the hourly chunking
// and reads it back.
func (p *Pipeline) copyThrough(ctx context.Context, staging Store, ds *domain.GridDataset) (*domain.GridDataset, error) {
	tmpl := ds.SchemaOnly()
	chunks, err := domain.PlanChunks(tmpl, p.opts.Profile.Chunks[domain.Hourly])
	if err != nil {
		return nil, err
	}
	if err := staging.WriteTemplate(ctx, tmpl, chunks, true); err != nil {
		return nil, fmt.Errorf("stage template: %w", err)
	}
	if err := staging.WriteRegion(ctx, ds, 0, len(ds.Time)); err != nil {
		return nil, fmt.Errorf("stage region: %w", err)
	}
	return staging.ReadRegion(ctx, ds.VarNames(), 0, len(ds.Time))
}

// pairsIn returns the pairs whose accumulated variable is among names.
func pairsIn(pairs []domain.BucketPair, names []string) []domain.BucketPair {
	var out []domain.BucketPair
	for _, pr := range pairs {
		if slices.Contains(names, pr.Accumulated) {
			out = append(out, pr)
		}
	}
	return out
}
