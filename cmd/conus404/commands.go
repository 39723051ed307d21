package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/conus404-etl/internal/adapter/wrfout"
	"github.com/couchcryptid/conus404-etl/internal/adapter/zarr"
	"github.com/couchcryptid/conus404-etl/internal/domain"
	"github.com/couchcryptid/conus404-etl/internal/pipeline"
)

// sourceFlags locate and describe the model output.
type sourceFlags struct {
	dir      string
	pattern  string
	metadata string
	vars     string
	verify   bool
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.dir, "source-dir", "", "root directory of the model output")
	cmd.Flags().StringVar(&f.pattern, "pattern", "", "file name template (defaults to the profile's, then the water-year layout)")
	cmd.Flags().StringVar(&f.metadata, "metadata", "", "CSV table of curated variable metadata")
	cmd.Flags().StringVar(&f.vars, "vars", "", "file listing the variables to process, one per line")
	cmd.Flags().BoolVar(&f.verify, "verify", true, "list only existing files, resolving the water-year boundary hour")
}

func (a *app) catalog(f *sourceFlags) (*wrfout.Catalog, *wrfout.Reader, error) {
	var table wrfout.MetadataTable
	if f.metadata != "" {
		var err error
		if table, err = wrfout.ReadMetadataTable(f.metadata); err != nil {
			return nil, nil, err
		}
	}
	pattern := f.pattern
	if pattern == "" {
		pattern = a.cfg.Profile.FilePattern
	}
	fp, err := wrfout.NewFilePattern(f.dir, pattern)
	if err != nil {
		return nil, nil, err
	}
	reader := wrfout.NewReader(table, a.logger, a.metrics)
	return wrfout.NewCatalog(fp, reader, f.verify, a.logger), reader, nil
}

func (f *sourceFlags) varList() ([]string, error) {
	return optionalVarList(f.vars)
}

// catalogOpener adapts a Catalog to the pipeline's source interface.
type catalogOpener struct {
	catalog *wrfout.Catalog
}

func (o catalogOpener) OpenRange(ctx context.Context, start time.Time, days int) (pipeline.Source, error) {
	src, err := o.catalog.OpenRange(ctx, start, days)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// jobFlags select which jobs of a stage run.
type jobFlags struct {
	start   string
	count   int
	indices []int
}

func (f *jobFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.start, "start-date", "", "first job's start date (YYYY-MM-DD); must fall on a job boundary")
	cmd.Flags().IntVar(&f.count, "count", 1, "number of consecutive jobs from --start-date")
	cmd.Flags().IntSliceVar(&f.indices, "index", nil, "explicit job indices; overrides --start-date")
}

// resolve returns the selected job indices. With no selection every job of
// total is returned.
func (f *jobFlags) resolve(base time.Time, chunkDays, total int) ([]int, error) {
	switch {
	case len(f.indices) > 0:
		return f.indices, nil
	case f.start != "":
		start, err := parseDate(f.start)
		if err != nil {
			return nil, err
		}
		return domain.JobIndices(base, start, chunkDays, f.count)
	}
	out := make([]int, total)
	for i := range out {
		out[i] = i
	}
	return out, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.DateOnly, "2006-01-02 15:04", time.DateTime} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD[ HH:MM]", s)
}

func lastTime(ctx context.Context, store pipeline.Store) (int, time.Time, error) {
	schema, err := store.Schema(ctx)
	if err != nil {
		return 0, time.Time{}, err
	}
	if len(schema.Time) == 0 {
		return 0, time.Time{}, domain.ErrNoTimeOrigin
	}
	return len(schema.Time), schema.Time[len(schema.Time)-1], nil
}

func (a *app) templateCmd() *cobra.Command {
	var (
		src       sourceFlags
		level     string
		storePath string
		input     string
		constants string
		end       string
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Write an empty store laid out over the full time axis",
		Long: `Write the metadata and constants of a store so that jobs can fill it
in parallel. The hourly template is planned from the first day of model
output; daily and monthly templates are planned from the store they
aggregate (--input).`,
		RunE: func(*cobra.Command, []string) error {
			step, err := domain.ParseStep(level)
			if err != nil {
				return err
			}
			return a.run(func(ctx context.Context) error {
				dst, err := a.openStore(storePath)
				if err != nil {
					return err
				}
				defer dst.Close()

				var plan pipeline.TemplatePlan
				if step == domain.Hourly {
					plan, err = a.hourlyPlan(ctx, &src, constants, end, overwrite)
				} else {
					plan, err = a.aggregatePlan(ctx, input, step, src.vars, overwrite)
				}
				if err != nil {
					return err
				}
				return a.newPipeline(nil, pipeline.Options{}).ExecuteTemplate(ctx, dst, plan)
			})
		},
	}
	src.register(cmd)
	cmd.Flags().StringVar(&level, "level", "hourly", "store level: hourly, daily or monthly")
	cmd.Flags().StringVar(&storePath, "store", "", "path of the store to create")
	cmd.Flags().StringVar(&input, "input", "", "store to aggregate from (daily and monthly)")
	cmd.Flags().StringVar(&constants, "constants", "", "model constants file")
	cmd.Flags().StringVar(&end, "end", "", "last timestamp of the axis (hourly)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing store")
	_ = cmd.MarkFlagRequired("store")
	return cmd
}

func (a *app) hourlyPlan(ctx context.Context, f *sourceFlags, constants, end string, overwrite bool) (pipeline.TemplatePlan, error) {
	if f.dir == "" {
		return pipeline.TemplatePlan{}, errors.New("--source-dir is required for the hourly template")
	}
	if end == "" {
		return pipeline.TemplatePlan{}, errors.New("--end is required for the hourly template")
	}
	last, err := parseDate(end)
	if err != nil {
		return pipeline.TemplatePlan{}, err
	}
	catalog, reader, err := a.catalog(f)
	if err != nil {
		return pipeline.TemplatePlan{}, err
	}
	vars, err := f.varList()
	if err != nil {
		return pipeline.TemplatePlan{}, err
	}

	src, err := catalog.OpenRange(ctx, a.cfg.Profile.BaseDate, 1)
	if err != nil {
		return pipeline.TemplatePlan{}, err
	}
	schema := src.Schema()
	if len(vars) > 0 {
		schema = schema.Select(vars...)
	}
	opts := pipeline.TemplateOptions{
		End:       last,
		Step:      domain.Hourly,
		Chunks:    a.cfg.Profile.Chunks[domain.Hourly],
		Overwrite: overwrite,
	}
	if constants != "" {
		if opts.Constants, err = reader.ReadConstants(ctx, constants); err != nil {
			return pipeline.TemplatePlan{}, err
		}
	}
	return pipeline.PlanTemplate(schema, opts)
}

func (a *app) aggregatePlan(ctx context.Context, input string, step domain.Step, varsFile string, overwrite bool) (pipeline.TemplatePlan, error) {
	if input == "" {
		return pipeline.TemplatePlan{}, errors.New("--input is required for aggregated templates")
	}
	spec := domain.DailyWindow()
	if step == domain.Monthly {
		spec = domain.MonthlyWindow()
	}
	vars, err := optionalVarList(varsFile)
	if err != nil {
		return pipeline.TemplatePlan{}, err
	}
	src, err := a.openStore(input)
	if err != nil {
		return pipeline.TemplatePlan{}, err
	}
	defer src.Close()
	return a.newPipeline(nil, pipeline.Options{Vars: vars}).PlanAggregateTemplate(ctx, src, spec, overwrite)
}

func (a *app) ingestCmd() *cobra.Command {
	var (
		src       sourceFlags
		jobs      jobFlags
		storePath string
		stage     bool
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Copy hourly model output into the hourly store",
		RunE: func(*cobra.Command, []string) error {
			return a.run(func(ctx context.Context) error {
				catalog, _, err := a.catalog(&src)
				if err != nil {
					return err
				}
				vars, err := src.varList()
				if err != nil {
					return err
				}
				store, err := a.openStore(storePath)
				if err != nil {
					return err
				}
				defer store.Close()

				prof := a.cfg.Profile
				_, last, err := lastTime(ctx, store)
				if err != nil {
					return err
				}
				indices, err := jobs.resolve(prof.BaseDate, prof.HourlyJobDays, domain.JobCount(prof.BaseDate, last, prof.HourlyJobDays))
				if err != nil {
					return err
				}

				opts := pipeline.Options{Vars: vars}
				if stage {
					opts.Scratch = pipeline.NewScratch(a.cfg.ScratchDir, a.cfg.CopyRetries, a.cfg.RetryDelay, a.logger)
					opts.CopyRetries = a.cfg.CopyRetries
					opts.Staging = func(dirs pipeline.JobDirs) (pipeline.Store, error) {
						s, err := a.openStore(dirs.Target, zarr.WithTempDir(dirs.Temp))
						if err != nil {
							return nil, err
						}
						return s, nil
					}
				}
				results, err := a.newPipeline(catalogOpener{catalog}, opts).Ingest(ctx, store, indices)
				if err != nil {
					return err
				}
				return a.report("ingest", results)
			})
		},
	}
	src.register(cmd)
	jobs.register(cmd)
	cmd.Flags().StringVar(&storePath, "store", "", "hourly store written by the template command")
	cmd.Flags().BoolVar(&stage, "stage", false, "stage each job in the scratch directory before copying")
	_ = cmd.MarkFlagRequired("source-dir")
	_ = cmd.MarkFlagRequired("store")
	return cmd
}

func (a *app) dailyCmd() *cobra.Command {
	var (
		jobs     jobFlags
		src, dst string
		vars     string
	)
	cmd := &cobra.Command{
		Use:   "daily",
		Short: "Aggregate the hourly store into the daily store",
		RunE: func(*cobra.Command, []string) error {
			return a.run(func(ctx context.Context) error {
				names, err := optionalVarList(vars)
				if err != nil {
					return err
				}
				hourly, err := a.openStore(src)
				if err != nil {
					return err
				}
				defer hourly.Close()
				daily, err := a.openStore(dst)
				if err != nil {
					return err
				}
				defer daily.Close()

				prof := a.cfg.Profile
				n, _, err := lastTime(ctx, hourly)
				if err != nil {
					return err
				}
				steps := prof.DailyJobDays * 24
				indices, err := jobs.resolve(prof.BaseDate, prof.DailyJobDays, (n+steps-1)/steps)
				if err != nil {
					return err
				}
				results, err := a.newPipeline(nil, pipeline.Options{Vars: names}).Daily(ctx, hourly, daily, indices)
				if err != nil {
					return err
				}
				return a.report("daily", results)
			})
		},
	}
	jobs.register(cmd)
	cmd.Flags().StringVar(&src, "input", "", "hourly store")
	cmd.Flags().StringVar(&dst, "store", "", "daily store written by the template command")
	cmd.Flags().StringVar(&vars, "vars", "", "file listing the variables to aggregate")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("store")
	return cmd
}

func (a *app) monthlyCmd() *cobra.Command {
	var src, dst, vars string
	cmd := &cobra.Command{
		Use:   "monthly",
		Short: "Aggregate the daily store into the monthly store",
		RunE: func(*cobra.Command, []string) error {
			return a.run(func(ctx context.Context) error {
				names, err := optionalVarList(vars)
				if err != nil {
					return err
				}
				daily, err := a.openStore(src)
				if err != nil {
					return err
				}
				defer daily.Close()
				monthly, err := a.openStore(dst)
				if err != nil {
					return err
				}
				defer monthly.Close()

				results, err := a.newPipeline(nil, pipeline.Options{Vars: names}).Monthly(ctx, daily, monthly)
				if err != nil {
					return err
				}
				return a.report("monthly", results)
			})
		},
	}
	cmd.Flags().StringVar(&src, "input", "", "daily store")
	cmd.Flags().StringVar(&dst, "store", "", "monthly store written by the template command")
	cmd.Flags().StringVar(&vars, "vars", "", "file listing the variables to aggregate")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("store")
	return cmd
}

func (a *app) deriveCmd() *cobra.Command {
	var (
		jobs      jobFlags
		storePath string
	)
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Add relative humidity and dewpoint to the hourly store",
		RunE: func(*cobra.Command, []string) error {
			return a.run(func(ctx context.Context) error {
				store, err := a.openStore(storePath)
				if err != nil {
					return err
				}
				defer store.Close()

				p := a.newPipeline(nil, pipeline.Options{})
				if err := p.PrepareDerived(ctx, store); err != nil {
					return err
				}
				prof := a.cfg.Profile
				_, last, err := lastTime(ctx, store)
				if err != nil {
					return err
				}
				indices, err := jobs.resolve(prof.BaseDate, prof.HourlyJobDays, domain.JobCount(prof.BaseDate, last, prof.HourlyJobDays))
				if err != nil {
					return err
				}
				results, err := p.Derive(ctx, store, indices)
				if err != nil {
					return err
				}
				return a.report("derive", results)
			})
		},
	}
	jobs.register(cmd)
	cmd.Flags().StringVar(&storePath, "store", "", "hourly store")
	_ = cmd.MarkFlagRequired("store")
	return cmd
}

func (a *app) extendCmd() *cobra.Command {
	var storePath, level, end string
	cmd := &cobra.Command{
		Use:   "extend",
		Short: "Grow a store's time axis to a later end",
		RunE: func(*cobra.Command, []string) error {
			step, err := domain.ParseStep(level)
			if err != nil {
				return err
			}
			last, err := parseDate(end)
			if err != nil {
				return err
			}
			return a.run(func(ctx context.Context) error {
				store, err := a.openStore(storePath)
				if err != nil {
					return err
				}
				defer store.Close()
				return a.newPipeline(nil, pipeline.Options{}).ExtendTime(ctx, store, last, step)
			})
		},
	}
	cmd.Flags().StringVar(&storePath, "store", "", "store to extend")
	cmd.Flags().StringVar(&level, "level", "hourly", "store level: hourly, daily or monthly")
	cmd.Flags().StringVar(&end, "end", "", "new last timestamp")
	_ = cmd.MarkFlagRequired("store")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func (a *app) consolidateCmd() *cobra.Command {
	var storePath string
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Rewrite a store's consolidated metadata",
		RunE: func(*cobra.Command, []string) error {
			store, err := a.openStore(storePath)
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Consolidate()
		},
	}
	cmd.Flags().StringVar(&storePath, "store", "", "store to consolidate")
	_ = cmd.MarkFlagRequired("store")
	return cmd
}

func optionalVarList(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	return wrfout.ReadVarList(path)
}
