package pipeline_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ctessum/sparse"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/conus404-etl/internal/adapter/zarr"
	"github.com/couchcryptid/conus404-etl/internal/config"
	"github.com/couchcryptid/conus404-etl/internal/domain"
	"github.com/couchcryptid/conus404-etl/internal/observability"
	"github.com/couchcryptid/conus404-etl/internal/pipeline"
)

var base = time.Date(1979, 10, 1, 0, 0, 0, 0, time.UTC)

const cells = 4 // 2x2 grid

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testProfile() config.Profile {
	p := config.DefaultProfile()
	p.DailyJobDays = 6
	return p
}

// hourlySource returns days of hourly output on a 2x2 grid. With h the hour
// index and c the cell: T2 = h + c, PREC_ACC_NC = 1, ACSNOW = h, ACSWDNB = 5,
// I_ACSWDNB cycles 0, 3, 7. The radiation pair carries the bucket text of
// the metadata table. HGT is a constant.
func hourlySource(days int) *domain.GridDataset {
	n := days * 24
	ds := domain.NewGridDataset()
	ds.Attrs = domain.Attrs{"TITLE": "OUTPUT FROM WRF"}
	ds.SetDim("y", 2)
	ds.SetDim("x", 2)
	ds.Time = domain.TimeAxis(base, base.Add(time.Duration(n-1)*time.Hour), domain.Hourly)

	fill := func(name, integration string, f func(h, c int) float64) {
		data := sparse.ZerosDense(n, 2, 2)
		for i := range data.Elements {
			data.Elements[i] = f(i/cells, i%cells)
		}
		ds.Vars[name] = &domain.Variable{
			Name:  name,
			Dims:  []string{domain.TimeDim, "y", "x"},
			DType: domain.Float32,
			Attrs: domain.Attrs{domain.IntegrationAttr: integration, "coordinates": "lon lat"},
			Data:  data,
		}
	}
	fill("T2", domain.IntegrationInstantaneous, func(h, c int) float64 { return float64(h + c) })
	fill("PREC_ACC_NC", domain.Integration60Min, func(int, int) float64 { return 1 })
	fill("ACSNOW", domain.IntegrationSinceStart, func(h, _ int) float64 { return float64(h) })
	fill("ACSWDNB", domain.IntegrationSinceStartBucket, func(int, int) float64 { return 5 })
	fill("I_ACSWDNB", domain.IntegrationSinceStartBucket, func(h, _ int) float64 { return []float64{0, 3, 7}[h%3] })
	ds.Vars["ACSWDNB"].Attrs["notes"] = "bucket remainder"

	hgt := sparse.ZerosDense(2, 2)
	for i := range hgt.Elements {
		hgt.Elements[i] = float64(1000 + i)
	}
	ds.Vars["HGT"] = &domain.Variable{Name: "HGT", Dims: []string{"y", "x"}, DType: domain.Float32, Attrs: domain.Attrs{}, Data: hgt}
	return ds
}

// rows returns ds restricted to time indices [lo, hi).
func rows(ds *domain.GridDataset, lo, hi int) *domain.GridDataset {
	out := ds.Select()
	out.Time = ds.Time[lo:hi]
	for name, v := range ds.Vars {
		if !v.IsTimeVarying() {
			out.Vars[name] = v
			continue
		}
		per := len(v.Data.Elements) / len(ds.Time)
		shape := append([]int{hi - lo}, v.Data.Shape[1:]...)
		data := sparse.ZerosDense(shape...)
		copy(data.Elements, v.Data.Elements[lo*per:hi*per])
		c := v.Schema()
		c.Data = data
		out.Vars[name] = c
	}
	return out
}

type fakeSource struct {
	ds    *domain.GridDataset
	loads *atomic.Int32
}

func (s *fakeSource) Schema() *domain.GridDataset { return s.ds.SchemaOnly() }

func (s *fakeSource) Load(_ context.Context, names []string) (*domain.GridDataset, error) {
	s.loads.Add(1)
	out := s.ds.Select()
	for _, n := range names {
		v, ok := s.ds.Vars[n]
		if !ok {
			return nil, domain.ErrUnknownVariable
		}
		out.Vars[n] = v.Clone()
	}
	return out, nil
}

// fakeOpener serves job ranges out of one in-memory dataset.
type fakeOpener struct {
	ds *domain.GridDataset
	// failures makes the first calls fail with these errors, in order.
	failures []error

	mu    sync.Mutex
	calls int
	loads atomic.Int32
}

func (o *fakeOpener) OpenRange(_ context.Context, start time.Time, days int) (pipeline.Source, error) {
	o.mu.Lock()
	call := o.calls
	o.calls++
	o.mu.Unlock()
	if call < len(o.failures) {
		return nil, o.failures[call]
	}

	lo := domain.IndexOf(o.ds.Time, start)
	if lo < 0 {
		return nil, domain.ErrNoSourceFiles
	}
	hi := min(lo+days*24, len(o.ds.Time))
	return &fakeSource{ds: rows(o.ds, lo, hi), loads: &o.loads}, nil
}

func openStore(t *testing.T, name string) *zarr.Store {
	t.Helper()
	s, err := zarr.Open(filepath.Join(t.TempDir(), name))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type recordingPublisher struct {
	mu       sync.Mutex
	statuses []domain.JobStatus
}

func (r *recordingPublisher) Publish(_ context.Context, s domain.JobStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
	return nil
}

func newRunner(publisher pipeline.StatusPublisher) *pipeline.Runner {
	return pipeline.NewRunner(2, pipeline.RetryPolicy{Attempts: 3, Delay: time.Millisecond},
		publisher, "test-run", discardLogger(), observability.NewMetricsForTesting())
}

func newPipeline(opener pipeline.SourceOpener, opts pipeline.Options) *pipeline.Pipeline {
	if opts.Profile.HourlyJobDays == 0 {
		opts.Profile = testProfile()
	}
	return pipeline.New(opener, newRunner(nil), discardLogger(), observability.NewMetricsForTesting(), opts)
}

// hourlyStore lays out an hourly store for src over its whole axis.
func hourlyStore(t *testing.T, p *pipeline.Pipeline, src *domain.GridDataset) *zarr.Store {
	t.Helper()
	store := openStore(t, "hourly.zarr")
	plan, err := pipeline.PlanTemplate(src, pipeline.TemplateOptions{
		End:    src.Time[len(src.Time)-1],
		Step:   domain.Hourly,
		Chunks: testProfile().Chunks[domain.Hourly],
	})
	require.NoError(t, err)
	require.NoError(t, p.ExecuteTemplate(context.Background(), store, plan))
	return store
}

// filledHourlyStore is hourlyStore with every broadcast variable written.
func filledHourlyStore(t *testing.T, p *pipeline.Pipeline, src *domain.GridDataset) *zarr.Store {
	t.Helper()
	store := hourlyStore(t, p, src)
	schema, err := store.Schema(context.Background())
	require.NoError(t, err)
	require.NoError(t, store.WriteRegion(context.Background(),
		src.Select(schema.TimeVarying().VarNames()...), 0, len(src.Time)))
	return store
}

func readVar(t *testing.T, s pipeline.Store, name string, lo, hi int) []float64 {
	t.Helper()
	ds, err := s.ReadRegion(context.Background(), []string{name}, lo, hi)
	require.NoError(t, err)
	return ds.Vars[name].Data.Elements
}
