package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/ctessum/sparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/conus404-etl/internal/domain"
	"github.com/couchcryptid/conus404-etl/internal/pipeline"
)

// humiditySource returns days of hourly T2, Q2 and PSFC on a 2x2 grid.
func humiditySource(days int) *domain.GridDataset {
	n := days * 24
	ds := domain.NewGridDataset()
	ds.SetDim("y", 2)
	ds.SetDim("x", 2)
	ds.Time = domain.TimeAxis(base, base.Add(time.Duration(n-1)*time.Hour), domain.Hourly)
	values := map[string]func(h, c int) float64{
		domain.VarT2:   func(h, c int) float64 { return 280 + float64(h%24) + float64(c) },
		domain.VarQ2:   func(h, _ int) float64 { return 0.004 + 0.0001*float64(h%10) },
		domain.VarPSFC: func(_, c int) float64 { return 95000 + 1000*float64(c) },
	}
	for name, f := range values {
		data := sparse.ZerosDense(n, 2, 2)
		for i := range data.Elements {
			data.Elements[i] = f(i/cells, i%cells)
		}
		ds.Vars[name] = &domain.Variable{
			Name:  name,
			Dims:  []string{domain.TimeDim, "y", "x"},
			DType: domain.Float32,
			Attrs: domain.Attrs{domain.IntegrationAttr: domain.IntegrationInstantaneous},
			Data:  data,
		}
	}
	return ds
}

func TestDerive_FillsHumidityFields(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(nil, pipeline.Options{})
	src := humiditySource(12)
	store := filledHourlyStore(t, p, src)

	require.NoError(t, p.PrepareDerived(ctx, store))
	require.NoError(t, p.PrepareDerived(ctx, store), "preparing twice is a no-op")
	schema, err := store.Schema(ctx)
	require.NoError(t, err)
	for _, n := range domain.DerivedHumidityNames() {
		require.Contains(t, schema.Vars, n)
		assert.Equal(t, []string{domain.TimeDim, "y", "x"}, schema.Vars[n].Dims)
	}

	results, err := p.Derive(ctx, store, []int{0, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, []domain.Outcome{domain.OutcomeSucceeded, domain.OutcomeSucceeded, domain.OutcomeSkipped}, outcomes(results))

	// Inputs round-trip through float32 storage, so compare against what
	// the store holds.
	tk := readVar(t, store, domain.VarT2, 0, 288)
	q := readVar(t, store, domain.VarQ2, 0, 288)
	ps := readVar(t, store, domain.VarPSFC, 0, 288)
	rh := readVar(t, store, "RH2", 0, 288)
	td := readVar(t, store, "TD2", 0, 288)
	for _, i := range []int{0, 5, 577, 1151} {
		assert.InDelta(t, domain.RelativeHumidity(q[i], ps[i], tk[i]), rh[i], 1e-3, "RH2[%d]", i)
		assert.InDelta(t, domain.DewpointTemperature(q[i], ps[i]), td[i], 1e-3, "TD2[%d]", i)
	}
}

func TestDerive_RequiresPreparedStore(t *testing.T) {
	p := newPipeline(nil, pipeline.Options{})
	store := filledHourlyStore(t, p, humiditySource(1))

	_, err := p.Derive(context.Background(), store, []int{0})
	require.ErrorIs(t, err, domain.ErrUnknownVariable)
}

func TestExtendTime_GrowsAxisKeepingData(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(nil, pipeline.Options{})
	src := hourlySource(6)
	store := filledHourlyStore(t, p, src)

	end := base.AddDate(0, 0, 12).Add(-time.Hour)
	require.NoError(t, p.ExtendTime(ctx, store, end, domain.Hourly))

	schema, err := store.Schema(ctx)
	require.NoError(t, err)
	require.Len(t, schema.Time, 288)
	assert.Equal(t, base, schema.Time[0])
	assert.Equal(t, end, schema.Time[287])
	assert.Equal(t, src.Vars["T2"].Data.Elements, readVar(t, store, "T2", 0, 144))
	for _, v := range readVar(t, store, "T2", 144, 288) {
		require.Zero(t, v)
	}

	err = p.ExtendTime(ctx, store, base.AddDate(0, 0, 3), domain.Hourly)
	require.Error(t, err, "shrinking the axis is rejected")
}
