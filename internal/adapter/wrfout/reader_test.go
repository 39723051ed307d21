package wrfout

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/conus404-etl/internal/domain"
	"github.com/couchcryptid/conus404-etl/internal/observability"
)

var simStart = time.Date(1979, 10, 1, 0, 0, 0, 0, time.UTC)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// hourlyFrame is one hour of output over a 2x3 grid with T2 = base + cell.
func hourlyFrame(t time.Time, base float32) Frame {
	t2 := make([]float32, 6)
	acc := make([]float32, 6)
	for i := range t2 {
		t2[i] = base + float32(i)
		acc[i] = float32(t.Sub(simStart).Hours())
	}
	return Frame{
		Times:    []time.Time{t},
		SimStart: simStart,
		DimLens:  map[string]int{"south_north": 2, "west_east": 3},
		Attrs:    domain.Attrs{"TITLE": "OUTPUT FROM WRF V3.9.1.1 MODEL"},
		Fields: []Field{
			{
				Name:  "T2",
				Dims:  []string{"Time", "south_north", "west_east"},
				Attrs: domain.Attrs{"units": "K", "MemoryOrder": "XY ", "coordinates": "XLONG XLAT XTIME", "stagger": "-"},
				Data:  t2,
			},
			{
				Name:  "ACRAINLSM",
				Dims:  []string{"Time", "south_north", "west_east"},
				Attrs: domain.Attrs{"units": "mm"},
				Data:  acc,
			},
		},
	}
}

func writeHours(t *testing.T, dir string, n int) []string {
	t.Helper()
	var paths []string
	for h := 0; h < n; h++ {
		ts := simStart.Add(time.Duration(h) * time.Hour)
		p := filepath.Join(dir, ts.Format("wrf2d_d01_2006-01-02_15:04:05"))
		require.NoError(t, WriteFile(p, hourlyFrame(ts, float32(280+h))))
		paths = append(paths, p)
	}
	return paths
}

func TestOpen_SchemaIsRenamed(t *testing.T) {
	paths := writeHours(t, t.TempDir(), 3)
	table := MetadataTable{"ACRAINLSM": {domain.IntegrationAttr: domain.IntegrationSinceStart, "long_name": "accumulated rain"}}
	r := NewReader(table, discard(), observability.NewMetricsForTesting())

	src, err := r.Open(context.Background(), paths)
	require.NoError(t, err)

	schema := src.Schema()
	require.Len(t, schema.Time, 3)
	assert.Equal(t, simStart.Add(2*time.Hour), schema.Time[2])
	assert.Equal(t, []string{"ACRAINLSM", "T2"}, schema.VarNames())

	t2 := schema.Vars["T2"]
	assert.Equal(t, []string{domain.TimeDim, "y", "x"}, t2.Dims)
	assert.Equal(t, "lon lat", t2.Attrs["coordinates"])
	assert.NotContains(t, t2.Attrs, "MemoryOrder")
	assert.NotContains(t, t2.Attrs, "stagger")
	assert.Nil(t, t2.Data, "opening reads no data")

	assert.Equal(t, domain.IntegrationSinceStart, schema.Vars["ACRAINLSM"].Attrs[domain.IntegrationAttr])
	assert.Equal(t, "OUTPUT FROM WRF V3.9.1.1 MODEL", schema.Attrs["TITLE"])
	assert.Equal(t, domain.AccumSinceStart, domain.ClassifyVariable(schema.Vars["ACRAINLSM"]))
}

func TestLoad_ConcatenatesAlongTime(t *testing.T) {
	paths := writeHours(t, t.TempDir(), 4)
	src, err := NewReader(nil, discard(), nil).Open(context.Background(), paths)
	require.NoError(t, err)

	ds, err := src.Load(context.Background(), []string{"T2"})
	require.NoError(t, err)
	require.Equal(t, []string{"T2"}, ds.VarNames())
	data := ds.Vars["T2"].Data
	assert.Equal(t, []int{4, 2, 3}, data.Shape)
	assert.Equal(t, 280.0, data.Elements[0])
	assert.Equal(t, 283.0+5, data.Elements[3*6+5])

	_, err = src.Load(context.Background(), []string{"Q2"})
	require.ErrorIs(t, err, domain.ErrUnknownVariable)
}

func TestOpen_MissingFiles(t *testing.T) {
	dir := t.TempDir()
	paths := writeHours(t, dir, 2)
	metrics := observability.NewMetricsForTesting()
	r := NewReader(nil, discard(), metrics)

	src, err := r.Open(context.Background(), append(paths, filepath.Join(dir, "absent")))
	require.NoError(t, err)
	assert.Equal(t, paths, src.Files())

	_, err = r.Open(context.Background(), []string{filepath.Join(dir, "absent")})
	require.ErrorIs(t, err, domain.ErrNoSourceFiles)
}

func TestReadConstants_SqueezesTime(t *testing.T) {
	p := filepath.Join(t.TempDir(), "wrfconstants_usgs404.nc")
	fr := Frame{
		Times:    []time.Time{simStart},
		SimStart: simStart,
		DimLens:  map[string]int{"south_north": 2, "west_east": 3},
		Fields: []Field{
			{Name: "HGT", Dims: []string{"Time", "south_north", "west_east"}, Attrs: domain.Attrs{"units": "m"}, Data: []float32{1, 2, 3, 4, 5, 6}},
			{Name: "XLAT", Dims: []string{"Time", "south_north", "west_east"}, Data: []float32{30, 30, 30, 31, 31, 31}},
		},
	}
	require.NoError(t, WriteFile(p, fr))

	ds, err := NewReader(nil, discard(), nil).ReadConstants(context.Background(), p)
	require.NoError(t, err)
	assert.Empty(t, ds.Time)
	assert.Equal(t, []string{"HGT", "lat"}, ds.VarNames())
	assert.Equal(t, []string{"y", "x"}, ds.Vars["HGT"].Dims)
	assert.False(t, ds.Vars["lat"].IsTimeVarying())
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, ds.Vars["HGT"].Data.Elements)
}
