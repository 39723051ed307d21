package wrfout

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaterYear(t *testing.T) {
	assert.Equal(t, 1980, WaterYear(time.Date(1979, 10, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1980, WaterYear(time.Date(1980, 9, 30, 23, 0, 0, 0, time.UTC)))
	assert.Equal(t, 2021, WaterYear(time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC)))
}

func TestFilePattern_Path(t *testing.T) {
	p, err := NewFilePattern("/data", "")
	require.NoError(t, err)

	got, err := p.Path(time.Date(1979, 10, 1, 5, 0, 0, 0, time.UTC), 1980)
	require.NoError(t, err)
	assert.Equal(t, "/data/WY1980/wrf2d_d01_1979-10-01_05:00:00", got)

	_, err = NewFilePattern("/data", "{{.Dir")
	require.Error(t, err)
}

func TestBuildFileList_Unverified(t *testing.T) {
	p, err := NewFilePattern("/data", "")
	require.NoError(t, err)

	list, err := BuildFileList(p, time.Date(1979, 10, 1, 0, 0, 0, 0, time.UTC), 2, false)
	require.NoError(t, err)
	assert.Len(t, list.Files, 48)
	assert.Empty(t, list.Missing)
	assert.Equal(t, "/data/WY1980/wrf2d_d01_1979-10-02_23:00:00", list.Files[47])
}

func TestBuildFileList_VerifiedWaterYearBoundary(t *testing.T) {
	dir := t.TempDir()
	p, err := NewFilePattern(dir, "")
	require.NoError(t, err)

	touch := func(wy int, ts time.Time) {
		path, err := p.Path(ts, wy)
		require.NoError(t, err)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, nil, 0o644))
	}
	start := time.Date(1980, 10, 1, 0, 0, 0, 0, time.UTC)
	// The boundary hour only exists in the previous water year's directory.
	touch(1980, start)
	for h := 1; h < 24; h++ {
		if h == 7 {
			continue
		}
		touch(1981, start.Add(time.Duration(h)*time.Hour))
	}

	list, err := BuildFileList(p, start, 1, true)
	require.NoError(t, err)
	require.Len(t, list.Files, 23)
	assert.Equal(t, filepath.Join(dir, "WY1980", "wrf2d_d01_1980-10-01_00:00:00"), list.Files[0])
	assert.Equal(t, []string{filepath.Join(dir, "WY1981", "wrf2d_d01_1980-10-01_07:00:00")}, list.Missing)
}
