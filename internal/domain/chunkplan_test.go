package domain

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestPlanChunks(t *testing.T) {
	ds := NewGridDataset()
	ds.Time = TimeAxis(testBase, testBase.AddDate(0, 0, 10).Add(-1), Hourly)
	ds.SetDim("y", 1015)
	ds.SetDim("x", 100)
	ds.SetDim("soil_layers_stag", 4)
	ds.Vars["T2"] = &Variable{Name: "T2", Dims: []string{TimeDim, "y", "x"}}
	ds.Vars["SMOIS"] = &Variable{Name: "SMOIS", Dims: []string{TimeDim, "soil_layers_stag", "y", "x"}}
	ds.Vars["HGT"] = &Variable{Name: "HGT", Dims: []string{"y", "x"}}
	ds.Vars["crs"] = &Variable{Name: "crs"}

	got, err := PlanChunks(ds, ChunkPlan{TimeDim: 144, "y": 175, "x": 175, "bogus": 3})
	require.NoError(t, err)

	want := map[string][]int{
		"T2":    {144, 175, 100},
		"SMOIS": {144, 4, 175, 100},
		"HGT":   {175, 100},
		"crs":   {},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("PlanChunks() mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanChunks_UnknownDimension(t *testing.T) {
	ds := NewGridDataset()
	ds.Vars["bad"] = &Variable{Name: "bad", Dims: []string{"z"}}

	_, err := PlanChunks(ds, ChunkPlan{})
	require.Error(t, err)
}
