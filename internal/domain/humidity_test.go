package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHumidityFormulas(t *testing.T) {
	// 20 C, 10 g/kg at sea level.
	const (
		temp = 293.15
		qv   = 0.010
		psfc = 101325.0
	)
	e := VaporPressure(qv, psfc)
	es := SaturationVaporPressure(temp)

	assert.InDelta(t, 1603.24, e, 0.01)
	assert.InDelta(t, 2340.01, es, 0.01)
	assert.InDelta(t, 100*e/es, RelativeHumidity(qv, psfc, temp), 1e-9)
	assert.InDelta(t, 0.0099010, SpecificHumidity(qv), 1e-6)
	assert.InDelta(t, 287.2, DewpointTemperature(qv, psfc), 0.1)
}

func TestVaporPressure_Floors(t *testing.T) {
	assert.Equal(t, 0.001, VaporPressure(-0.5, 101325))
	assert.Equal(t, 0.001, VaporPressure(0, 101325))
}

func TestDeriveHumidity(t *testing.T) {
	ds := hourlyDataset(testBase, 2,
		series(VarT2, nil, 293.15, 283.15),
		series(VarQ2, nil, 0.010, 0.005),
		series(VarPSFC, nil, 101325, 90000),
	)

	out, err := DeriveHumidity(ds)
	require.NoError(t, err)

	assert.Equal(t, []string{"E2", "ES2", "RH2", "SH2", "TD2"}, out.VarNames())
	rh := out.Vars["RH2"]
	assert.Equal(t, []int{2, 1, 1}, rh.Data.Shape)
	assert.InDelta(t, RelativeHumidity(0.005, 90000, 283.15), rh.Data.Elements[1], 1e-9)
	assert.Equal(t, "crs", rh.Attrs["grid_mapping"])
	assert.Equal(t, "Tetens equation", rh.Attrs["notes"])
	assert.Equal(t, "Pa", out.Vars["E2"].Attrs["units"])
	assert.Equal(t, Instantaneous, ClassifyVariable(rh))
}

func TestDeriveHumidity_SchemaOnly(t *testing.T) {
	ds := hourlyDataset(testBase, 2,
		series(VarT2, nil, 1, 1), series(VarQ2, nil, 1, 1), series(VarPSFC, nil, 1, 1))
	schema := ds.SchemaOnly()

	out, err := DeriveHumidity(schema)
	require.NoError(t, err)
	assert.Nil(t, out.Vars["TD2"].Data)
	assert.Equal(t, []string{TimeDim, "y", "x"}, out.Vars["TD2"].Dims)
}

func TestDeriveHumidity_MissingSource(t *testing.T) {
	ds := hourlyDataset(testBase, 1, series(VarT2, nil, 1))

	_, err := DeriveHumidity(ds)
	require.ErrorIs(t, err, ErrUnknownVariable)
}
