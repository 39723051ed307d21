package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridDataset_Validate(t *testing.T) {
	ds := hourlyDataset(testBase, 3, series("T2", nil, 1, 2, 3))
	require.NoError(t, ds.Validate())

	t.Run("time not leading", func(t *testing.T) {
		bad := hourlyDataset(testBase, 3)
		bad.Vars["X"] = &Variable{Name: "X", Dims: []string{"y", TimeDim}}
		assert.Error(t, bad.Validate())
	})

	t.Run("shape mismatch", func(t *testing.T) {
		bad := hourlyDataset(testBase, 2, series("T2", nil, 1, 2, 3))
		assert.ErrorIs(t, bad.Validate(), ErrShapeMismatch)
	})

	t.Run("irregular time", func(t *testing.T) {
		bad := hourlyDataset(testBase, 3)
		bad.Time[2] = bad.Time[2].Add(time.Minute)
		assert.ErrorIs(t, bad.Validate(), ErrIrregularTime)
	})
}

func TestGridDataset_SelectDropSplit(t *testing.T) {
	ds := hourlyDataset(testBase, 2, series("T2", nil, 1, 2), series("Q2", nil, 1, 2))
	ds.Vars["HGT"] = &Variable{Name: "HGT", Dims: []string{"y", "x"}}

	assert.Equal(t, []string{"T2"}, ds.Select("T2", "missing").VarNames())
	assert.Equal(t, []string{"HGT", "Q2"}, ds.Drop("T2").VarNames())
	assert.Equal(t, []string{"Q2", "T2"}, ds.TimeVarying().VarNames())
	assert.Equal(t, []string{"HGT"}, ds.Constants().VarNames())
	// Derived views never mutate the parent.
	assert.Len(t, ds.Vars, 3)
}

func TestGridDataset_Merge(t *testing.T) {
	a := hourlyDataset(testBase, 2, series("T2", nil, 1, 2))
	b := hourlyDataset(testBase, 2, series("Q2", nil, 1, 2))
	require.NoError(t, a.Merge(b))
	assert.Equal(t, []string{"Q2", "T2"}, a.VarNames())

	c := hourlyDataset(testBase.Add(time.Hour), 2, series("PSFC", nil, 1, 2))
	assert.ErrorIs(t, a.Merge(c), ErrLabelConflict)
}

func TestVariable_CloneIsDeep(t *testing.T) {
	v := series("T2", Attrs{"units": "K"}, 1, 2)
	c := v.Clone()
	c.Data.Elements[0] = 99
	c.Attrs["units"] = "C"

	assert.Equal(t, 1.0, v.Data.Elements[0])
	assert.Equal(t, "K", v.Attrs["units"])
	assert.Nil(t, v.Schema().Data)
}

func TestAttrsFloat(t *testing.T) {
	a := Attrs{"a": float32(2), "b": []float32{3}, "c": "x"}
	f, ok := a.Float("a")
	require.True(t, ok)
	assert.Equal(t, 2.0, f)
	f, _ = a.Float("b")
	assert.Equal(t, 3.0, f)
	_, ok = a.Float("c")
	assert.False(t, ok)
}

func TestTransient(t *testing.T) {
	base := errors.New("rmtree lagging")
	err := Transient(base)

	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsTransient(base))
	assert.NoError(t, Transient(nil))
}
