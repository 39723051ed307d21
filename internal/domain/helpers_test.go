package domain

import (
	"time"

	"github.com/ctessum/sparse"
)

var testBase = time.Date(1979, 10, 1, 0, 0, 0, 0, time.UTC)

// series builds a single-cell variable along time.
func series(name string, attrs Attrs, vals ...float64) *Variable {
	data := sparse.ZerosDense(len(vals), 1, 1)
	copy(data.Elements, vals)
	return &Variable{
		Name:  name,
		Dims:  []string{TimeDim, "y", "x"},
		DType: Float32,
		Attrs: attrs,
		Data:  data,
	}
}

// hourlyDataset wraps vars in a 1x1 grid with an hourly axis from start.
func hourlyDataset(start time.Time, n int, vars ...*Variable) *GridDataset {
	ds := NewGridDataset()
	ds.SetDim("y", 1)
	ds.SetDim("x", 1)
	ds.Time = TimeAxis(start, start.Add(time.Duration(n-1)*time.Hour), Hourly)
	for _, v := range vars {
		ds.Vars[v.Name] = v
	}
	return ds
}

func ramp(n int, from, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = from + float64(i)*step
	}
	return out
}
