package domain

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/ctessum/sparse"
)

// TimeDim is the name of the leading dimension of every time-varying variable.
const TimeDim = "time"

// DType names the on-disk element type of a variable.
type DType string

const (
	Float32 DType = "float32"
	Float64 DType = "float64"
	Int32   DType = "int32"
	Int64   DType = "int64"
)

// Attrs holds variable or dataset metadata attributes.
type Attrs map[string]any

// String returns the attribute as a string if it is one.
func (a Attrs) String(key string) (string, bool) {
	v, ok := a[key].(string)
	return v, ok
}

// Float returns a numeric attribute as float64.
func (a Attrs) Float(key string) (float64, bool) {
	switch v := a[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case []float32:
		if len(v) > 0 {
			return float64(v[0]), true
		}
	case []float64:
		if len(v) > 0 {
			return v[0], true
		}
	}
	return 0, false
}

// Clone returns a shallow copy of the attribute map.
func (a Attrs) Clone() Attrs {
	if a == nil {
		return Attrs{}
	}
	return maps.Clone(a)
}

// Encoding carries storage hints a variable inherited from the store it was
// read from.
type Encoding struct {
	Chunks []int
}

// Variable is a named, dimensioned array. Data is nil for schema-only
// variables, such as those in a template.
type Variable struct {
	Name     string
	Dims     []string
	DType    DType
	Attrs    Attrs
	Encoding Encoding
	Data     *sparse.DenseArray
}

// HasDim reports whether the variable is laid out along the named dimension.
func (v *Variable) HasDim(name string) bool {
	return slices.Contains(v.Dims, name)
}

// IsTimeVarying reports whether the variable has a time dimension.
func (v *Variable) IsTimeVarying() bool {
	return v.HasDim(TimeDim)
}

// Schema returns a copy of the variable without data.
func (v *Variable) Schema() *Variable {
	return &Variable{
		Name:     v.Name,
		Dims:     slices.Clone(v.Dims),
		DType:    v.DType,
		Attrs:    v.Attrs.Clone(),
		Encoding: Encoding{Chunks: slices.Clone(v.Encoding.Chunks)},
	}
}

// Clone returns a deep copy of the variable including its data.
func (v *Variable) Clone() *Variable {
	c := v.Schema()
	if v.Data != nil {
		c.Data = v.Data.Copy()
	}
	return c
}

// Dimension is a named, fixed-length axis.
type Dimension struct {
	Name string
	Len  int
}

// GridDataset is a set of variables over shared dimensions plus a time axis.
// The time dimension's length is always len(Time) and is not listed in Dims.
type GridDataset struct {
	Dims  []Dimension
	Time  []time.Time
	Vars  map[string]*Variable
	Attrs Attrs
}

// NewGridDataset returns an empty dataset ready for use.
func NewGridDataset() *GridDataset {
	return &GridDataset{Vars: map[string]*Variable{}, Attrs: Attrs{}}
}

// DimLen returns the length of the named dimension.
func (ds *GridDataset) DimLen(name string) (int, bool) {
	if name == TimeDim {
		return len(ds.Time), true
	}
	for _, d := range ds.Dims {
		if d.Name == name {
			return d.Len, true
		}
	}
	return 0, false
}

// SetDim adds or resizes a non-time dimension.
func (ds *GridDataset) SetDim(name string, n int) {
	for i := range ds.Dims {
		if ds.Dims[i].Name == name {
			ds.Dims[i].Len = n
			return
		}
	}
	ds.Dims = append(ds.Dims, Dimension{Name: name, Len: n})
}

// Shape returns the lengths of v's dimensions in order.
func (ds *GridDataset) Shape(v *Variable) ([]int, error) {
	shape := make([]int, len(v.Dims))
	for i, d := range v.Dims {
		n, ok := ds.DimLen(d)
		if !ok {
			return nil, fmt.Errorf("variable %s: unknown dimension %q", v.Name, d)
		}
		shape[i] = n
	}
	return shape, nil
}

// VarNames returns variable names in sorted order.
func (ds *GridDataset) VarNames() []string {
	return slices.Sorted(maps.Keys(ds.Vars))
}

// Select returns a dataset sharing dims, time and attrs with ds but holding
// only the named variables. Unknown names are ignored.
func (ds *GridDataset) Select(names ...string) *GridDataset {
	out := ds.shallow()
	for _, n := range names {
		if v, ok := ds.Vars[n]; ok {
			out.Vars[n] = v
		}
	}
	return out
}

// Drop returns a dataset without the named variables.
func (ds *GridDataset) Drop(names ...string) *GridDataset {
	out := ds.shallow()
	for n, v := range ds.Vars {
		if !slices.Contains(names, n) {
			out.Vars[n] = v
		}
	}
	return out
}

// TimeVarying returns the subset of variables with a time dimension.
func (ds *GridDataset) TimeVarying() *GridDataset {
	var names []string
	for n, v := range ds.Vars {
		if v.IsTimeVarying() {
			names = append(names, n)
		}
	}
	return ds.Select(names...)
}

// Constants returns the subset of variables without a time dimension.
func (ds *GridDataset) Constants() *GridDataset {
	var names []string
	for n, v := range ds.Vars {
		if !v.IsTimeVarying() {
			names = append(names, n)
		}
	}
	return ds.Select(names...)
}

// Merge copies other's variables into ds. Time axes must match when both
// datasets are time-varying.
func (ds *GridDataset) Merge(other *GridDataset) error {
	if len(ds.Time) > 0 && len(other.Time) > 0 && !slices.EqualFunc(ds.Time, other.Time, time.Time.Equal) {
		return fmt.Errorf("%w: merge of differing time axes", ErrLabelConflict)
	}
	if len(ds.Time) == 0 {
		ds.Time = other.Time
	}
	for _, d := range other.Dims {
		if _, ok := ds.DimLen(d.Name); !ok {
			ds.SetDim(d.Name, d.Len)
		}
	}
	for n, v := range other.Vars {
		ds.Vars[n] = v
	}
	return nil
}

// ClearEncoding drops storage hints inherited from a previous store so the
// next write uses its own chunk plan.
func (ds *GridDataset) ClearEncoding() {
	for _, v := range ds.Vars {
		v.Encoding = Encoding{}
	}
}

// Validate checks that every variable's dims exist, time leads where present,
// data matches the declared shape, and the time axis is regular.
func (ds *GridDataset) Validate() error {
	for _, name := range ds.VarNames() {
		v := ds.Vars[name]
		if i := slices.Index(v.Dims, TimeDim); i > 0 {
			return fmt.Errorf("variable %s: time must be the leading dimension, found at %d", name, i)
		}
		shape, err := ds.Shape(v)
		if err != nil {
			return err
		}
		if v.Data != nil && !slices.Equal(v.Data.Shape, shape) {
			return fmt.Errorf("variable %s: %w: data %v, dims %v", name, ErrShapeMismatch, v.Data.Shape, shape)
		}
	}
	if _, err := InferStep(ds.Time, Hourly); err != nil {
		return err
	}
	return nil
}

func (ds *GridDataset) shallow() *GridDataset {
	return &GridDataset{
		Dims:  slices.Clone(ds.Dims),
		Time:  ds.Time,
		Vars:  make(map[string]*Variable),
		Attrs: ds.Attrs,
	}
}

// SchemaOnly returns a deep copy of ds with every variable's data removed.
func (ds *GridDataset) SchemaOnly() *GridDataset {
	out := ds.shallow()
	out.Time = slices.Clone(ds.Time)
	out.Attrs = ds.Attrs.Clone()
	for n, v := range ds.Vars {
		out.Vars[n] = v.Schema()
	}
	return out
}

// CellCount returns the number of elements in one time step of v.
func (ds *GridDataset) CellCount(v *Variable) (int, error) {
	shape, err := ds.Shape(v)
	if err != nil {
		return 0, err
	}
	n := 1
	for i, s := range shape {
		if v.Dims[i] == TimeDim {
			continue
		}
		n *= s
	}
	return n, nil
}
