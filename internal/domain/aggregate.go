package domain

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"
)

// Reduction collapses the values of one window into a single value.
type Reduction int

const (
	ReduceMean Reduction = iota + 1
	ReduceSum
	ReduceRange
	ReduceLast
)

func (r Reduction) String() string {
	switch r {
	case ReduceMean:
		return "mean"
	case ReduceSum:
		return "sum"
	case ReduceRange:
		return "max-min"
	case ReduceLast:
		return "passthrough"
	default:
		return fmt.Sprintf("Reduction(%d)", int(r))
	}
}

// Apply reduces vals. Any NaN input yields NaN, as does an empty window.
func (r Reduction) Apply(vals []float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	switch r {
	case ReduceMean:
		return floats.Sum(vals) / float64(len(vals))
	case ReduceSum:
		return floats.Sum(vals)
	case ReduceRange:
		if floats.HasNaN(vals) {
			return math.NaN()
		}
		return floats.Max(vals) - floats.Min(vals)
	case ReduceLast:
		return vals[len(vals)-1]
	default:
		return math.NaN()
	}
}

// ReductionFor returns the reduction used for category c under spec. Constant
// and bucket counters are never aggregated.
func ReductionFor(c AccumulationCategory, spec WindowSpec) (Reduction, bool) {
	switch c {
	case Instantaneous:
		return ReduceMean, true
	case Accum60Min:
		return ReduceSum, true
	case AccumSinceStart:
		return ReduceRange, true
	case Accum24H:
		if spec.Native == Daily {
			return ReduceSum, true
		}
		return ReduceLast, true
	case AccumMonth:
		return ReduceLast, true
	default:
		return 0, false
	}
}

// AggregatedIntegration returns the integration_length text a category has
// after coarsening under spec.
func AggregatedIntegration(c AccumulationCategory, spec WindowSpec) string {
	switch {
	case c == Accum24H && spec.Output == Monthly:
		return IntegrationMonth
	case (c == Accum60Min || c == AccumSinceStart) && spec.Output == Daily:
		return Integration24H
	}
	return c.IntegrationLength()
}

// AggregateOptions tunes a single aggregation.
type AggregateOptions struct {
	// Offsets shift each category's labels back to the start of the window.
	Offsets map[AccumulationCategory]time.Duration
	// Windows, when positive, is the number of output windows expected. Extra
	// windows beyond what the data supports are emitted as NaN.
	Windows int
}

// Aggregate coarsens every variable in cats from ds under spec. Constant
// variables in cats are carried over unchanged; bucket counters are skipped.
// Every category must produce the same output labels. The result has no
// chunk encoding.
func Aggregate(ds *GridDataset, cats Classification, spec WindowSpec, opts AggregateOptions) (*GridDataset, error) {
	out := &GridDataset{
		Dims:  slices.Clone(ds.Dims),
		Vars:  map[string]*Variable{},
		Attrs: ds.Attrs.Clone(),
	}

	var labels []time.Time
	for _, c := range sortedCategories(cats) {
		names := cats[c]
		if c == Constant {
			for _, n := range names {
				if v, ok := ds.Vars[n]; ok {
					out.Vars[n] = v.Clone()
				}
			}
			continue
		}
		red, ok := ReductionFor(c, spec)
		if !ok {
			continue
		}
		windows, err := spec.Partition(ds.Time, opts.Windows, opts.Offsets[c])
		if err != nil {
			return nil, err
		}
		got := windowLabels(windows)
		if labels == nil {
			labels = got
		} else if !slices.EqualFunc(labels, got, time.Time.Equal) {
			return nil, fmt.Errorf("%w: %s labels start %s, expected %s", ErrLabelConflict, c, got[0], labels[0])
		}

		for _, n := range names {
			v, ok := ds.Vars[n]
			if !ok {
				return nil, fmt.Errorf("aggregate %s: %w: %s", c, ErrUnknownVariable, n)
			}
			agg, err := reduceVariable(ds, v, windows, red)
			if err != nil {
				return nil, err
			}
			agg.Attrs[IntegrationAttr] = AggregatedIntegration(c, spec)
			out.Vars[n] = agg
		}
	}
	out.Time = labels
	out.ClearEncoding()
	return out, nil
}

func reduceVariable(ds *GridDataset, v *Variable, windows []Window, red Reduction) (*Variable, error) {
	if v.Data == nil {
		return nil, fmt.Errorf("aggregate %s: variable not loaded", v.Name)
	}
	if len(v.Dims) == 0 || v.Dims[0] != TimeDim {
		return nil, fmt.Errorf("aggregate %s: %w", v.Name, ErrConstantRegion)
	}
	shape, err := ds.Shape(v)
	if err != nil {
		return nil, err
	}
	if !slices.Equal(shape, v.Data.Shape) {
		return nil, fmt.Errorf("aggregate %s: %w", v.Name, ErrShapeMismatch)
	}

	outShape := slices.Clone(shape)
	outShape[0] = len(windows)
	cells := 1
	for _, s := range shape[1:] {
		cells *= s
	}
	data := sparse.ZerosDense(outShape...)
	buf := make([]float64, 0, maxWindowLen(windows))
	for wi, w := range windows {
		for cell := 0; cell < cells; cell++ {
			buf = buf[:0]
			for t := w.Start; t < w.Stop; t++ {
				buf = append(buf, v.Data.Elements[t*cells+cell])
			}
			data.Elements[wi*cells+cell] = red.Apply(buf)
		}
	}

	agg := v.Schema()
	agg.Data = data
	if agg.DType != Float64 {
		agg.DType = Float32
	}
	return agg, nil
}

func windowLabels(windows []Window) []time.Time {
	labels := make([]time.Time, len(windows))
	for i, w := range windows {
		labels[i] = w.Label
	}
	return labels
}

func maxWindowLen(windows []Window) int {
	n := 0
	for _, w := range windows {
		n = max(n, w.Stop-w.Start)
	}
	return n
}

func sortedCategories(cats Classification) []AccumulationCategory {
	keys := make([]AccumulationCategory, 0, len(cats))
	for c := range cats {
		keys = append(keys, c)
	}
	slices.Sort(keys)
	return keys
}
