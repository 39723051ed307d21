package domain

import (
	"fmt"
	"math"
	"slices"

	"github.com/ctessum/sparse"
)

// Source variables the humidity derivations read.
const (
	VarT2   = "T2"
	VarQ2   = "Q2"
	VarPSFC = "PSFC"
)

// HumiditySources are the variables [DeriveHumidity] requires.
var HumiditySources = []string{VarT2, VarQ2, VarPSFC}

const (
	epsilon = 0.622 // Rd / Rv
	kelvin  = 273.15
)

// VaporPressure returns water vapor pressure [Pa] from mixing ratio qv
// [kg kg-1] and pressure [Pa]. Negative mixing ratios are treated as zero and
// the result is floored at 0.001 Pa.
func VaporPressure(qv, pressure float64) float64 {
	q := math.Max(qv, 0)
	return math.Max(q*pressure/(epsilon+q), 0.001)
}

// SaturationVaporPressure returns saturation vapor pressure [Pa] at
// temperature [K] using the Tetens equation.
func SaturationVaporPressure(temperature float64) float64 {
	tc := temperature - kelvin
	return 611.3 * math.Exp(17.269*tc/(tc+237.3))
}

// RelativeHumidity returns relative humidity [0-100] from the Tetens
// saturation vapor pressure.
func RelativeHumidity(qv, pressure, temperature float64) float64 {
	return 100 * VaporPressure(qv, pressure) / SaturationVaporPressure(temperature)
}

// SpecificHumidity converts mixing ratio to specific humidity [kg kg-1].
func SpecificHumidity(qv float64) float64 {
	return qv / (1 + qv)
}

// DewpointTemperature returns dewpoint [K] using the Magnus formula.
func DewpointTemperature(qv, pressure float64) float64 {
	const (
		c1 = 610.94
		a1 = 17.625
		b1 = 243.04
	)
	l := math.Log(VaporPressure(qv, pressure) / c1)
	return b1*l/(a1-l) + kelvin
}

type derivation struct {
	name  string
	attrs Attrs
	fn    func(t, q, p float64) float64
}

var derivations = []derivation{
	{
		name:  "RH2",
		attrs: Attrs{"long_name": "Relative humidity at 2 meters", "notes": "Tetens equation"},
		fn:    func(t, q, p float64) float64 { return RelativeHumidity(q, p, t) },
	},
	{
		name:  "SH2",
		attrs: Attrs{"long_name": "Specific humidity at 2 meters", "units": "kg kg-1"},
		fn:    func(_, q, _ float64) float64 { return SpecificHumidity(q) },
	},
	{
		name:  "E2",
		attrs: Attrs{"long_name": "Vapor pressure at 2 meters", "units": "Pa"},
		fn:    func(_, q, p float64) float64 { return VaporPressure(q, p) },
	},
	{
		name:  "ES2",
		attrs: Attrs{"long_name": "Saturation vapor pressure at 2 meters", "notes": "Tetens equation", "units": "Pa"},
		fn:    func(t, _, _ float64) float64 { return SaturationVaporPressure(t) },
	},
	{
		name:  "TD2",
		attrs: Attrs{"long_name": "Temperature dewpoint at 2 meters", "units": "K"},
		fn:    func(_, q, p float64) float64 { return DewpointTemperature(q, p) },
	},
}

// DerivedHumidityNames lists the variables [DeriveHumidity] produces.
func DerivedHumidityNames() []string {
	names := make([]string, len(derivations))
	for i, d := range derivations {
		names[i] = d.name
	}
	return names
}

// DeriveHumidity computes 2 m humidity fields from T2, Q2 and PSFC. The result
// holds only the derived variables, on the same time axis and dims as T2. If
// ds carries no data the result is schema-only.
func DeriveHumidity(ds *GridDataset) (*GridDataset, error) {
	src := make([]*Variable, len(HumiditySources))
	for i, n := range HumiditySources {
		v, ok := ds.Vars[n]
		if !ok {
			return nil, fmt.Errorf("derive humidity: %w: %s", ErrUnknownVariable, n)
		}
		src[i] = v
	}
	t, q, p := src[0], src[1], src[2]
	loaded := t.Data != nil && q.Data != nil && p.Data != nil
	if loaded && (!slices.Equal(t.Data.Shape, q.Data.Shape) || !slices.Equal(t.Data.Shape, p.Data.Shape)) {
		return nil, fmt.Errorf("derive humidity: %w", ErrShapeMismatch)
	}

	out := ds.Select()
	for _, d := range derivations {
		v := &Variable{
			Name:  d.name,
			Dims:  slices.Clone(t.Dims),
			DType: Float32,
			Attrs: Attrs{"coordinates": "lon lat", "grid_mapping": "crs", IntegrationAttr: IntegrationInstantaneous},
		}
		for k, a := range d.attrs {
			v.Attrs[k] = a
		}
		if loaded {
			v.Data = sparse.ZerosDense(t.Data.Shape...)
			for i := range v.Data.Elements {
				v.Data.Elements[i] = d.fn(t.Data.Elements[i], q.Data.Elements[i], p.Data.Elements[i])
			}
		}
		out.Vars[d.name] = v
	}
	return out, nil
}
