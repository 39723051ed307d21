package zarr

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"

	"github.com/couchcryptid/conus404-etl/internal/domain"
)

const (
	groupFile        = ".zgroup"
	attrsFile        = ".zattrs"
	arrayFile        = ".zarray"
	consolidatedFile = ".zmetadata"

	// dimsAttr is the xarray convention for naming an array's dimensions.
	dimsAttr = "_ARRAY_DIMENSIONS"

	zarrFormat = 2
	timeVar    = domain.TimeDim
)

// arrayMeta is the Zarr v2 .zarray document.
type arrayMeta struct {
	Chunks     []int             `json:"chunks"`
	Compressor *compressorConfig `json:"compressor"`
	DType      string            `json:"dtype"`
	FillValue  any               `json:"fill_value"`
	Filters    []any             `json:"filters"`
	Order      string            `json:"order"`
	Shape      []int             `json:"shape"`
	ZarrFormat int               `json:"zarr_format"`
}

type compressorConfig struct {
	ID    string `json:"id"`
	Level int    `json:"level,omitempty"`
}

type groupMeta struct {
	ZarrFormat int `json:"zarr_format"`
}

type consolidatedMeta struct {
	Metadata map[string]json.RawMessage `json:"metadata"`
	Format   int                        `json:"zarr_consolidated_format"`
}

// array is a decoded .zarray plus its dims and user attributes.
type array struct {
	name  string
	meta  arrayMeta
	dims  []string
	attrs domain.Attrs
}

func (a array) dtype() (domain.DType, error) {
	return decodeDType(a.meta.DType)
}

func (a array) timeVarying() bool {
	return len(a.dims) > 0 && a.dims[0] == domain.TimeDim
}

func encodeDType(d domain.DType) (string, error) {
	switch d {
	case domain.Float32:
		return "<f4", nil
	case domain.Float64:
		return "<f8", nil
	case domain.Int32:
		return "<i4", nil
	case domain.Int64:
		return "<i8", nil
	default:
		return "", fmt.Errorf("unsupported dtype %q", d)
	}
}

func decodeDType(s string) (domain.DType, error) {
	switch s {
	case "<f4":
		return domain.Float32, nil
	case "<f8":
		return domain.Float64, nil
	case "<i4":
		return domain.Int32, nil
	case "<i8":
		return domain.Int64, nil
	default:
		return "", fmt.Errorf("unsupported or unknown dtype: %s", s)
	}
}

func itemSize(d domain.DType) int {
	switch d {
	case domain.Float64, domain.Int64:
		return 8
	default:
		return 4
	}
}

// encodeAttrs renders attrs with the dimension list xarray expects. NaN and
// infinities are not valid JSON and are written as strings.
func encodeAttrs(attrs domain.Attrs, dims []string) ([]byte, error) {
	out := make(map[string]any, len(attrs)+1)
	for k, v := range attrs {
		out[k] = jsonSafe(v)
	}
	if dims != nil {
		out[dimsAttr] = dims
	}
	return json.MarshalIndent(out, "", "    ")
}

func decodeAttrs(raw json.RawMessage) (domain.Attrs, []string, error) {
	attrs := domain.Attrs{}
	if len(raw) == 0 {
		return attrs, nil, nil
	}
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, nil, fmt.Errorf("decode attributes: %w", err)
	}
	var dims []string
	if d, ok := attrs[dimsAttr].([]any); ok && len(d) > 0 {
		dims = make([]string, 0, len(d))
		for _, n := range d {
			s, _ := n.(string)
			dims = append(dims, s)
		}
	}
	delete(attrs, dimsAttr)
	return attrs, dims, nil
}

func jsonSafe(v any) any {
	switch x := v.(type) {
	case float64:
		return safeFloat(x)
	case float32:
		return safeFloat(float64(x))
	case []float32:
		out := make([]any, len(x))
		for i, f := range x {
			out[i] = safeFloat(float64(f))
		}
		return out
	case []float64:
		out := make([]any, len(x))
		for i, f := range x {
			out[i] = safeFloat(f)
		}
		return out
	default:
		return v
	}
}

func safeFloat(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	default:
		return f
	}
}

func newArrayMeta(dtype string, shape, chunks []int, level int) arrayMeta {
	return arrayMeta{
		Chunks:     slices.Clone(chunks),
		Compressor: &compressorConfig{ID: "zstd", Level: level},
		DType:      dtype,
		FillValue:  0,
		Order:      "C",
		Shape:      slices.Clone(shape),
		ZarrFormat: zarrFormat,
	}
}
