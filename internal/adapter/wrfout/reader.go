package wrfout

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"

	"github.com/couchcryptid/conus404-etl/internal/domain"
	"github.com/couchcryptid/conus404-etl/internal/observability"
)

// timeVariable holds each file's timestamps as offsets from the simulation start.
const timeVariable = "XTIME"

var dimRenames = map[string]string{
	"south_north":      "y",
	"west_east":        "x",
	"south_north_stag": "y_stag",
	"west_east_stag":   "x_stag",
	"Time":             domain.TimeDim,
}

var varRenames = map[string]string{
	"XLAT":    "lat",
	"XLAT_U":  "lat_u",
	"XLAT_V":  "lat_v",
	"XLONG":   "lon",
	"XLONG_U": "lon_u",
	"XLONG_V": "lon_v",
}

// removedAttrs are WRF bookkeeping attributes with no meaning downstream.
var removedAttrs = []string{"FieldType", "MemoryOrder", "stagger", "cell_methods"}

// Reader opens WRF netCDF output and applies the renames and curated metadata.
type Reader struct {
	table   MetadataTable
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewReader returns a reader that overlays table onto variable attributes.
// table may be nil.
func NewReader(table MetadataTable, logger *slog.Logger, metrics *observability.Metrics) *Reader {
	return &Reader{table: table, logger: logger, metrics: metrics}
}

type sourceFile struct {
	path  string
	times []time.Time
}

// Source is a lazily opened set of model output files sharing one schema.
// Data is only read by Load.
type Source struct {
	r      *Reader
	files  []sourceFile
	schema *domain.GridDataset
	// native maps renamed variable names back to names in the files.
	native map[string]string
}

// Open reads the headers and time values of paths in order. Files that do not
// exist are skipped and counted; if none exist the error wraps
// domain.ErrNoSourceFiles.
func (r *Reader) Open(ctx context.Context, paths []string) (*Source, error) {
	src := &Source{r: r}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := r.readHeader(p, false)
		if errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("source file missing", "path", p)
			if r.metrics != nil {
				r.metrics.SourceFilesMissing.Inc()
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if src.schema == nil {
			src.schema, src.native = hdr.schema, hdr.native
		} else if err := sameLayout(src.schema, hdr.schema); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		src.files = append(src.files, sourceFile{path: p, times: hdr.schema.Time})
		if r.metrics != nil {
			r.metrics.SourceFilesRead.Inc()
		}
	}
	if len(src.files) == 0 {
		return nil, fmt.Errorf("open %d paths: %w", len(paths), domain.ErrNoSourceFiles)
	}

	var times []time.Time
	for _, f := range src.files {
		times = append(times, f.times...)
	}
	src.schema.Time = times
	if _, err := domain.InferStep(times, domain.Hourly); err != nil {
		return nil, fmt.Errorf("source time axis: %w", err)
	}
	return src, nil
}

// Schema returns variable metadata and the concatenated time axis.
func (s *Source) Schema() *domain.GridDataset {
	return s.schema
}

// Files returns the paths that were found and opened.
func (s *Source) Files() []string {
	out := make([]string, len(s.files))
	for i, f := range s.files {
		out[i] = f.path
	}
	return out
}

// Load materializes the named variables across every file. Constants are read
// from the first file.
func (s *Source) Load(ctx context.Context, names []string) (*domain.GridDataset, error) {
	out := s.schema.Select()
	for _, name := range names {
		v, ok := s.schema.Vars[name]
		if !ok {
			return nil, fmt.Errorf("load %s: %w", name, domain.ErrUnknownVariable)
		}
		shape, err := s.schema.Shape(v)
		if err != nil {
			return nil, err
		}
		loaded := v.Schema()
		loaded.Data = sparse.ZerosDense(shape...)
		out.Vars[name] = loaded
	}

	row := 0
	for i, f := range s.files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.loadFile(f, i == 0, row, out); err != nil {
			return nil, err
		}
		row += len(f.times)
	}
	return out, nil
}

func (s *Source) loadFile(f sourceFile, first bool, row int, out *domain.GridDataset) error {
	fh, err := os.Open(f.path)
	if err != nil {
		return domain.Transient(fmt.Errorf("open %s: %w", f.path, err))
	}
	defer fh.Close()
	nc, err := cdf.Open(fh)
	if err != nil {
		return fmt.Errorf("read netCDF header %s: %w", f.path, err)
	}

	for _, name := range out.VarNames() {
		v := out.Vars[name]
		if !v.IsTimeVarying() && !first {
			continue
		}
		vals, _, err := readVariable(nc, s.native[name])
		if err != nil {
			return fmt.Errorf("%s: %w", f.path, err)
		}
		offset := 0
		if v.IsTimeVarying() {
			offset = row * (len(v.Data.Elements) / len(s.schema.Time))
		}
		if offset+len(vals) > len(v.Data.Elements) {
			return fmt.Errorf("%s: variable %s: %w", f.path, name, domain.ErrShapeMismatch)
		}
		copy(v.Data.Elements[offset:], vals)
	}
	return nil
}

// ReadConstants reads every numeric variable from a constants file. A leading
// time dimension of length one is dropped so the variables are time-invariant.
func (r *Reader) ReadConstants(ctx context.Context, path string) (*domain.GridDataset, error) {
	hdr, err := r.readHeader(path, true)
	if err != nil {
		return nil, err
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("open %s: %w", path, err))
	}
	defer fh.Close()
	nc, err := cdf.Open(fh)
	if err != nil {
		return nil, fmt.Errorf("read netCDF header %s: %w", path, err)
	}

	ds := hdr.schema
	ds.Time = nil
	for _, name := range ds.VarNames() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v := ds.Vars[name]
		vals, _, err := readVariable(nc, hdr.native[name])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		shape, err := ds.Shape(v)
		if err != nil {
			return nil, err
		}
		v.Data = &sparse.DenseArray{Elements: vals, Shape: shape}
		if len(vals) != product(shape) {
			return nil, fmt.Errorf("%s: variable %s: %w", path, name, domain.ErrShapeMismatch)
		}
	}
	return ds, nil
}

type header struct {
	schema *domain.GridDataset
	native map[string]string
}

// readHeader describes every numeric variable in path under the renamed
// conventions, including its time values. With squeeze, a leading Time
// dimension of length one is removed.
func (r *Reader) readHeader(path string, squeeze bool) (header, error) {
	fh, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return header{}, err
		}
		return header{}, domain.Transient(fmt.Errorf("open %s: %w", path, err))
	}
	defer fh.Close()
	nc, err := cdf.Open(fh)
	if err != nil {
		return header{}, fmt.Errorf("read netCDF header %s: %w", path, err)
	}

	ds := domain.NewGridDataset()
	hdr := header{schema: ds, native: map[string]string{}}
	h := nc.Header
	for _, a := range h.Attributes("") {
		ds.Attrs[a] = attrValue(h.GetAttribute("", a))
	}

	nTimes := 0
	if slices.Contains(h.Variables(), timeVariable) {
		vals, _, err := readVariable(nc, timeVariable)
		if err != nil {
			return header{}, fmt.Errorf("%s: %w", path, err)
		}
		units, _ := h.GetAttribute(timeVariable, "units").(string)
		if ds.Time, err = domain.DecodeTimes(vals, units); err != nil {
			return header{}, fmt.Errorf("%s: %w", path, err)
		}
		nTimes = len(vals)
	} else if !squeeze {
		return header{}, fmt.Errorf("%s: no %s variable: %w", path, timeVariable, domain.ErrNoTimeOrigin)
	}

	for _, orig := range h.Variables() {
		if orig == timeVariable {
			continue
		}
		dtype, ok := variableType(nc, orig)
		if !ok {
			continue
		}
		dims := h.Dimensions(orig)
		lengths := h.Lengths(orig)
		if len(dims) > 0 && dims[0] == "Time" {
			if squeeze {
				dims, lengths = dims[1:], lengths[1:]
			} else {
				lengths[0] = nTimes
			}
		}
		name := orig
		if n, ok := varRenames[orig]; ok {
			name = n
		}
		v := &domain.Variable{Name: name, DType: dtype, Attrs: domain.Attrs{}}
		for i, d := range dims {
			if n, ok := dimRenames[d]; ok {
				d = n
			}
			v.Dims = append(v.Dims, d)
			if d != domain.TimeDim {
				ds.SetDim(d, lengths[i])
			}
		}
		for _, a := range h.Attributes(orig) {
			if slices.Contains(removedAttrs, a) {
				continue
			}
			v.Attrs[a] = attrValue(h.GetAttribute(orig, a))
		}
		if c, ok := v.Attrs.String("coordinates"); ok {
			v.Attrs["coordinates"] = renameCoordinates(c)
		}
		for k, val := range r.table[orig] {
			v.Attrs[k] = val
		}
		ds.Vars[name] = v
		hdr.native[name] = orig
	}
	return hdr, nil
}

func variableType(nc *cdf.File, v string) (domain.DType, bool) {
	switch nc.Reader(v, nil, nil).Zero(1).(type) {
	case []float32:
		return domain.Float32, true
	case []float64:
		return domain.Float64, true
	case []int32, []int16, []int8:
		return domain.Int32, true
	default:
		return "", false
	}
}

func readVariable(nc *cdf.File, v string) ([]float64, domain.DType, error) {
	r := nc.Reader(v, nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil {
		return nil, "", fmt.Errorf("read %s: %w", v, err)
	}
	switch b := buf.(type) {
	case []float32:
		return widen(b), domain.Float32, nil
	case []float64:
		return b, domain.Float64, nil
	case []int32:
		return widen(b), domain.Int32, nil
	case []int16:
		return widen(b), domain.Int32, nil
	case []int8:
		return widen(b), domain.Int32, nil
	default:
		return nil, "", fmt.Errorf("read %s: unsupported element type %T", v, buf)
	}
}

type number interface {
	~int8 | ~int16 | ~int32 | ~float32 | ~float64
}

func widen[T number](in []T) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

// attrValue unwraps single-element numeric attributes to scalars.
func attrValue(v any) any {
	switch x := v.(type) {
	case []float32:
		return scalarOrSlice(x)
	case []float64:
		return scalarOrSlice(x)
	case []int32:
		return scalarOrSlice(x)
	case []int16:
		return scalarOrSlice(x)
	case []int8:
		return scalarOrSlice(x)
	default:
		return v
	}
}

func scalarOrSlice[T number](x []T) any {
	if len(x) == 1 {
		return float64(x[0])
	}
	return widen(x)
}

func sameLayout(a, b *domain.GridDataset) error {
	for _, d := range a.Dims {
		if n, ok := b.DimLen(d.Name); ok && n != d.Len {
			return fmt.Errorf("dimension %s is %d, first file has %d: %w", d.Name, n, d.Len, domain.ErrShapeMismatch)
		}
	}
	for name := range a.Vars {
		if _, ok := b.Vars[name]; !ok {
			return fmt.Errorf("variable %s missing: %w", name, domain.ErrUnknownVariable)
		}
	}
	return nil
}

func product(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}
