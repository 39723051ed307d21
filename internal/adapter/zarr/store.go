// Package zarr persists gridded datasets as Zarr v2 directory stores with
// zstd-compressed chunks and consolidated metadata, readable by xarray.
package zarr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/ctessum/sparse"
	"github.com/klauspost/compress/zstd"

	"github.com/couchcryptid/conus404-etl/internal/domain"
	"github.com/couchcryptid/conus404-etl/internal/observability"
)

// DefaultCompressionLevel matches the zstd level used for published stores.
const DefaultCompressionLevel = 9

// Store is a Zarr v2 directory store. It is safe for concurrent region writes
// to disjoint time ranges; writers touching the same chunk are serialized.
type Store struct {
	root    string
	level   int
	logger  *slog.Logger
	metrics *observability.Metrics

	enc *zstd.Encoder
	dec *zstd.Decoder

	tempDir string

	metaMu sync.Mutex
	locks  sync.Map // chunk path -> *sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithCompressionLevel sets the zstd level for new chunks.
func WithCompressionLevel(level int) Option {
	return func(s *Store) { s.level = level }
}

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics records chunk writes.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithTempDir stages atomic writes in dir instead of beside their target. dir
// must be on the same filesystem as the store.
func WithTempDir(dir string) Option {
	return func(s *Store) { s.tempDir = dir }
}

// Open returns a store rooted at root. The directory need not exist yet.
func Open(root string, opts ...Option) (*Store, error) {
	s := &Store{root: root, level: DefaultCompressionLevel, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(s.level)))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	s.enc, s.dec = enc, dec
	return s, nil
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

// Close releases the compressor.
func (s *Store) Close() error {
	s.dec.Close()
	return s.enc.Close()
}

// Initialized reports whether a template has been written.
func (s *Store) Initialized() bool {
	_, err := os.Stat(filepath.Join(s.root, groupFile))
	return err == nil
}

// WriteTemplate lays out every variable in tmpl with its final shape and
// chunking, writes the full time coordinate and any variable that carries
// data, and consolidates metadata. Time-varying variables without data read
// back as zeros until region writes fill them. An existing store is only
// replaced when overwrite is set, which discards everything in it.
func (s *Store) WriteTemplate(ctx context.Context, tmpl *domain.GridDataset, chunks map[string][]int, overwrite bool) error {
	if s.Initialized() {
		if !overwrite {
			return fmt.Errorf("template %s: %w", s.root, domain.ErrStoreExists)
		}
		s.logger.Warn("overwriting existing store", "store", s.root)
		if err := os.RemoveAll(s.root); err != nil {
			return domain.Transient(fmt.Errorf("remove %s: %w", s.root, err))
		}
	}
	if len(tmpl.Time) == 0 {
		return fmt.Errorf("template %s: %w", s.root, domain.ErrNoTimeOrigin)
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return domain.Transient(fmt.Errorf("create %s: %w", s.root, err))
	}
	if err := s.writeJSON(groupFile, groupMeta{ZarrFormat: zarrFormat}); err != nil {
		return err
	}
	raw, err := encodeAttrs(tmpl.Attrs, nil)
	if err != nil {
		return err
	}
	if err := s.writeFile(attrsFile, raw); err != nil {
		return err
	}

	if err := s.writeTime(tmpl.Time, timeChunk(tmpl, chunks)); err != nil {
		return err
	}
	if err := s.writeVariables(ctx, tmpl, chunks); err != nil {
		return err
	}
	return s.Consolidate()
}

// WriteConstants writes variables without a time dimension in full.
func (s *Store) WriteConstants(ctx context.Context, ds *domain.GridDataset, chunks map[string][]int) error {
	if !s.Initialized() {
		return fmt.Errorf("write constants %s: %w", s.root, domain.ErrStoreNotInitialized)
	}
	for _, name := range ds.VarNames() {
		if ds.Vars[name].IsTimeVarying() {
			return fmt.Errorf("write constants: %s has a time dimension", name)
		}
	}
	if err := s.writeVariables(ctx, ds, chunks); err != nil {
		return err
	}
	return s.Consolidate()
}

// AddVariables appends new variables to an initialized store. Time-varying
// variables take the store's existing time length.
func (s *Store) AddVariables(ctx context.Context, ds *domain.GridDataset, chunks map[string][]int) error {
	schema, err := s.Schema(ctx)
	if err != nil {
		return err
	}
	merged := ds.Select(ds.VarNames()...)
	merged.Time = schema.Time
	for _, d := range schema.Dims {
		if n, ok := merged.DimLen(d.Name); ok && n != d.Len {
			return fmt.Errorf("add variables: dimension %s is %d, store has %d: %w", d.Name, n, d.Len, domain.ErrShapeMismatch)
		}
	}
	for name, v := range merged.Vars {
		if v.IsTimeVarying() && v.Data != nil {
			return fmt.Errorf("add variables: %s carries data; use a region write", name)
		}
	}
	if err := s.writeVariables(ctx, merged, chunks); err != nil {
		return err
	}
	return s.Consolidate()
}

func (s *Store) writeVariables(ctx context.Context, ds *domain.GridDataset, chunks map[string][]int) error {
	for _, name := range ds.VarNames() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if name == timeVar {
			continue
		}
		v := ds.Vars[name]
		shape, err := ds.Shape(v)
		if err != nil {
			return err
		}
		c := chunks[name]
		if len(c) != len(shape) {
			c = slices.Clone(shape)
		}
		for i := range c {
			c[i] = max(c[i], 1)
		}
		dtype, err := encodeDType(v.DType)
		if err != nil {
			return fmt.Errorf("variable %s: %w", name, err)
		}
		a := array{name: name, meta: newArrayMeta(dtype, shape, c, s.level), dims: v.Dims, attrs: v.Attrs}
		if err := s.writeArrayMeta(a); err != nil {
			return err
		}
		if v.Data == nil {
			continue
		}
		if !slices.Equal(v.Data.Shape, shape) {
			return fmt.Errorf("variable %s: %w", name, domain.ErrShapeMismatch)
		}
		if err := s.writeRows(a, v.Data.Elements, 0, rows(shape)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) writeTime(times []time.Time, chunk int) error {
	n := len(times)
	a := array{
		name:  timeVar,
		meta:  newArrayMeta("<i8", []int{n}, []int{max(min(chunk, n), 1)}, s.level),
		dims:  []string{domain.TimeDim},
		attrs: timeAttrs(),
	}
	if err := s.writeArrayMeta(a); err != nil {
		return err
	}
	return s.writeRows(a, encodeTimes(times), 0, n)
}

func timeChunk(ds *domain.GridDataset, chunks map[string][]int) int {
	for _, name := range ds.VarNames() {
		if ds.Vars[name].IsTimeVarying() && len(chunks[name]) > 0 {
			return chunks[name][0]
		}
	}
	return len(ds.Time)
}

func rows(shape []int) int {
	if len(shape) == 0 {
		return 1
	}
	return shape[0]
}

// Schema returns the store's dims, time axis and variable metadata without
// reading any variable data.
func (s *Store) Schema(_ context.Context) (*domain.GridDataset, error) {
	arrays, global, err := s.loadMetadata()
	if err != nil {
		return nil, err
	}
	ds := domain.NewGridDataset()
	ds.Attrs = global
	for _, name := range sortedKeys(arrays) {
		a := arrays[name]
		if len(a.dims) != len(a.meta.Shape) {
			return nil, fmt.Errorf("array %s: %d dims for shape %v", name, len(a.dims), a.meta.Shape)
		}
		for i, d := range a.dims {
			if d != domain.TimeDim {
				ds.SetDim(d, a.meta.Shape[i])
			}
		}
		if name == timeVar {
			continue
		}
		dtype, err := a.dtype()
		if err != nil {
			return nil, fmt.Errorf("array %s: %w", name, err)
		}
		ds.Vars[name] = &domain.Variable{
			Name:     name,
			Dims:     a.dims,
			DType:    dtype,
			Attrs:    a.attrs,
			Encoding: domain.Encoding{Chunks: a.meta.Chunks},
		}
	}

	ta, ok := arrays[timeVar]
	if !ok {
		return nil, fmt.Errorf("store %s: %w", s.root, domain.ErrNoTimeOrigin)
	}
	vals, err := s.readRows(ta, 0, ta.meta.Shape[0])
	if err != nil {
		return nil, err
	}
	units, _ := ta.attrs.String("units")
	if ds.Time, err = decodeTimes(vals, units); err != nil {
		return nil, err
	}
	return ds, nil
}

// ReadRegion loads the named variables. Time-varying variables are read for
// time indices [start, stop); constants are read in full.
func (s *Store) ReadRegion(ctx context.Context, names []string, start, stop int) (*domain.GridDataset, error) {
	schema, err := s.Schema(ctx)
	if err != nil {
		return nil, err
	}
	if start < 0 || stop > len(schema.Time) || start > stop {
		return nil, fmt.Errorf("read region [%d, %d) of %d steps: out of range", start, stop, len(schema.Time))
	}
	arrays, _, err := s.loadMetadata()
	if err != nil {
		return nil, err
	}

	out := schema.Select()
	out.Time = schema.Time[start:stop]
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, ok := schema.Vars[name]
		if !ok {
			return nil, fmt.Errorf("read %s: %w", name, domain.ErrUnknownVariable)
		}
		a := arrays[name]
		lo, hi := 0, rows(a.meta.Shape)
		if a.timeVarying() {
			lo, hi = start, stop
		}
		vals, err := s.readRows(a, lo, hi)
		if err != nil {
			return nil, err
		}
		shape := slices.Clone(a.meta.Shape)
		if len(shape) > 0 {
			shape[0] = hi - lo
		}
		loaded := v.Schema()
		loaded.Data = &sparse.DenseArray{Elements: vals, Shape: shape}
		out.Vars[name] = loaded
	}
	return out, nil
}

// WriteRegion writes every variable in ds into time indices [start, stop).
// The stored time values at start and stop-1 must equal the first and last
// times of ds. Constant variables are rejected.
func (s *Store) WriteRegion(ctx context.Context, ds *domain.GridDataset, start, stop int) error {
	if !s.Initialized() {
		return fmt.Errorf("write region %s: %w", s.root, domain.ErrStoreNotInitialized)
	}
	schema, err := s.Schema(ctx)
	if err != nil {
		return err
	}
	if start < 0 || stop > len(schema.Time) || stop-start != len(ds.Time) || start >= stop {
		return fmt.Errorf("write region [%d, %d) with %d steps into %d: out of range",
			start, stop, len(ds.Time), len(schema.Time))
	}
	if !schema.Time[start].Equal(ds.Time[0]) || !schema.Time[stop-1].Equal(ds.Time[len(ds.Time)-1]) {
		return fmt.Errorf("write region [%d, %d): %w", start, stop, domain.ErrTimeMismatch)
	}
	arrays, _, err := s.loadMetadata()
	if err != nil {
		return err
	}

	for _, name := range ds.VarNames() {
		if err := ctx.Err(); err != nil {
			return err
		}
		v := ds.Vars[name]
		a, ok := arrays[name]
		if !ok || name == timeVar {
			return fmt.Errorf("write region %s: %w", name, domain.ErrUnknownVariable)
		}
		if !a.timeVarying() || !v.IsTimeVarying() {
			return fmt.Errorf("write region %s: %w", name, domain.ErrConstantRegion)
		}
		if v.Data == nil {
			return fmt.Errorf("write region %s: variable not loaded", name)
		}
		want := slices.Clone(a.meta.Shape)
		want[0] = stop - start
		if !slices.Equal(v.Data.Shape, want) {
			return fmt.Errorf("write region %s: %w: got %v, want %v", name, domain.ErrShapeMismatch, v.Data.Shape, want)
		}
		if err := s.writeRows(a, v.Data.Elements, start, stop); err != nil {
			return err
		}
	}
	return nil
}

// ExtendTime grows the time axis to times, which must begin with the
// existing axis. Only array metadata and the time coordinate are rewritten;
// existing chunks are untouched and new steps read as zeros.
func (s *Store) ExtendTime(ctx context.Context, times []time.Time) error {
	schema, err := s.Schema(ctx)
	if err != nil {
		return err
	}
	n := len(schema.Time)
	if len(times) < n || !slices.EqualFunc(schema.Time, times[:n], time.Time.Equal) {
		return fmt.Errorf("extend time: new axis does not begin with the existing one: %w", domain.ErrTimeMismatch)
	}
	if len(times) == n {
		return nil
	}
	arrays, _, err := s.loadMetadata()
	if err != nil {
		return err
	}
	for _, name := range sortedKeys(arrays) {
		a := arrays[name]
		if !a.timeVarying() || name == timeVar {
			continue
		}
		a.meta.Shape[0] = len(times)
		if err := s.writeArrayMeta(a); err != nil {
			return err
		}
	}
	if err := s.writeTime(times, arrays[timeVar].meta.Chunks[0]); err != nil {
		return err
	}
	s.logger.Info("extended time axis", "store", s.root, "from", n, "to", len(times))
	return s.Consolidate()
}

// Consolidate rewrites .zmetadata from the per-array metadata files.
func (s *Store) Consolidate() error {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()

	meta := consolidatedMeta{Metadata: map[string]json.RawMessage{}, Format: 1}
	for _, key := range []string{groupFile, attrsFile} {
		if raw, err := os.ReadFile(filepath.Join(s.root, key)); err == nil {
			meta.Metadata[key] = raw
		}
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return domain.Transient(fmt.Errorf("consolidate %s: %w", s.root, err))
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		for _, f := range []string{arrayFile, attrsFile} {
			raw, err := os.ReadFile(filepath.Join(s.root, e.Name(), f))
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return domain.Transient(err)
			}
			meta.Metadata[e.Name()+"/"+f] = raw
		}
	}
	raw, err := json.MarshalIndent(meta, "", "    ")
	if err != nil {
		return err
	}
	return s.writeFile(consolidatedFile, raw)
}

// loadMetadata reads array metadata from .zmetadata, falling back to the
// per-array files when the store was never consolidated.
func (s *Store) loadMetadata() (map[string]array, domain.Attrs, error) {
	if !s.Initialized() {
		return nil, nil, fmt.Errorf("%s: %w", s.root, domain.ErrStoreNotInitialized)
	}
	docs := map[string]json.RawMessage{}
	raw, err := os.ReadFile(filepath.Join(s.root, consolidatedFile))
	switch {
	case err == nil:
		var meta consolidatedMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, nil, fmt.Errorf("decode %s: %w", consolidatedFile, err)
		}
		docs = meta.Metadata
	case errors.Is(err, fs.ErrNotExist):
		if docs, err = s.scanMetadata(); err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, domain.Transient(err)
	}

	global, _, err := decodeAttrs(docs[attrsFile])
	if err != nil {
		return nil, nil, err
	}
	arrays := map[string]array{}
	for key, doc := range docs {
		name, file := filepath.Split(key)
		if file != arrayFile {
			continue
		}
		name = filepath.Clean(name)
		var m arrayMeta
		if err := json.Unmarshal(doc, &m); err != nil {
			return nil, nil, fmt.Errorf("decode %s: %w", key, err)
		}
		attrs, dims, err := decodeAttrs(docs[name+"/"+attrsFile])
		if err != nil {
			return nil, nil, fmt.Errorf("array %s: %w", name, err)
		}
		arrays[name] = array{name: name, meta: m, dims: dims, attrs: attrs}
	}
	return arrays, global, nil
}

func (s *Store) scanMetadata() (map[string]json.RawMessage, error) {
	docs := map[string]json.RawMessage{}
	if raw, err := os.ReadFile(filepath.Join(s.root, attrsFile)); err == nil {
		docs[attrsFile] = raw
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, domain.Transient(err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		for _, f := range []string{arrayFile, attrsFile} {
			if raw, err := os.ReadFile(filepath.Join(s.root, e.Name(), f)); err == nil {
				docs[e.Name()+"/"+f] = raw
			}
		}
	}
	return docs, nil
}

func (s *Store) writeArrayMeta(a array) error {
	if err := os.MkdirAll(filepath.Join(s.root, a.name), 0o755); err != nil {
		return domain.Transient(err)
	}
	if err := s.writeJSON(filepath.Join(a.name, arrayFile), a.meta); err != nil {
		return err
	}
	dims := a.dims
	if dims == nil {
		dims = []string{}
	}
	raw, err := encodeAttrs(a.attrs, dims)
	if err != nil {
		return fmt.Errorf("array %s: %w", a.name, err)
	}
	return s.writeFile(filepath.Join(a.name, attrsFile), raw)
}

// writeRows stores vals, a C-ordered buffer covering rows [lo, hi) of dim 0,
// into every chunk it touches.
func (s *Store) writeRows(a array, vals []float64, lo, hi int) error {
	dtype, err := a.dtype()
	if err != nil {
		return err
	}
	l := layout{shape: a.meta.Shape, chunks: a.meta.Chunks}
	return l.eachChunk(lo, hi, func(c []int) error {
		path := filepath.Join(s.root, a.name, chunkKey(c))
		mu := s.chunkLock(path)
		mu.Lock()
		defer mu.Unlock()

		buf, err := s.readChunk(path, dtype, l.chunkLen())
		if err != nil {
			return err
		}
		l.eachCell(c, lo, hi, func(chunkOff, regionOff int) {
			buf[chunkOff] = vals[regionOff]
		})
		return s.writeChunk(path, encodeElements(dtype, buf))
	})
}

// readRows returns rows [lo, hi) of dim 0 as a C-ordered buffer. Missing
// chunks read as the fill value.
func (s *Store) readRows(a array, lo, hi int) ([]float64, error) {
	dtype, err := a.dtype()
	if err != nil {
		return nil, err
	}
	l := layout{shape: a.meta.Shape, chunks: a.meta.Chunks}
	n := 1
	for i, d := range l.shape {
		if i == 0 {
			d = hi - lo
		}
		n *= d
	}
	out := make([]float64, n)
	err = l.eachChunk(lo, hi, func(c []int) error {
		buf, err := s.readChunk(filepath.Join(s.root, a.name, chunkKey(c)), dtype, l.chunkLen())
		if err != nil {
			return err
		}
		l.eachCell(c, lo, hi, func(chunkOff, regionOff int) {
			out[regionOff] = buf[chunkOff]
		})
		return nil
	})
	return out, err
}

func (s *Store) readChunk(path string, dtype domain.DType, n int) ([]float64, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return make([]float64, n), nil
	}
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("read chunk %s: %w", path, err))
	}
	plain, err := s.dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress chunk %s: %w", path, err)
	}
	return decodeElements(dtype, plain, n)
}

func (s *Store) writeChunk(path string, plain []byte) error {
	compressed := s.enc.EncodeAll(plain, nil)
	if err := s.writeAtomic(path, compressed); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ChunksWritten.Inc()
		s.metrics.ChunkBytes.Add(float64(len(compressed)))
	}
	return nil
}

func (s *Store) chunkLock(path string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *Store) writeJSON(rel string, v any) error {
	raw, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", rel, err)
	}
	return s.writeFile(rel, raw)
}

func (s *Store) writeFile(rel string, data []byte) error {
	return s.writeAtomic(filepath.Join(s.root, rel), data)
}

// writeAtomic replaces path via a temp file so readers never see a partial
// file.
func (s *Store) writeAtomic(path string, data []byte) error {
	dir := s.tempDir
	if dir == "" {
		dir = filepath.Dir(path)
	}
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return domain.Transient(fmt.Errorf("write %s: %w", path, err))
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return domain.Transient(fmt.Errorf("write %s: %w", path, err))
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return domain.Transient(fmt.Errorf("write %s: %w", path, err))
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return domain.Transient(fmt.Errorf("write %s: %w", path, err))
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
