package zarr

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/couchcryptid/conus404-etl/internal/domain"
)

// layout describes an array's shape and its chunk grid.
type layout struct {
	shape  []int
	chunks []int
}

func (l layout) chunkLen() int {
	n := 1
	for _, c := range l.chunks {
		n *= c
	}
	return n
}

// chunkSpan returns the chunk index range along dim 0 touching rows [lo, hi),
// and the full grid along the remaining dims.
func (l layout) chunkSpan(lo, hi int) (first []int, counts []int) {
	first = make([]int, len(l.shape))
	counts = make([]int, len(l.shape))
	for d := range l.shape {
		counts[d] = ceilDiv(l.shape[d], l.chunks[d])
	}
	if len(l.shape) > 0 {
		if hi <= lo {
			counts[0] = 0
		} else {
			first[0] = lo / l.chunks[0]
			counts[0] = (hi-1)/l.chunks[0] - first[0] + 1
		}
	}
	return first, counts
}

// eachChunk calls fn with the grid index of every chunk touching rows [lo, hi).
func (l layout) eachChunk(lo, hi int, fn func(c []int) error) error {
	first, counts := l.chunkSpan(lo, hi)
	var err error
	odometer(counts, func(idx []int) bool {
		c := make([]int, len(idx))
		for d := range idx {
			c[d] = idx[d] + first[d]
		}
		err = fn(c)
		return err == nil
	})
	return err
}

// eachCell visits every in-bounds element of chunk c lying in rows [lo, hi)
// of dim 0. chunkOff is the element's offset in the chunk buffer; regionOff is
// its offset in a C-ordered buffer shaped like the array with dim 0 cut to
// [lo, hi).
func (l layout) eachCell(c []int, lo, hi int, fn func(chunkOff, regionOff int)) {
	nd := len(l.shape)
	if nd == 0 {
		fn(0, 0)
		return
	}
	region := make([]int, nd)
	copy(region, l.shape)
	region[0] = hi - lo
	rStride := strides(region)
	cStride := strides(l.chunks)

	odometer(l.chunks, func(p []int) bool {
		chunkOff, regionOff := 0, 0
		for d := 0; d < nd; d++ {
			g := c[d]*l.chunks[d] + p[d]
			if g >= l.shape[d] {
				return true
			}
			if d == 0 {
				if g < lo || g >= hi {
					return true
				}
				g -= lo
			}
			chunkOff += p[d] * cStride[d]
			regionOff += g * rStride[d]
		}
		fn(chunkOff, regionOff)
		return true
	})
}

func strides(shape []int) []int {
	s := make([]int, len(shape))
	acc := 1
	for d := len(shape) - 1; d >= 0; d-- {
		s[d] = acc
		acc *= shape[d]
	}
	return s
}

// odometer iterates every index below limits in C order until fn returns
// false. A zero-length limits calls fn once.
func odometer(limits []int, fn func(idx []int) bool) {
	for _, n := range limits {
		if n <= 0 {
			return
		}
	}
	idx := make([]int, len(limits))
	for {
		if !fn(idx) {
			return
		}
		d := len(idx) - 1
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < limits[d] {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return
		}
	}
}

func chunkKey(c []int) string {
	if len(c) == 0 {
		return "0"
	}
	parts := make([]string, len(c))
	for i, v := range c {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ".")
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func encodeElements(dtype domain.DType, vals []float64) []byte {
	size := itemSize(dtype)
	buf := make([]byte, len(vals)*size)
	for i, v := range vals {
		b := buf[i*size:]
		switch dtype {
		case domain.Float32:
			binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
		case domain.Float64:
			binary.LittleEndian.PutUint64(b, math.Float64bits(v))
		case domain.Int32:
			binary.LittleEndian.PutUint32(b, uint32(int32(v)))
		case domain.Int64:
			binary.LittleEndian.PutUint64(b, uint64(int64(v)))
		}
	}
	return buf
}

func decodeElements(dtype domain.DType, b []byte, n int) ([]float64, error) {
	size := itemSize(dtype)
	if len(b) != n*size {
		return nil, fmt.Errorf("chunk holds %d bytes, want %d", len(b), n*size)
	}
	out := make([]float64, n)
	for i := range out {
		e := b[i*size:]
		switch dtype {
		case domain.Float32:
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(e)))
		case domain.Float64:
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(e))
		case domain.Int32:
			out[i] = float64(int32(binary.LittleEndian.Uint32(e)))
		case domain.Int64:
			out[i] = float64(int64(binary.LittleEndian.Uint64(e)))
		}
	}
	return out, nil
}
