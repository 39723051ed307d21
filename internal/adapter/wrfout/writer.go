package wrfout

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/ctessum/cdf"

	"github.com/couchcryptid/conus404-etl/internal/domain"
)

// Field is one variable of a Frame, under its native WRF name and dimensions.
type Field struct {
	Name  string
	Dims  []string
	Attrs domain.Attrs
	Data  []float32
}

// Frame is the content of a single model output file. It is used to produce
// synthetic inputs in the same layout the model writes.
type Frame struct {
	// Times are written to XTIME as minutes since SimStart.
	Times    []time.Time
	SimStart time.Time
	// DimLens gives the length of every non-time dimension used by Fields.
	DimLens map[string]int
	Fields  []Field
	Attrs   domain.Attrs
}

// WriteFile writes fr to path as a classic netCDF file. Time is a fixed
// dimension sized to the frame.
func WriteFile(path string, fr Frame) error {
	names := []string{"Time"}
	lens := []int{len(fr.Times)}
	dimNames := make([]string, 0, len(fr.DimLens))
	for d := range fr.DimLens {
		dimNames = append(dimNames, d)
	}
	sort.Strings(dimNames)
	for _, d := range dimNames {
		names = append(names, d)
		lens = append(lens, fr.DimLens[d])
	}

	h := cdf.NewHeader(names, lens)
	for _, k := range sortedAttrKeys(fr.Attrs) {
		h.AddAttribute("", k, netCDFAttr(fr.Attrs[k]))
	}
	if len(fr.Times) > 0 {
		h.AddVariable(timeVariable, []string{"Time"}, []float32{0})
		h.AddAttribute(timeVariable, "units", "minutes since "+fr.SimStart.Format(time.DateTime))
		h.AddAttribute(timeVariable, "description", "minutes since simulation start")
	}
	for _, f := range fr.Fields {
		h.AddVariable(f.Name, f.Dims, []float32{0})
		for _, k := range sortedAttrKeys(f.Attrs) {
			h.AddAttribute(f.Name, k, netCDFAttr(f.Attrs[k]))
		}
	}
	h.Define()
	for _, err := range h.Check() {
		return fmt.Errorf("define %s: %w", path, err)
	}

	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer fh.Close()
	nc, err := cdf.Create(fh, h)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	if len(fr.Times) > 0 {
		xtime := make([]float32, len(fr.Times))
		for i, t := range fr.Times {
			xtime[i] = float32(t.Sub(fr.SimStart).Minutes())
		}
		if _, err := nc.Writer(timeVariable, []int{0}, []int{len(xtime)}).Write(xtime); err != nil {
			return fmt.Errorf("write %s %s: %w", path, timeVariable, err)
		}
	}
	for _, f := range fr.Fields {
		if _, err := nc.Writer(f.Name, make([]int, len(f.Dims)), h.Lengths(f.Name)).Write(f.Data); err != nil {
			return fmt.Errorf("write %s %s: %w", path, f.Name, err)
		}
	}
	return nil
}

func netCDFAttr(v any) any {
	switch x := v.(type) {
	case float64:
		return []float64{x}
	case float32:
		return []float32{x}
	case int:
		return []int32{int32(x)}
	case int64:
		return []int32{int32(x)}
	case string, []float64, []float32, []int32:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func sortedAttrKeys(a domain.Attrs) []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
