// Command validate checks the integrity of a CONUS404 chunk store: a regular
// time axis, a consistent variable layout, readable constants, finite data,
// and non-decreasing reconstructed bucket totals.
//
// Usage:
//
//	go run ./cmd/validate -store data/conus404_hourly.zarr -level hourly
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"slices"

	"github.com/couchcryptid/conus404-etl/internal/adapter/zarr"
	"github.com/couchcryptid/conus404-etl/internal/config"
	"github.com/couchcryptid/conus404-etl/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
	notes  []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) notef(format string, args ...any) {
	p.notes = append(p.notes, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	storePath := flag.String("store", "", "path of the store to validate")
	level := flag.String("level", "", "expected level: hourly, daily or monthly (inferred when empty)")
	requireFilled := flag.Bool("require-filled", false, "fail when any time step of a variable is all zero")
	flag.Parse()

	if *storePath == "" {
		flag.Usage()
		os.Exit(1)
	}
	if code := run(context.Background(), *storePath, *level, *requireFilled); code != 0 {
		os.Exit(code)
	}
}

func run(ctx context.Context, storePath, level string, requireFilled bool) int {
	fmt.Println("=== CONUS404 Store Validation ===")
	fmt.Println()

	store, err := zarr.Open(storePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open store: %v\n", err)
		return 1
	}
	defer store.Close()

	schema, err := store.Schema(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read schema: %v\n", err)
		return 1
	}

	timePhase, step := validateTimeAxis(schema, level)
	phases := []*phase{
		timePhase,
		validateLayout(schema, step),
		validateConstants(ctx, store, schema),
		validateData(ctx, store, schema, step, requireFilled),
	}
	if step == domain.Hourly {
		phases = append(phases, validateBuckets(ctx, store, schema))
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Store: %s, %d steps, %d variables (%d time-varying)\n",
		step, len(schema.Time), len(schema.Vars), len(schema.TimeVarying().Vars))

	for _, p := range phases {
		if len(p.notes) == 0 && p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for _, n := range p.notes {
			fmt.Printf("  note: %s\n", n)
		}
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phase 1: time axis ──

func validateTimeAxis(schema *domain.GridDataset, level string) (*phase, domain.Step) {
	p := &phase{name: "Phase 1: Time axis"}

	var want domain.Step
	if level != "" {
		var err error
		if want, err = domain.ParseStep(level); err != nil {
			p.errorf("%v", err)
			return p, domain.Hourly
		}
	}
	if len(schema.Time) == 0 {
		p.errorf("store has no time axis")
		return p, max(want, domain.Hourly)
	}

	step, err := domain.InferStep(schema.Time, max(want, domain.Hourly))
	if err != nil {
		p.errorf("%v", err)
		return p, max(want, domain.Hourly)
	}
	if want != 0 && step != want {
		p.errorf("axis is %s, expected %s", step, want)
	}
	if first := schema.Time[0]; !step.Floor(first).Equal(first) {
		p.errorf("origin %s is not on a %s boundary", first, step)
	}
	p.notef("%s through %s", schema.Time[0].Format("2006-01-02 15:04"), schema.Time[len(schema.Time)-1].Format("2006-01-02 15:04"))
	return p, step
}

// ── Phase 2: variable layout ──

// allowedCategories are the integration lengths each level may hold.
var allowedCategories = map[domain.Step][]domain.AccumulationCategory{
	domain.Hourly: {domain.Instantaneous, domain.Accum60Min, domain.AccumSinceStart, domain.Accum24H},
	domain.Daily:  {domain.Instantaneous, domain.Accum24H},
	domain.Monthly: {
		domain.Instantaneous, domain.Accum24H, domain.AccumMonth,
	},
}

func validateLayout(schema *domain.GridDataset, step domain.Step) *phase {
	p := &phase{name: "Phase 2: Variable layout"}
	cats := domain.Classify(schema.TimeVarying())
	allowed := allowedCategories[step]

	for _, name := range schema.VarNames() {
		v := schema.Vars[name]
		if _, err := schema.Shape(v); err != nil {
			p.errorf("%s: %v", name, err)
			continue
		}
		if !v.IsTimeVarying() {
			continue
		}
		if v.Dims[0] != domain.TimeDim {
			p.errorf("%s: time is not the leading dimension", name)
		}
		cat, ok := cats.Of(name)
		if !ok {
			p.errorf("%s: no accumulation category", name)
			continue
		}
		if !slices.Contains(allowed, cat) {
			p.errorf("%s: %s variables do not belong in a %s store", name, cat, step)
		}
	}
	if step != domain.Hourly {
		for _, pr := range config.DefaultProfile().BucketPairs {
			if _, ok := schema.Vars[pr.Bucket]; ok {
				p.errorf("%s: bucket counters are only kept in the hourly store", pr.Bucket)
			}
		}
	}
	return p
}

// ── Phase 3: constants ──

func validateConstants(ctx context.Context, store *zarr.Store, schema *domain.GridDataset) *phase {
	p := &phase{name: "Phase 3: Constants"}
	names := schema.Constants().VarNames()
	if len(names) == 0 {
		p.notef("store holds no constants")
		return p
	}
	ds, err := store.ReadRegion(ctx, names, 0, 0)
	if err != nil {
		p.errorf("read constants: %v", err)
		return p
	}
	for _, name := range names {
		v := ds.Vars[name]
		if v == nil || v.Data == nil {
			p.errorf("%s: no data", name)
			continue
		}
		if n := countNonFinite(v.Data.Elements); n > 0 {
			p.errorf("%s: %d non-finite values", name, n)
		}
	}
	return p
}

// ── Phase 4: data ──

func validateData(ctx context.Context, store *zarr.Store, schema *domain.GridDataset, step domain.Step, requireFilled bool) *phase {
	p := &phase{name: "Phase 4: Time-varying data"}
	block := config.DefaultProfile().Chunks[step][domain.TimeDim]
	if block <= 0 {
		block = len(schema.Time)
	}

	for _, name := range schema.TimeVarying().VarNames() {
		var nonFinite, empty int
		for start := 0; start < len(schema.Time); start += block {
			stop := min(start+block, len(schema.Time))
			ds, err := store.ReadRegion(ctx, []string{name}, start, stop)
			if err != nil {
				p.errorf("%s [%d:%d]: %v", name, start, stop, err)
				break
			}
			data := ds.Vars[name].Data.Elements
			nonFinite += countNonFinite(data)
			per := len(data) / max(stop-start, 1)
			for i := 0; i < stop-start; i++ {
				if allZero(data[i*per : (i+1)*per]) {
					empty++
				}
			}
		}
		if nonFinite > 0 {
			p.errorf("%s: %d non-finite values", name, nonFinite)
		}
		if empty > 0 {
			if requireFilled {
				p.errorf("%s: %d of %d steps are all zero", name, empty, len(schema.Time))
			} else {
				p.notef("%s: %d of %d steps are all zero", name, empty, len(schema.Time))
			}
		}
	}
	return p
}

// ── Phase 5: bucket totals ──

// validateBuckets checks that reconstructed radiation totals never decrease,
// which fails when a counter was dropped during ingestion.
func validateBuckets(ctx context.Context, store *zarr.Store, schema *domain.GridDataset) *phase {
	p := &phase{name: "Phase 5: Bucket reconstruction"}
	for _, pr := range config.DefaultProfile().BucketPairs {
		if _, ok := schema.Vars[pr.Accumulated]; !ok {
			continue
		}
		ds, err := store.ReadRegion(ctx, []string{pr.Accumulated}, 0, len(schema.Time))
		if err != nil {
			p.errorf("%s: %v", pr.Accumulated, err)
			continue
		}
		data := ds.Vars[pr.Accumulated].Data.Elements
		cells := len(data) / max(len(schema.Time), 1)
		for c := 0; c < cells; c++ {
			for t := 1; t < len(schema.Time); t++ {
				prev, cur := data[(t-1)*cells+c], data[t*cells+c]
				if cur != 0 && cur < prev {
					p.errorf("%s: cell %d decreases at %s", pr.Accumulated, c, schema.Time[t].Format("2006-01-02 15:04"))
					break
				}
			}
		}
	}
	return p
}

func countNonFinite(vals []float64) int {
	n := 0
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			n++
		}
	}
	return n
}

func allZero(vals []float64) bool {
	for _, v := range vals {
		if v != 0 {
			return false
		}
	}
	return true
}
