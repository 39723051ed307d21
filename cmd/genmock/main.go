// Command genmock writes synthetic hourly WRF output in the CONUS404 file
// layout, plus a matching constants file and metadata table. The fixtures
// exercise every accumulation category and one bucket pair, so the full
// template, ingest, daily and monthly chain can run without model data.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -dir data/mock/wrfout \
//	  -start 1979-10-01 -days 12 \
//	  -ny 4 -nx 5
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/conus404-etl/internal/adapter/wrfout"
	"github.com/couchcryptid/conus404-etl/internal/domain"
)

// bucketSize is the WRF radiation bucket, in J m-2.
const bucketSize = 1e9

var simStart = time.Date(1979, time.October, 1, 0, 0, 0, 0, time.UTC)

// field describes one synthetic variable: its metadata row and the value at
// hour h (since simStart) of grid cell c.
type field struct {
	name        string
	units       string
	description string
	integration string
	value       func(h, c int) float64
}

var fields = []field{
	{"T2", "K", "temperature at 2 m", domain.IntegrationInstantaneous,
		func(h, c int) float64 { return 280 + 8*math.Sin(2*math.Pi*float64(h%24)/24) + 0.1*float64(c) }},
	{"Q2", "kg kg-1", "water vapor mixing ratio at 2 m", domain.IntegrationInstantaneous,
		func(h, _ int) float64 { return 0.005 + 0.0005*math.Cos(2*math.Pi*float64(h%24)/24) }},
	{"PSFC", "Pa", "surface pressure", domain.IntegrationInstantaneous,
		func(_, c int) float64 { return 95000 + 50*float64(c) }},
	{"PREC_ACC_NC", "mm", "precipitation accumulated over prior 60 minutes", domain.Integration60Min,
		func(h, c int) float64 { return float64((h+c)%3) * 0.5 }},
	{"ACSNOW", "kg m-2", "accumulated snowfall", domain.IntegrationSinceStart,
		func(h, _ int) float64 { return 0.1 * float64(h) }},
	{"ACSWDNB", "J m-2", "accumulated downwelling shortwave flux at bottom", domain.IntegrationSinceStartBucket,
		func(h, _ int) float64 { return math.Mod(swdnb(h), bucketSize) }},
	{"I_ACSWDNB", "J m-2", "bucket offset for ACSWDNB", domain.IntegrationSinceStartBucket,
		func(h, _ int) float64 { return bucketSize * math.Floor(swdnb(h)/bucketSize) }},
}

// swdnb grows by 4e7 J m-2 per hour so buckets roll over about daily.
func swdnb(h int) float64 { return 4e7 * float64(h) }

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	dir := flag.String("dir", "", "output root; files go under water-year directories")
	start := flag.String("start", simStart.Format(time.DateOnly), "first hour to write (YYYY-MM-DD)")
	days := flag.Int("days", 12, "number of days to write")
	ny := flag.Int("ny", 4, "grid rows")
	nx := flag.Int("nx", 5, "grid columns")
	skip := flag.String("skip", "", "comma-separated hours (YYYY-MM-DD_HH) to leave out, simulating gaps")
	flag.Parse()

	if *dir == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -dir")
	}
	first, err := time.ParseInLocation(time.DateOnly, *start, time.UTC)
	if err != nil {
		return fmt.Errorf("parse -start: %w", err)
	}
	if *days < 1 || *ny < 1 || *nx < 1 {
		return fmt.Errorf("-days, -ny and -nx must be positive")
	}
	gaps := map[string]bool{}
	for _, s := range strings.Split(*skip, ",") {
		if s = strings.TrimSpace(s); s != "" {
			gaps[s] = true
		}
	}

	pattern, err := wrfout.NewFilePattern(*dir, "")
	if err != nil {
		return err
	}
	written := 0
	for h := 0; h < *days*24; h++ {
		t := first.Add(time.Duration(h) * time.Hour)
		if gaps[t.Format("2006-01-02_15")] {
			continue
		}
		path, err := pattern.Path(t, fileWaterYear(t))
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
		}
		if err := wrfout.WriteFile(path, hourFrame(t, *ny, *nx)); err != nil {
			return err
		}
		written++
	}
	log.Printf("wrote %d hourly files under %s", written, *dir)

	constPath := filepath.Join(*dir, "wrfconstants_usgs404.nc")
	if err := wrfout.WriteFile(constPath, constantsFrame(*ny, *nx)); err != nil {
		return err
	}
	log.Printf("wrote %s", constPath)

	metaPath := filepath.Join(*dir, "metadata.tsv")
	if err := writeMetadata(metaPath); err != nil {
		return err
	}
	log.Printf("wrote %s", metaPath)

	varsPath := filepath.Join(*dir, "vars.csv")
	names := []string{"variable"}
	for _, f := range fields {
		names = append(names, f.name)
	}
	if err := os.WriteFile(varsPath, []byte(strings.Join(names, "\n")+"\n"), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", varsPath, err)
	}
	log.Printf("wrote %s", varsPath)
	return nil
}

// fileWaterYear files the 1 October 00:00 output with the water year that
// ends at it, as the model does.
func fileWaterYear(t time.Time) int {
	wy := wrfout.WaterYear(t)
	if t.Month() == time.October && t.Day() == 1 && t.Hour() == 0 && t.After(simStart) {
		wy--
	}
	return wy
}

func hourFrame(t time.Time, ny, nx int) wrfout.Frame {
	h := int(t.Sub(simStart).Hours())
	dims := []string{"Time", "south_north", "west_east"}
	fr := wrfout.Frame{
		Times:    []time.Time{t},
		SimStart: simStart,
		DimLens:  map[string]int{"south_north": ny, "west_east": nx},
		Attrs:    domain.Attrs{"TITLE": "OUTPUT FROM WRF V3.9.1.1 MODEL", "SIMULATION_START_DATE": simStart.Format("2006-01-02_15:04:05")},
	}
	for _, f := range fields {
		data := make([]float32, ny*nx)
		for c := range data {
			data[c] = float32(f.value(h, c))
		}
		fr.Fields = append(fr.Fields, wrfout.Field{
			Name:  f.name,
			Dims:  dims,
			Attrs: domain.Attrs{"units": f.units, "description": f.description, "MemoryOrder": "XY ", "stagger": ""},
			Data:  data,
		})
	}
	return fr
}

func constantsFrame(ny, nx int) wrfout.Frame {
	hgt := make([]float32, ny*nx)
	lat := make([]float32, ny*nx)
	lon := make([]float32, ny*nx)
	for c := range hgt {
		hgt[c] = float32(200 + 15*c)
		lat[c] = float32(30 + 0.04*float64(c/nx))
		lon[c] = float32(-110 + 0.04*float64(c%nx))
	}
	dims := []string{"Time", "south_north", "west_east"}
	return wrfout.Frame{
		Times:    []time.Time{simStart},
		SimStart: simStart,
		DimLens:  map[string]int{"south_north": ny, "west_east": nx},
		Fields: []wrfout.Field{
			{Name: "HGT", Dims: dims, Attrs: domain.Attrs{"units": "m", "description": "terrain height"}, Data: hgt},
			{Name: "XLAT", Dims: dims, Attrs: domain.Attrs{"units": "degree_north"}, Data: lat},
			{Name: "XLONG", Dims: dims, Attrs: domain.Attrs{"units": "degree_east"}, Data: lon},
		},
	}
}

func writeMetadata(path string) error {
	var b strings.Builder
	b.WriteString("varname\tlong_name\tunits\tintegration_length\tcoordinates\n")
	for _, f := range fields {
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\tXLONG XLAT XTIME\n", f.name, f.description, f.units, f.integration)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
