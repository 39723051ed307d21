package wrfout

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/couchcryptid/conus404-etl/internal/domain"
)

// metadataColumns are the table columns copied onto variables.
var metadataColumns = []string{
	"long_name", "integration_length", "description", "notes", "units",
	"scale_factor", "valid_range", "flag_values", "flag_meanings", "coordinates",
}

// coordinateNames maps WRF coordinate lists to their renamed equivalents.
var coordinateNames = map[string]string{
	"XLONG XLAT":           "lon lat",
	"XLONG XLAT XTIME":     "lon lat",
	"XLONG_U XLAT_U":       "lon_u lat_u",
	"XLONG_U XLAT_U XTIME": "lon_u lat_u",
	"XLONG_V XLAT_V":       "lon_v lat_v",
	"XLONG_V XLAT_V XTIME": "lon_v lat_v",
}

// MetadataTable holds curated attributes keyed by original WRF variable name.
type MetadataTable map[string]domain.Attrs

// ReadMetadataTable parses the tab-separated variable metadata file. Empty
// cells are omitted. Variables with coordinates are given the "crs" grid
// mapping.
func ReadMetadataTable(path string) (MetadataTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open metadata table: %w", err)
	}
	defer f.Close()
	return parseMetadataTable(f)
}

func parseMetadataTable(r io.Reader) (MetadataTable, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read metadata header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	nameCol, ok := col["varname"]
	if !ok {
		return nil, errors.New("metadata table has no varname column")
	}

	table := MetadataTable{}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read metadata row: %w", err)
		}
		if nameCol >= len(rec) || strings.TrimSpace(rec[nameCol]) == "" {
			continue
		}
		attrs := domain.Attrs{}
		for _, c := range metadataColumns {
			i, ok := col[c]
			if !ok || i >= len(rec) {
				continue
			}
			val := strings.TrimSpace(rec[i])
			if val == "" {
				continue
			}
			if c == "scale_factor" {
				if f, err := strconv.ParseFloat(val, 64); err == nil {
					attrs[c] = f
					continue
				}
			}
			attrs[c] = val
		}
		if coords, ok := attrs.String("coordinates"); ok {
			attrs["coordinates"] = renameCoordinates(coords)
			attrs["grid_mapping"] = "crs"
		}
		table[strings.TrimSpace(rec[nameCol])] = attrs
	}
	return table, nil
}

func renameCoordinates(s string) string {
	if mapped, ok := coordinateNames[strings.TrimSpace(s)]; ok {
		return mapped
	}
	return s
}

// ReadVarList reads the list of variables to ingest: a CSV file with a
// "variable" column.
func ReadVarList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open variable list: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read variable list: %w", err)
	}
	if len(rows) == 0 {
		return nil, errors.New("variable list is empty")
	}
	idx := slices.IndexFunc(rows[0], func(h string) bool { return strings.TrimSpace(h) == "variable" })
	if idx < 0 {
		return nil, errors.New(`variable list has no "variable" column`)
	}
	var names []string
	for _, r := range rows[1:] {
		if idx < len(r) && strings.TrimSpace(r[idx]) != "" {
			names = append(names, strings.TrimSpace(r[idx]))
		}
	}
	return names, nil
}
