package wrfout

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/conus404-etl/internal/domain"
)

const sampleTable = "varname\tlong_name\tintegration_length\tunits\tscale_factor\tcoordinates\tdescription\n" +
	"T2\tTemperature at 2 m\t\tK\t\tXLONG XLAT XTIME\t\n" +
	"ACRAINLSM\tAccumulated rain\taccumulated since 1979-10-01 00:00:00\tmm\t1.0\tXLONG XLAT\tfrom LSM\n" +
	"\tignored\t\t\t\t\t\n"

func TestParseMetadataTable(t *testing.T) {
	table, err := parseMetadataTable(strings.NewReader(sampleTable))
	require.NoError(t, err)
	require.Len(t, table, 2)

	assert.Equal(t, domain.Attrs{
		"long_name":    "Temperature at 2 m",
		"units":        "K",
		"coordinates":  "lon lat",
		"grid_mapping": "crs",
	}, table["T2"])
	assert.Equal(t, 1.0, table["ACRAINLSM"]["scale_factor"])
	assert.Equal(t, domain.IntegrationSinceStart, table["ACRAINLSM"][domain.IntegrationAttr])
}

func TestParseMetadataTable_NoVarname(t *testing.T) {
	_, err := parseMetadataTable(strings.NewReader("name\tunits\nT2\tK\n"))
	require.Error(t, err)
}

func TestReadVarList(t *testing.T) {
	p := filepath.Join(t.TempDir(), "vars.csv")
	require.NoError(t, os.WriteFile(p, []byte("variable,description\nT2,temp\nQ2,mixing ratio\n,\nACRAINLSM,rain\n"), 0o644))

	names, err := ReadVarList(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"T2", "Q2", "ACRAINLSM"}, names)

	bad := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("name\nT2\n"), 0o644))
	_, err = ReadVarList(bad)
	require.Error(t, err)
}
