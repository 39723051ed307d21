package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/conus404-etl/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "/dev/shm/tmp", cfg.ScratchDir)
	assert.Equal(t, 9, cfg.CompressionLevel)
	assert.Equal(t, int64(16<<30), cfg.MemoryLimit)
	assert.InDelta(t, 0.7, cfg.MemoryFraction, 1e-12)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, 10*time.Second, cfg.RetryDelay)
	assert.Equal(t, 10, cfg.CopyRetries)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "conus404-job-status", cfg.KafkaStatusTopic)
	assert.Equal(t, DefaultProfile(), cfg.Profile)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("WORKERS", "12")
	t.Setenv("RAM_SCRATCH", "/scratch/ram")
	t.Setenv("COMPRESSION_LEVEL", "3")
	t.Setenv("MEMORY_LIMIT_GB", "2")
	t.Setenv("MEMORY_FRACTION", "0.5")
	t.Setenv("RETRY_ATTEMPTS", "5")
	t.Setenv("RETRY_DELAY", "1s")
	t.Setenv("COPY_RETRIES", "2")
	t.Setenv("KAFKA_BROKERS", "broker1:9092, broker2:9092")
	t.Setenv("KAFKA_STATUS_TOPIC", "status")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 12, cfg.Workers)
	assert.Equal(t, "/scratch/ram", cfg.ScratchDir)
	assert.Equal(t, 3, cfg.CompressionLevel)
	assert.Equal(t, int64(2<<30), cfg.MemoryLimit)
	assert.Equal(t, 5, cfg.RetryAttempts)
	assert.Equal(t, time.Second, cfg.RetryDelay)
	assert.Equal(t, 2, cfg.CopyRetries)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "status", cfg.KafkaStatusTopic)
}

func TestLoad_ScratchDirWinsOverRAMScratch(t *testing.T) {
	t.Setenv("RAM_SCRATCH", "/scratch/ram")
	t.Setenv("SCRATCH_DIR", "/scratch/disk")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/scratch/disk", cfg.ScratchDir)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"SHUTDOWN_TIMEOUT", "-1s"},
		{"WORKERS", "0"},
		{"COMPRESSION_LEVEL", "40"},
		{"MEMORY_LIMIT_GB", "lots"},
		{"MEMORY_FRACTION", "1.5"},
		{"RETRY_ATTEMPTS", "x"},
		{"RETRY_DELAY", "soon"},
		{"COPY_RETRIES", "-3"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_ProfileFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hourly_job_days: 3\n"), 0o644))
	t.Setenv("PIPELINE_PROFILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Profile.HourlyJobDays)

	t.Setenv("PIPELINE_PROFILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = Load()
	require.Error(t, err)
}

func TestMaxMemPerThread(t *testing.T) {
	assert.Equal(t, int64(700), MaxMemPerThread(4000, 4, 0.7))
	assert.Equal(t, int64(1000), MaxMemPerThread(1000, 0, 1))

	cfg := &Config{MemoryLimit: 8 << 30, Workers: 8, MemoryFraction: 0.5}
	assert.Equal(t, int64(512<<20), cfg.MaxMemPerThread())
}

func TestParseProfile(t *testing.T) {
	raw := []byte(`
base_date: 2000-10-01
daily_job_days: 18
chunks:
  hourly: {time: 288, y: 100, x: 100}
label_offsets_minutes:
  instantaneous: 0
source_shifts:
  accum_60min: 2
bucket_pairs:
  - accumulated: ACSWDNB
    bucket: I_ACSWDNB
file_pattern: "{{.Dir}}/{{.Time.Format \"2006\"}}/wrf2d"
`)
	p, err := ParseProfile(raw)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2000, 10, 1, 0, 0, 0, 0, time.UTC), p.BaseDate)
	assert.Equal(t, 6, p.HourlyJobDays)
	assert.Equal(t, 18, p.DailyJobDays)
	assert.Equal(t, 432, p.HourlyStepsPerDailyJob())
	assert.Equal(t, domain.ChunkPlan{domain.TimeDim: 288, "y": 100, "x": 100}, p.Chunks[domain.Hourly])
	assert.Equal(t, 36, p.Chunks[domain.Daily][domain.TimeDim], "unlisted levels keep defaults")
	assert.Zero(t, p.LabelOffsets[domain.Instantaneous])
	assert.Equal(t, 750*time.Minute, p.LabelOffsets[domain.Accum60Min])
	assert.Equal(t, 690*time.Minute, p.LabelOffsets[domain.Accum24H], "unshifted categories label at the window start")
	assert.Equal(t, 2, p.SourceShifts[domain.Accum60Min])
	assert.Equal(t, []domain.BucketPair{{Accumulated: "ACSWDNB", Bucket: "I_ACSWDNB"}}, p.BucketPairs)
	assert.Contains(t, p.FilePattern, "wrf2d")
}

func TestParseProfile_Errors(t *testing.T) {
	tests := map[string]string{
		"bad yaml":         "chunks: [",
		"bad date":         "base_date: 10/01/1979",
		"unknown level":    "chunks:\n  weekly: {time: 7}",
		"unknown category": "label_offsets_minutes:\n  hail: 10",
		"misaligned jobs":  "hourly_job_days: 5",
		"negative shift":   "source_shifts:\n  accum_60min: -1",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseProfile([]byte(raw))
			require.Error(t, err)
		})
	}
}
