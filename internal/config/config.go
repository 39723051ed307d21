package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all process settings, populated from environment variables.
// Pipeline layout settings come from Profile.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Workers bounds how many jobs run at once.
	Workers int
	// ScratchDir holds per-job staging directories.
	ScratchDir       string
	CompressionLevel int
	// MemoryLimit is the total memory available to workers, in bytes.
	MemoryLimit    int64
	MemoryFraction float64

	RetryAttempts int
	RetryDelay    time.Duration
	// CopyRetries bounds executions of each staging copy, and attempts to
	// recreate the scratch directories it copies through.
	CopyRetries int

	// Status publishing is disabled when KafkaBrokers is empty.
	KafkaBrokers     []string
	KafkaStatusTopic string

	Profile Profile
}

// Load reads configuration from environment variables, applying defaults where unset.
// PIPELINE_PROFILE optionally names a YAML file overriding the default profile.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	workers, err := parsePositiveInt("WORKERS", "4")
	if err != nil {
		return nil, err
	}
	level, err := strconv.Atoi(sharedcfg.EnvOrDefault("COMPRESSION_LEVEL", "9"))
	if err != nil || level < 1 || level > 22 {
		return nil, errors.New("invalid COMPRESSION_LEVEL: must be 1-22")
	}
	memGB, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("MEMORY_LIMIT_GB", "16"), 64)
	if err != nil || memGB <= 0 {
		return nil, errors.New("invalid MEMORY_LIMIT_GB: must be positive")
	}
	fraction, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("MEMORY_FRACTION", "0.7"), 64)
	if err != nil || fraction <= 0 || fraction > 1 {
		return nil, errors.New("invalid MEMORY_FRACTION: must be in (0, 1]")
	}
	retryAttempts, err := parsePositiveInt("RETRY_ATTEMPTS", "3")
	if err != nil {
		return nil, err
	}
	retryDelay, err := time.ParseDuration(sharedcfg.EnvOrDefault("RETRY_DELAY", "10s"))
	if err != nil || retryDelay < 0 {
		return nil, errors.New("invalid RETRY_DELAY")
	}
	copyRetries, err := parsePositiveInt("COPY_RETRIES", "10")
	if err != nil {
		return nil, err
	}

	profile := DefaultProfile()
	if path := os.Getenv("PIPELINE_PROFILE"); path != "" {
		if profile, err = LoadProfile(path); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		HTTPAddr:         sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:         sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:        sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:  shutdownTimeout,
		Workers:          workers,
		ScratchDir:       sharedcfg.EnvOrDefault("SCRATCH_DIR", sharedcfg.EnvOrDefault("RAM_SCRATCH", "/dev/shm/tmp")),
		CompressionLevel: level,
		MemoryLimit:      int64(memGB * (1 << 30)),
		MemoryFraction:   fraction,
		RetryAttempts:    retryAttempts,
		RetryDelay:       retryDelay,
		CopyRetries:      copyRetries,
		KafkaBrokers:     sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaStatusTopic: sharedcfg.EnvOrDefault("KAFKA_STATUS_TOPIC", "conus404-job-status"),
		Profile:          profile,
	}

	if cfg.ScratchDir == "" {
		return nil, errors.New("SCRATCH_DIR is required")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaStatusTopic == "" {
		return nil, errors.New("KAFKA_STATUS_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

// MaxMemPerThread returns the memory each worker may use.
func (c *Config) MaxMemPerThread() int64 {
	return MaxMemPerThread(c.MemoryLimit, c.Workers, c.MemoryFraction)
}

// MaxMemPerThread divides total bytes evenly among threads, keeping only
// fraction of each share.
func MaxMemPerThread(total int64, threads int, fraction float64) int64 {
	if threads <= 0 {
		threads = 1
	}
	return int64(float64(total) / float64(threads) * fraction)
}

func parsePositiveInt(key, fallback string) (int, error) {
	n, err := strconv.Atoi(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}
