package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/conus404-etl/internal/domain"
)

// Profile describes the layout of one CONUS404 run: where jobs start, how
// stores are chunked, and how aggregation labels are placed.
type Profile struct {
	BaseDate time.Time
	// HourlyJobDays is the number of days one ingest job covers. It must
	// divide the hourly time chunk so regions never share a chunk.
	HourlyJobDays int
	// DailyJobDays is the number of days one daily aggregation job covers.
	DailyJobDays int
	Chunks       map[domain.Step]domain.ChunkPlan
	// LabelOffsets shift daily labels from the window midpoint back to the
	// window start, per category.
	LabelOffsets map[domain.AccumulationCategory]time.Duration
	// SourceShifts are the number of source steps each category is read
	// ahead so accumulations ending at the top of an hour land in the right
	// window.
	SourceShifts map[domain.AccumulationCategory]int
	BucketPairs  []domain.BucketPair
	FilePattern  string
}

// DefaultProfile returns the CONUS404 production layout.
func DefaultProfile() Profile {
	return Profile{
		BaseDate:      time.Date(1979, 10, 1, 0, 0, 0, 0, time.UTC),
		HourlyJobDays: 6,
		DailyJobDays:  36,
		Chunks: map[domain.Step]domain.ChunkPlan{
			domain.Hourly:  {domain.TimeDim: 144, "y": 175, "x": 175, "y_stag": 175, "x_stag": 175},
			domain.Daily:   {domain.TimeDim: 36, "y": 350, "x": 350, "y_stag": 350, "x_stag": 350},
			domain.Monthly: {domain.TimeDim: 36, "y": 350, "x": 350, "y_stag": 350, "x_stag": 350},
		},
		LabelOffsets: map[domain.AccumulationCategory]time.Duration{
			domain.Instantaneous:   690 * time.Minute,
			domain.Accum60Min:      750 * time.Minute,
			domain.AccumSinceStart: 750 * time.Minute,
			domain.Accum24H:        690 * time.Minute,
		},
		SourceShifts: map[domain.AccumulationCategory]int{
			domain.Accum60Min:      1,
			domain.AccumSinceStart: 1,
		},
		BucketPairs: domain.DefaultBucketPairs,
		FilePattern: "",
	}
}

// profileFile is the YAML form of a Profile. Absent keys keep their defaults.
type profileFile struct {
	BaseDate      string                    `yaml:"base_date"`
	HourlyJobDays int                       `yaml:"hourly_job_days"`
	DailyJobDays  int                       `yaml:"daily_job_days"`
	Chunks        map[string]map[string]int `yaml:"chunks"`
	LabelOffsets  map[string]int            `yaml:"label_offsets_minutes"`
	SourceShifts  map[string]int            `yaml:"source_shifts"`
	BucketPairs   []domain.BucketPair       `yaml:"bucket_pairs"`
	FilePattern   string                    `yaml:"file_pattern"`
}

// LoadProfile reads a YAML profile and overlays it on DefaultProfile.
func LoadProfile(path string) (Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read pipeline profile: %w", err)
	}
	return ParseProfile(raw)
}

// ParseProfile decodes YAML profile data.
func ParseProfile(raw []byte) (Profile, error) {
	var f profileFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return Profile{}, fmt.Errorf("parse pipeline profile: %w", err)
	}

	p := DefaultProfile()
	if f.BaseDate != "" {
		t, err := time.Parse(time.DateOnly, f.BaseDate)
		if err != nil {
			return Profile{}, fmt.Errorf("invalid base_date %q: %w", f.BaseDate, err)
		}
		p.BaseDate = t
	}
	if f.HourlyJobDays != 0 {
		p.HourlyJobDays = f.HourlyJobDays
	}
	if f.DailyJobDays != 0 {
		p.DailyJobDays = f.DailyJobDays
	}
	for level, plan := range f.Chunks {
		step, err := domain.ParseStep(level)
		if err != nil {
			return Profile{}, fmt.Errorf("chunks: %w", err)
		}
		p.Chunks[step] = domain.ChunkPlan(plan)
	}
	for name, minutes := range f.LabelOffsets {
		c, err := domain.ParseCategory(name)
		if err != nil {
			return Profile{}, fmt.Errorf("label_offsets_minutes: %w", err)
		}
		p.LabelOffsets[c] = time.Duration(minutes) * time.Minute
	}
	for name, shift := range f.SourceShifts {
		c, err := domain.ParseCategory(name)
		if err != nil {
			return Profile{}, fmt.Errorf("source_shifts: %w", err)
		}
		p.SourceShifts[c] = shift
	}
	if f.BucketPairs != nil {
		p.BucketPairs = f.BucketPairs
	}
	if f.FilePattern != "" {
		p.FilePattern = f.FilePattern
	}

	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Validate checks that job lengths line up with the time chunks of the stores
// they write.
func (p Profile) Validate() error {
	if p.HourlyJobDays <= 0 || p.DailyJobDays <= 0 {
		return errors.New("job days must be positive")
	}
	if n := p.Chunks[domain.Hourly][domain.TimeDim]; n > 0 && n%(p.HourlyJobDays*24) != 0 {
		return fmt.Errorf("hourly time chunk %d is not a multiple of %d-day jobs", n, p.HourlyJobDays)
	}
	if n := p.Chunks[domain.Daily][domain.TimeDim]; n > 0 && n%p.DailyJobDays != 0 {
		return fmt.Errorf("daily time chunk %d is not a multiple of %d-day jobs", n, p.DailyJobDays)
	}
	for c, shift := range p.SourceShifts {
		if shift < 0 {
			return fmt.Errorf("source shift for %s must not be negative", c)
		}
	}
	return nil
}

// HourlyStepsPerDailyJob is the number of hourly source steps one daily job reads.
func (p Profile) HourlyStepsPerDailyJob() int {
	return p.DailyJobDays * 24
}
