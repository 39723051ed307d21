package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/couchcryptid/conus404-etl/internal/config"
	"github.com/couchcryptid/conus404-etl/internal/domain"
	"github.com/couchcryptid/conus404-etl/internal/observability"
)

// Store is a chunked array store that is laid out once and then filled by
// writes to disjoint time regions.
type Store interface {
	Schema(ctx context.Context) (*domain.GridDataset, error)
	ReadRegion(ctx context.Context, names []string, start, stop int) (*domain.GridDataset, error)
	WriteTemplate(ctx context.Context, tmpl *domain.GridDataset, chunks map[string][]int, overwrite bool) error
	WriteConstants(ctx context.Context, ds *domain.GridDataset, chunks map[string][]int) error
	AddVariables(ctx context.Context, ds *domain.GridDataset, chunks map[string][]int) error
	WriteRegion(ctx context.Context, ds *domain.GridDataset, start, stop int) error
	ExtendTime(ctx context.Context, times []time.Time) error
	Consolidate() error
}

// Source is an opened range of model output. Its schema is known without
// reading any data.
type Source interface {
	Schema() *domain.GridDataset
	Load(ctx context.Context, names []string) (*domain.GridDataset, error)
}

// SourceOpener resolves and opens the model output for days days from start.
type SourceOpener interface {
	OpenRange(ctx context.Context, start time.Time, days int) (Source, error)
}

// StagingFunc opens a store in a job's scratch directories. Jobs stage their
// slice there with the destination chunking before the region copy.
type StagingFunc func(dirs JobDirs) (Store, error)

// Options configures a Pipeline.
type Options struct {
	Profile config.Profile
	// Vars limits ingestion to these source variables. Empty means every
	// time-varying variable in the source.
	Vars []string
	// MaxMemPerThread bounds the bytes one job loads at a time.
	MaxMemPerThread int64
	// Scratch and Staging are optional; without them jobs write directly.
	Scratch *Scratch
	Staging StagingFunc
	// CopyRetries bounds attempts of each staging copy. Zero means one.
	CopyRetries int
}

// Pipeline runs the ingestion and aggregation stages against chunk stores.
type Pipeline struct {
	opener  SourceOpener
	runner  *Runner
	logger  *slog.Logger
	metrics *observability.Metrics
	opts    Options
}

// New creates a Pipeline. opener may be nil for stages that only read stores.
func New(opener SourceOpener, runner *Runner, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Pipeline {
	return &Pipeline{
		opener:  opener,
		runner:  runner,
		logger:  logger,
		metrics: metrics,
		opts:    opts,
	}
}

// CheckReadiness returns nil once at least one job has completed, or an error
// describing why the run is not yet making progress.
func (p *Pipeline) CheckReadiness(ctx context.Context) error {
	if p.runner == nil {
		return errors.New("pipeline has no runner")
	}
	return p.runner.CheckReadiness(ctx)
}

func (p *Pipeline) requireOpener() error {
	if p.opener == nil {
		return errors.New("pipeline has no source opener")
	}
	return nil
}
