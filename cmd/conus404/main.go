// Command conus404 builds the CONUS404 hourly, daily and monthly chunk stores
// from WRF model output. Each stage is a subcommand; templates must be
// written before the jobs that fill them.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/conus404-etl/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/conus404-etl/internal/adapter/kafka"
	"github.com/couchcryptid/conus404-etl/internal/adapter/zarr"
	"github.com/couchcryptid/conus404-etl/internal/config"
	"github.com/couchcryptid/conus404-etl/internal/observability"
	"github.com/couchcryptid/conus404-etl/internal/pipeline"
)

func main() {
	a := &app{}
	err := newRootCmd(a).Execute()
	a.close()
	if err != nil {
		os.Exit(1)
	}
}

// app holds the process-wide dependencies shared by every subcommand.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *observability.Metrics
	runner    *pipeline.Runner
	publisher *kafkaadapter.StatusWriter
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "conus404",
		Short:        "Build CONUS404 chunk stores from WRF output",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.init()
		},
	}
	root.AddCommand(
		a.templateCmd(),
		a.ingestCmd(),
		a.dailyCmd(),
		a.monthlyCmd(),
		a.deriveCmd(),
		a.extendCmd(),
		a.consolidateCmd(),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return err
	}
	a.cfg = cfg
	a.logger = observability.NewLogger(cfg)
	a.metrics = observability.NewMetrics()

	var publisher pipeline.StatusPublisher
	if len(cfg.KafkaBrokers) > 0 {
		a.publisher = kafkaadapter.NewStatusWriter(cfg, a.logger)
		publisher = a.publisher
		a.logger.Info("job status publishing enabled", "topic", cfg.KafkaStatusTopic)
	}
	runID := uuid.NewString()
	a.runner = pipeline.NewRunner(cfg.Workers, pipeline.RetryPolicy{Attempts: cfg.RetryAttempts, Delay: cfg.RetryDelay},
		publisher, runID, a.logger, a.metrics)
	a.logger.Info("run starting", "run_id", runID, "workers", cfg.Workers)
	return nil
}

func (a *app) close() {
	if a.publisher == nil {
		return
	}
	if err := a.publisher.Close(); err != nil {
		a.logger.Error("kafka writer close error", "error", err)
	}
}

// newPipeline returns a Pipeline sharing the app's runner. opener may be nil.
func (a *app) newPipeline(opener pipeline.SourceOpener, opts pipeline.Options) *pipeline.Pipeline {
	opts.Profile = a.cfg.Profile
	if opts.MaxMemPerThread == 0 {
		opts.MaxMemPerThread = a.cfg.MaxMemPerThread()
	}
	return pipeline.New(opener, a.runner, a.logger, a.metrics, opts)
}

func (a *app) openStore(path string, opts ...zarr.Option) (*zarr.Store, error) {
	opts = append([]zarr.Option{
		zarr.WithCompressionLevel(a.cfg.CompressionLevel),
		zarr.WithLogger(a.logger.With("store", path)),
		zarr.WithMetrics(a.metrics),
	}, opts...)
	return zarr.Open(path, opts...)
}

// run executes fn with an HTTP server exposing health and progress, and
// cancels it on SIGINT or SIGTERM.
func (a *app) run(fn func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *httpadapter.Server
	if a.cfg.HTTPAddr != "" {
		srv = httpadapter.NewServer(a.cfg.HTTPAddr, a.runner, a.logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", "error", err)
			}
		}()
	}

	began := time.Now()
	err := fn(ctx)
	if err != nil {
		a.logger.Error("command failed", "error", err, "elapsed", time.Since(began))
	} else {
		a.logger.Info("command finished", "elapsed", time.Since(began))
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			a.logger.Error("http server shutdown error", "error", serr)
		}
	}
	return err
}

// report logs a summary of results and fails when any job failed.
func (a *app) report(stage string, results []pipeline.JobResult) error {
	failed := pipeline.Failed(results)
	for _, r := range failed {
		a.logger.Error("job failed", "stage", stage, "job", r.Index, "name", r.Name, "fatal", r.Fatal, "error", r.Err)
	}
	a.logger.Info("stage complete", "stage", stage, "jobs", len(results), "failed", len(failed))
	if len(failed) > 0 {
		return fmt.Errorf("%s: %d of %d jobs failed", stage, len(failed), len(results))
	}
	return nil
}
