package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/conus404-etl/internal/domain"
	"github.com/couchcryptid/conus404-etl/internal/observability"
)

// StatusPublisher reports job outcomes to operators.
type StatusPublisher interface {
	Publish(ctx context.Context, status domain.JobStatus) error
}

// Task is one independently runnable job.
type Task struct {
	Index int
	// Name identifies non-temporal tasks, such as a variable, in logs.
	Name string
	// Start and End are the time range the task covers, if any.
	Start, End time.Time
	Run        func(ctx context.Context) error
}

// JobResult is the outcome of one task.
type JobResult struct {
	Index      int
	Name       string
	Start, End time.Time
	Outcome    domain.Outcome
	// Fatal is set when the task failed with an error that retrying cannot fix.
	Fatal    bool
	Attempts int
	Duration time.Duration
	Err      error
}

// Runner executes tasks on a bounded pool. A failing task never stops its
// siblings.
type Runner struct {
	workers   int
	retry     RetryPolicy
	logger    *slog.Logger
	metrics   *observability.Metrics
	publisher StatusPublisher
	runID     string
	ready     atomic.Bool

	mu       sync.Mutex
	progress Progress
}

// Progress summarizes the jobs a runner has started and finished.
type Progress struct {
	RunID     string                 `json:"run_id"`
	Stage     string                 `json:"stage,omitempty"`
	InFlight  int                    `json:"in_flight"`
	Outcomes  map[domain.Outcome]int `json:"outcomes"`
	LastError string                 `json:"last_error,omitempty"`
	// Failures holds the most recent failed jobs, oldest first.
	Failures []JobFailure `json:"failures,omitempty"`
}

// JobFailure identifies a failed job for operators.
type JobFailure struct {
	Stage string `json:"stage"`
	Index int    `json:"index"`
	Name  string `json:"name,omitempty"`
	Fatal bool   `json:"fatal"`
	Error string `json:"error"`
}

// maxFailures bounds the failures kept in Progress.
const maxFailures = 20

// NewRunner creates a Runner. publisher may be nil.
func NewRunner(workers int, retry RetryPolicy, publisher StatusPublisher, runID string, logger *slog.Logger, metrics *observability.Metrics) *Runner {
	return &Runner{
		workers:   max(workers, 1),
		retry:     retry,
		logger:    logger,
		metrics:   metrics,
		publisher: publisher,
		runID:     runID,
		progress:  Progress{RunID: runID, Outcomes: map[domain.Outcome]int{}},
	}
}

// Progress returns a snapshot of the jobs run so far.
func (r *Runner) Progress() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.progress
	p.Outcomes = maps.Clone(r.progress.Outcomes)
	p.Failures = slices.Clone(r.progress.Failures)
	return p
}

// CheckReadiness returns nil once a task has completed successfully.
func (r *Runner) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return errors.New("no job has completed yet")
	}
	return nil
}

// Run executes tasks for stage and returns one result per task, in input
// order. Tasks not started before ctx is done are reported as skipped.
func (r *Runner) Run(ctx context.Context, stage string, tasks []Task) []JobResult {
	r.mu.Lock()
	r.progress.Stage = stage
	r.mu.Unlock()

	results := make([]JobResult, len(tasks))
	var g errgroup.Group
	g.SetLimit(r.workers)
	for i, t := range tasks {
		g.Go(func() error {
			results[i] = r.runTask(ctx, stage, t)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Runner) runTask(ctx context.Context, stage string, t Task) JobResult {
	res := JobResult{Index: t.Index, Name: t.Name, Start: t.Start, End: t.End}
	log := r.logger.With("stage", stage, "job", t.Index)
	if t.Name != "" {
		log = log.With("name", t.Name)
	}
	if !t.Start.IsZero() {
		log = log.With("start", t.Start, "stop", t.End)
	}

	if err := ctx.Err(); err != nil {
		res.Outcome = domain.OutcomeSkipped
		res.Err = err
		r.finish(ctx, stage, log, res)
		return res
	}

	r.metrics.JobsInFlight.Inc()
	r.track(1)
	defer func() {
		r.metrics.JobsInFlight.Dec()
		r.track(-1)
	}()

	clock := domain.Clock()
	began := clock.Now()
	attempts, err := r.retry.Do(ctx, func() error { return t.Run(ctx) }, func(err error, wait time.Duration) {
		r.metrics.JobRetries.WithLabelValues(stage).Inc()
		log.Warn("job failed, retrying", "error", err, "wait", wait)
	})
	res.Duration = clock.Since(began)
	res.Attempts = attempts
	res.Err = err

	switch {
	case err == nil && attempts > 1:
		res.Outcome = domain.OutcomeRetried
	case err == nil:
		res.Outcome = domain.OutcomeSucceeded
	case errors.Is(err, errSkip):
		res.Outcome = domain.OutcomeSkipped
		res.Err = nil
	default:
		res.Outcome = domain.OutcomeFailed
		res.Fatal = !domain.IsTransient(err)
	}
	if res.Err == nil && res.Outcome != domain.OutcomeSkipped {
		r.ready.Store(true)
	}
	r.finish(ctx, stage, log, res)
	return res
}

func (r *Runner) track(delta int) {
	r.mu.Lock()
	r.progress.InFlight += delta
	r.mu.Unlock()
}

func (r *Runner) finish(ctx context.Context, stage string, log *slog.Logger, res JobResult) {
	r.mu.Lock()
	r.progress.Outcomes[res.Outcome]++
	if res.Err != nil {
		r.progress.LastError = res.Err.Error()
	}
	if res.Outcome == domain.OutcomeFailed {
		r.progress.Failures = append(r.progress.Failures, JobFailure{
			Stage: stage, Index: res.Index, Name: res.Name, Fatal: res.Fatal, Error: res.Err.Error(),
		})
		if n := len(r.progress.Failures); n > maxFailures {
			r.progress.Failures = slices.Delete(r.progress.Failures, 0, n-maxFailures)
		}
	}
	r.mu.Unlock()

	r.metrics.JobsTotal.WithLabelValues(stage, string(res.Outcome)).Inc()
	r.metrics.JobDuration.WithLabelValues(stage).Observe(res.Duration.Seconds())

	attrs := []any{"outcome", res.Outcome, "attempts", res.Attempts, "duration", res.Duration}
	if res.Err != nil {
		log.Error("job finished", append(attrs, "fatal", res.Fatal, "error", res.Err)...)
	} else {
		log.Info("job finished", attrs...)
	}

	if r.publisher == nil {
		return
	}
	status := domain.NewJobStatus(r.runID, stage, res.Index, res.Outcome, res.Attempts, res.Duration, res.Err)
	status.RangeStart, status.RangeEnd = res.Start, res.End
	// Report the final state even when the run was cancelled.
	if err := r.publisher.Publish(context.WithoutCancel(ctx), status); err != nil {
		r.metrics.StatusPublishErrors.Inc()
		log.Warn("publish job status failed", "error", err)
	}
}

// errSkip is returned by a task whose range lies past the end of its input.
var errSkip = errors.New("job range is past the end of the input")

// Failed returns the results that did not complete.
func Failed(results []JobResult) []JobResult {
	var out []JobResult
	for _, r := range results {
		if r.Outcome == domain.OutcomeFailed {
			out = append(out, r)
		}
	}
	return out
}
