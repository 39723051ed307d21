package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	sharedretry "github.com/couchcryptid/storm-data-shared/retry"

	"github.com/couchcryptid/conus404-etl/internal/domain"
)

// Scratch hands out per-job staging directories under a shared root, such as
// a RAM disk.
type Scratch struct {
	root    string
	retries int
	delay   time.Duration
	logger  *slog.Logger
}

// JobDirs are the staging directories owned by one job.
type JobDirs struct {
	Temp   string
	Target string
}

// NewScratch returns a Scratch rooted at root. Directory preparation is tried
// up to retries times, waiting delay between tries.
func NewScratch(root string, retries int, delay time.Duration, logger *slog.Logger) *Scratch {
	return &Scratch{root: root, retries: max(retries, 1), delay: delay, logger: logger}
}

// Dirs returns the directory names for job index without touching the disk.
func (s *Scratch) Dirs(index int) JobDirs {
	return JobDirs{
		Temp:   filepath.Join(s.root, fmt.Sprintf("temp_%05d", index)),
		Target: filepath.Join(s.root, fmt.Sprintf("target_%05d", index)),
	}
}

// Prepare removes any leftovers of a previous run of job index and creates
// empty directories for it. Shared filesystems can report a removed
// directory for a while afterwards, so removal is retried.
func (s *Scratch) Prepare(ctx context.Context, index int) (JobDirs, error) {
	dirs := s.Dirs(index)
	for _, dir := range []string{dirs.Temp, dirs.Target} {
		if err := s.reset(ctx, dir); err != nil {
			return JobDirs{}, err
		}
	}
	return dirs, nil
}

func (s *Scratch) reset(ctx context.Context, dir string) error {
	var lastErr error
	for attempt := 1; attempt <= s.retries; attempt++ {
		lastErr = recreate(dir)
		if lastErr == nil {
			return nil
		}
		s.logger.Warn("scratch directory not ready", "dir", dir, "attempt", attempt, "error", lastErr)
		if !sharedretry.SleepWithContext(ctx, s.delay) {
			return ctx.Err()
		}
	}
	return domain.Transient(fmt.Errorf("prepare scratch %s after %d attempts: %w", dir, s.retries, lastErr))
}

func recreate(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("%s still exists after removal", dir)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// Cleanup removes a job's directories.
func (s *Scratch) Cleanup(dirs JobDirs) error {
	return errors.Join(os.RemoveAll(dirs.Temp), os.RemoveAll(dirs.Target))
}
