package wrfout

import (
	"context"
	"log/slog"
	"time"
)

// Catalog resolves a job's time range to model output files and opens them.
type Catalog struct {
	pattern *FilePattern
	reader  *Reader
	verify  bool
	logger  *slog.Logger
}

// NewCatalog returns a Catalog. With verify, missing files are left out of
// each job instead of failing it.
func NewCatalog(pattern *FilePattern, reader *Reader, verify bool, logger *slog.Logger) *Catalog {
	return &Catalog{pattern: pattern, reader: reader, verify: verify, logger: logger}
}

// OpenRange opens the hourly files for days days from start.
func (c *Catalog) OpenRange(ctx context.Context, start time.Time, days int) (*Source, error) {
	list, err := BuildFileList(c.pattern, start, days, c.verify)
	if err != nil {
		return nil, err
	}
	if len(list.Missing) > 0 {
		c.logger.Warn("source files missing",
			"start", start,
			"expected", days*24,
			"found", len(list.Files),
			"first_missing", list.Missing[0],
		)
	}
	return c.reader.Open(ctx, list.Files)
}
