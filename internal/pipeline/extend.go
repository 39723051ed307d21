package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/couchcryptid/conus404-etl/internal/domain"
)

// ExtendTime grows the store's time axis so that it runs through end, keeping
// its original first timestamp. Existing data is not touched.
func (p *Pipeline) ExtendTime(ctx context.Context, store Store, end time.Time, step domain.Step) error {
	schema, err := store.Schema(ctx)
	if err != nil {
		return err
	}
	if len(schema.Time) == 0 {
		return fmt.Errorf("extend time: %w", domain.ErrNoTimeOrigin)
	}
	last := schema.Time[len(schema.Time)-1]
	if end.Before(last) {
		return fmt.Errorf("extend time: end %s precedes the current end %s", end.Format(time.DateTime), last.Format(time.DateTime))
	}
	times := domain.TimeAxis(schema.Time[0], end, step)
	if err := store.ExtendTime(ctx, times); err != nil {
		return err
	}
	p.logger.Info("time axis extended", "from", len(schema.Time), "to", len(times), "end", times[len(times)-1])
	return nil
}
