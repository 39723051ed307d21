package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/conus404-etl/internal/domain"
)

// RetryPolicy retries transient failures with a constant delay. Errors not
// marked with domain.Transient fail on the first attempt.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	Delay    time.Duration
}

// Do runs op until it succeeds, fails permanently, runs out of attempts, or
// ctx is done. It returns the number of attempts made. notify is called
// before each retry and may be nil.
func (p RetryPolicy) Do(ctx context.Context, op func() error, notify func(err error, wait time.Duration)) (int, error) {
	attempts := 0
	wrapped := func() error {
		attempts++
		err := op()
		if err != nil && !domain.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(p.Delay)
	b = backoff.WithMaxRetries(b, uint64(max(p.Attempts-1, 0)))
	b = backoff.WithContext(b, ctx)

	err := backoff.RetryNotifyWithTimer(wrapped, b, notify, &clockTimer{clock: domain.Clock()})
	return attempts, err
}

// clockTimer drives backoff waits from a clockwork clock so tests can control
// them.
type clockTimer struct {
	clock clockwork.Clock
	timer clockwork.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.Chan()
}
