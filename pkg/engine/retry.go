package engine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

func (e *Engine) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.Retry.InitialInterval
	b.MaxInterval = e.cfg.Retry.MaxInterval
	return b
}

// retry runs fn until it succeeds, fails with a non-retryable error, or has
// been tried maxTries times.
func (e *Engine) retry(ctx context.Context, op string, maxTries uint, fn func(context.Context) error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn(ctx)
		if err != nil && !retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(e.newBackOff()),
		backoff.WithMaxTries(maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			e.log.WithError(err).
				WithField("step", op).
				WithField("retry_in", next.String()).
				Debug("retrying step")
		}),
	)
	return err
}
