package fetch

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ajitpratap0/constellation/pkg/config"
	"github.com/ajitpratap0/constellation/pkg/errors"
	"github.com/ajitpratap0/constellation/pkg/logger"
)

// Retrying re-issues failed fetches with exponential backoff. Failures
// marked permanent (missing objects, 4xx responses) are returned at once.
type Retrying struct {
	next     Fetcher
	attempts int
	initial  time.Duration
	max      time.Duration
}

// NewRetrying wraps next with the retry policy from cfg.
func NewRetrying(next Fetcher, cfg config.ReliabilityConfig) *Retrying {
	return &Retrying{
		next:     next,
		attempts: cfg.RetryAttempts,
		initial:  cfg.RetryDelay,
		max:      cfg.MaxRetryDelay,
	}
}

// Fetch implements Fetcher.
func (r *Retrying) Fetch(ctx context.Context, location string, progress ProgressFunc) ([]byte, error) {
	if r.attempts <= 0 {
		return r.next.Fetch(ctx, location, progress)
	}

	eb := backoff.NewExponentialBackOff()
	if r.initial > 0 {
		eb.InitialInterval = r.initial
	}
	if r.max > 0 {
		eb.MaxInterval = r.max
	}
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.attempts)), ctx)

	var data []byte
	op := func() error {
		var err error
		data, err = r.next.Fetch(ctx, location, progress)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("shard fetch failed, retrying",
			zap.String("location", location),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		if !errors.IsType(err, errors.ErrorTypeTransport) {
			err = transportError(err, location, "fetch failed")
		}
		return nil, err
	}
	return data, nil
}

// IsPermanent reports whether a fetch error will not succeed on retry.
func IsPermanent(err error) bool {
	var e *errors.Error
	for errors.As(err, &e) {
		if v, ok := e.Detail("permanent"); ok {
			if b, ok := v.(bool); ok && b {
				return true
			}
		}
		if e.Cause == nil {
			return false
		}
		err = e.Cause
		e = nil
	}
	return false
}
