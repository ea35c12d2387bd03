package gcslink

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	defaultBackoffInitial = 250 * time.Millisecond
	defaultBackoffMax     = 10 * time.Second
)

type Retryable interface {
	Open(ctx context.Context) error
	Close() error
	Start(ctx context.Context) error
	Name() string
}

// permanent marks an Open error that stops retry instead of being retried.
func permanent(err error) error {
	return backoff.Permanent(err)
}

// newBackoff doubles from initial up to max and never gives up.
func newBackoff(initial, max time.Duration) *backoff.ExponentialBackOff {
	if initial <= 0 {
		initial = defaultBackoffInitial
	}
	if max < initial {
		max = initial
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retry keeps r open and started until ctx is done or Open fails with a
// permanent error. Every failure closes r and waits for the next backoff
// interval before opening again.
func retry(ctx context.Context, r Retryable, b backoff.BackOff) error {
	first := true
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !first {
			if err := sleepCtx(ctx, b.NextBackOff()); err != nil {
				return err
			}
		}
		first = false

		if err := r.Open(ctx); err != nil {
			closeRetryable(r)
			var p *backoff.PermanentError
			if errors.As(err, &p) {
				return p.Err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.WithField("err", err).Warnf("%s: unable to open", r.Name())
			continue
		}
		b.Reset()

		err := r.Start(ctx)
		closeRetryable(r)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithField("err", err).Errorf("%s: reconnecting due to error", r.Name())
	}
}

func closeRetryable(r Retryable) {
	if err := r.Close(); err != nil {
		log.WithField("err", err).Warnf("%s: unable to close", r.Name())
	}
}
