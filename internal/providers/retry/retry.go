// Package retry wraps outbound calls with a per-attempt timeout and a bounded
// exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/clinicledger/internal/config"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultMaxTries = 3
)

type Policy struct {
	Timeout         time.Duration
	MaxTries        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func PolicyFromConfig(cfg config.OutboundConfig) Policy {
	return Policy{Timeout: cfg.Timeout, MaxTries: cfg.MaxRetries}
}

func (p Policy) normalized() Policy {
	if p.Timeout <= 0 {
		p.Timeout = defaultTimeout
	}
	if p.MaxTries <= 0 {
		p.MaxTries = defaultMaxTries
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = 200 * time.Millisecond
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 2 * time.Second
	}
	return p
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a permanent error, or the policy's
// tries are spent. Each attempt gets its own timeout derived from ctx.
func Do[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	policy = policy.normalized()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval

	result, err := backoff.Retry(ctx, func() (T, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
		return op(attemptCtx)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(policy.MaxTries)),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return result, permanent.Unwrap()
		}
	}
	return result, err
}
