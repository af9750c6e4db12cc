package table

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"arctic-iceberg/iceberg"
	"arctic-iceberg/metrics"
)

// RetryPolicy bounds the refresh-and-reapply loop around conflicted commits.
type RetryPolicy struct {
	// MaxRetries is the number of re-staged attempts after the first one.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Timeout bounds each attempt, refresh and commit included. Zero means no
	// per-attempt limit.
	Timeout time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     4,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Timeout:        30 * time.Second,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if p.InitialBackoff > 0 {
		exp.InitialInterval = p.InitialBackoff
	}
	if p.MaxBackoff > 0 {
		exp.MaxInterval = p.MaxBackoff
	}
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(max(p.MaxRetries, 0))), ctx)
}

// CommitWithRetry commits u and, on a stale-base conflict, re-stages the same
// changes and tries again until the policy is exhausted. Property and file
// collisions and persistence failures are returned immediately.
func CommitWithRetry(ctx context.Context, u PendingUpdate, policy RetryPolicy) (*iceberg.TableMetadata, error) {
	return commitWithRetry(ctx, u, policy, slog.Default())
}

func commitWithRetry(ctx context.Context, u PendingUpdate, policy RetryPolicy, logger *slog.Logger) (*iceberg.TableMetadata, error) {
	op := u.operation()
	start := time.Now()
	defer func() {
		metrics.CommitDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	attempt := 0
	current := u
	run := func() (*iceberg.TableMetadata, error) {
		if attempt > 0 {
			current = current.Restage()
			metrics.CommitRetries.WithLabelValues(op).Inc()
		}
		attempt++

		attemptCtx := ctx
		if policy.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
			defer cancel()
		}

		md, err := current.Commit(attemptCtx)
		if err != nil && !IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return md, err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("commit conflict, retrying",
			"operation", op, "attempt", attempt, "wait", wait, "error", err)
	}

	md, err := backoff.RetryNotifyWithData(run, policy.backOff(ctx), notify)
	if err != nil {
		logger.Debug("commit gave up", "operation", op, "attempts", attempt, "error", err)
		return nil, err
	}
	return md, nil
}
