package table

import (
	"context"
	"errors"
	"fmt"
	"time"

	"arctic-iceberg/iceberg"
	"arctic-iceberg/metrics"
)

// State is the lifecycle position of a pending update.
type State int

const (
	StateNew State = iota
	StateStaged
	StateApplied
	StateCommitted
	StateConflict
	StateFailed
)

var stateNames = [...]string{"NEW", "STAGED", "APPLIED", "COMMITTED", "CONFLICT", "FAILED"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether the update has made its single commit attempt.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateConflict || s == StateFailed
}

// PendingUpdate is a set of staged changes to one table.
//
// Apply refreshes the table and computes the metadata the update would
// produce without persisting anything. Commit does the same and hands the
// result to Operations.Commit; it may be called once. Restage returns a new
// update carrying the same staged changes and staging base, ready for another
// attempt.
type PendingUpdate interface {
	State() State
	Apply(ctx context.Context) (*iceberg.TableMetadata, error)
	Commit(ctx context.Context) (*iceberg.TableMetadata, error)
	Restage() PendingUpdate
	operation() string
}

type computeFunc func(fresh *iceberg.TableMetadata) (*iceberg.TableMetadata, error)

// pending carries the parts shared by every update kind.
type pending struct {
	ops      Operations
	base     *iceberg.TableMetadata
	state    State
	stagedAt time.Time
	now      func() time.Time
}

func newPending(ops Operations, base *iceberg.TableMetadata, now func() time.Time) pending {
	if now == nil {
		now = time.Now
	}
	return pending{ops: ops, base: base, state: StateNew, stagedAt: now(), now: now}
}

func (p *pending) State() State { return p.state }

// Base returns the metadata the update was staged against.
func (p *pending) Base() *iceberg.TableMetadata { return p.base }

func (p *pending) stage() bool {
	if p.state.Terminal() {
		return false
	}
	p.state = StateStaged
	return true
}

func (p *pending) millis() uint64 {
	return uint64(p.stagedAt.UnixMilli())
}

func (p *pending) apply(ctx context.Context, compute computeFunc) (fresh, updated *iceberg.TableMetadata, err error) {
	if p.state.Terminal() {
		return nil, nil, ErrUpdateConsumed
	}
	fresh, err = p.ops.Refresh(ctx)
	if err != nil {
		return nil, nil, &CommitFailedError{Err: fmt.Errorf("refreshing table metadata: %w", err)}
	}
	updated, err = compute(fresh)
	if err != nil {
		return nil, nil, err
	}
	p.state = StateApplied
	return fresh, updated, nil
}

func (p *pending) commit(ctx context.Context, op string, compute computeFunc) (*iceberg.TableMetadata, error) {
	fresh, updated, err := p.apply(ctx, compute)
	switch {
	case errors.Is(err, ErrUpdateConsumed):
		return nil, err
	case err != nil && !isCommitFailed(err) && !errors.Is(err, ErrCommitConflict):
		// The update is invalid against the fresh metadata and nothing
		// reached the store.
		p.state = StateFailed
		metrics.Commits.WithLabelValues(op, metrics.OutcomeFailed).Inc()
		return nil, err
	case err == nil:
		err = p.ops.Commit(ctx, fresh, updated)
	}

	switch {
	case err == nil:
		p.state = StateCommitted
		metrics.Commits.WithLabelValues(op, metrics.OutcomeCommitted).Inc()
		return updated, nil
	case errors.Is(err, ErrCommitConflict) && !isCommitFailed(err):
		p.state = StateConflict
		metrics.Commits.WithLabelValues(op, metrics.OutcomeConflict).Inc()
		return nil, err
	default:
		p.state = StateFailed
		metrics.Commits.WithLabelValues(op, metrics.OutcomeFailed).Inc()
		if !isCommitFailed(err) {
			err = &CommitFailedError{Err: err}
		}
		return nil, err
	}
}

func isCommitFailed(err error) bool {
	var cfe *CommitFailedError
	return errors.As(err, &cfe)
}
