package table

import (
	"context"
	"fmt"
	"log/slog"

	"arctic-iceberg/iceberg"
)

// Table binds a name to its Operations and starts pending updates against
// the current metadata.
type Table struct {
	name   string
	ops    Operations
	policy RetryPolicy
	logger *slog.Logger
}

type Option func(*Table)

func WithRetryPolicy(p RetryPolicy) Option {
	return func(t *Table) { t.policy = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Table) { t.logger = l }
}

func New(name string, ops Operations, opts ...Option) *Table {
	t := &Table{name: name, ops: ops, policy: DefaultRetryPolicy()}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	t.logger = t.logger.With("table", name)
	return t
}

func (t *Table) Name() string            { return t.name }
func (t *Table) Operations() Operations  { return t.ops }
func (t *Table) RetryPolicy() RetryPolicy { return t.policy }

func (t *Table) Metadata(ctx context.Context) (*iceberg.TableMetadata, error) {
	md, err := t.ops.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading table %s: %w", t.name, err)
	}
	return md, nil
}

func (t *Table) Refresh(ctx context.Context) (*iceberg.TableMetadata, error) {
	md, err := t.ops.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("refreshing table %s: %w", t.name, err)
	}
	return md, nil
}

func (t *Table) UpdateProperties(ctx context.Context) (*UpdateProperties, error) {
	base, err := t.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	return NewUpdateProperties(t.ops, base), nil
}

func (t *Table) NewAppend(ctx context.Context) (*AppendFiles, error) {
	base, err := t.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	return NewAppendFiles(t.ops, base), nil
}

func (t *Table) NewRewrite(ctx context.Context) (*RewriteFiles, error) {
	base, err := t.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	return NewRewriteFiles(t.ops, base), nil
}

func (t *Table) ExpireSnapshots(ctx context.Context) (*ExpireSnapshots, error) {
	base, err := t.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	return NewExpireSnapshots(t.ops, base), nil
}

// Commit commits u with the table's retry policy.
func (t *Table) Commit(ctx context.Context, u PendingUpdate) (*iceberg.TableMetadata, error) {
	md, err := commitWithRetry(ctx, u, t.policy, t.logger)
	if err != nil {
		return nil, fmt.Errorf("committing %s to %s: %w", u.operation(), t.name, err)
	}
	t.logger.Debug("committed", "operation", u.operation(), "snapshot", md.CurrentSnapshotID())
	return md, nil
}
