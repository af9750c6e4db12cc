package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"arctic-iceberg/iceberg"
	"arctic-iceberg/parser"
	"arctic-iceberg/table"
)

// Operations implements table.Operations for one table of a Store.
//
// Values handed out by Current and Refresh are remembered together with the
// store version they were read at. Commit accepts only the value last handed
// out as base and swaps the store conditioned on that version.
type Operations struct {
	name   string
	store  Store
	logger *slog.Logger

	mu      sync.Mutex
	current *iceberg.TableMetadata
	version int64
}

var _ table.Operations = (*Operations)(nil)

func NewOperations(name string, store Store, logger *slog.Logger) *Operations {
	if logger == nil {
		logger = slog.Default()
	}
	return &Operations{
		name:   name,
		store:  store,
		logger: logger.With("component", "catalog", "table", name),
	}
}

func (o *Operations) Current(ctx context.Context) (*iceberg.TableMetadata, error) {
	o.mu.Lock()
	md := o.current
	o.mu.Unlock()
	if md != nil {
		return md, nil
	}
	return o.Refresh(ctx)
}

func (o *Operations) Refresh(ctx context.Context) (*iceberg.TableMetadata, error) {
	doc, version, err := o.store.Load(ctx, o.name)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", o.name, err)
	}
	md, err := parser.Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("parsing metadata of %s at version %d: %w", o.name, version, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	// A concurrent Commit may already have moved past what we read.
	if version >= o.version {
		o.current = md
		o.version = version
	}
	return o.current, nil
}

func (o *Operations) Commit(ctx context.Context, base, updated *iceberg.TableMetadata) error {
	o.mu.Lock()
	current, version := o.current, o.version
	o.mu.Unlock()

	if current == nil || base != current {
		return fmt.Errorf("%w: base of %s is not the latest loaded metadata", table.ErrCommitConflict, o.name)
	}

	doc, err := json.Marshal(updated)
	if err != nil {
		return fmt.Errorf("encoding metadata of %s: %w", o.name, err)
	}

	if err := o.store.Swap(ctx, o.name, version, doc); err != nil {
		if errors.Is(err, ErrVersionMismatch) {
			o.logger.Debug("stale base", "version", version)
			return fmt.Errorf("%w: %w", table.ErrCommitConflict, err)
		}
		return fmt.Errorf("swapping metadata of %s: %w", o.name, err)
	}

	o.mu.Lock()
	if o.version == version {
		o.current = updated
		o.version = version + 1
	}
	o.mu.Unlock()
	o.logger.Debug("committed metadata", "version", version+1, "snapshot", updated.CurrentSnapshotID())
	return nil
}

// Version returns the store version of the metadata last loaded or committed.
func (o *Operations) Version() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.version
}
