// Package table implements optimistic table mutation: pending updates stage
// changes against a base, recompute them on fresh state and hand the result
// to an Operations implementation that commits with compare-and-swap.
package table

import (
	"context"

	"arctic-iceberg/iceberg"
)

// Operations gives access to the persisted metadata of one table.
//
// Commit must atomically verify that the stored metadata is still base and
// replace it with updated. When it is not, Commit returns an error wrapping
// ErrCommitConflict and leaves the stored metadata untouched. Any other error
// is a persistence failure.
type Operations interface {
	// Current returns the latest known metadata without forcing a reload.
	Current(ctx context.Context) (*iceberg.TableMetadata, error)
	// Refresh reloads the metadata from the backing store.
	Refresh(ctx context.Context) (*iceberg.TableMetadata, error)
	Commit(ctx context.Context, base, updated *iceberg.TableMetadata) error
}
