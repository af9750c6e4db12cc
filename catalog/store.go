// Package catalog persists table metadata documents keyed by table name and
// implements table.Operations on top of them with version-token
// compare-and-swap.
package catalog

import (
	"context"
	"errors"
)

var (
	ErrNoSuchTable     = errors.New("no such table")
	ErrTableExists     = errors.New("table already exists")
	ErrVersionMismatch = errors.New("metadata version mismatch")
)

// Store keeps one metadata document per table together with a version that
// starts at 1 and grows by one on every successful Swap.
type Store interface {
	// Load returns the current document and its version, or ErrNoSuchTable.
	Load(ctx context.Context, name string) ([]byte, int64, error)
	// Create stores the first version of a table, or fails with ErrTableExists.
	Create(ctx context.Context, name string, doc []byte) error
	// Swap replaces the document only if the stored version is still
	// expected, failing with ErrVersionMismatch otherwise.
	Swap(ctx context.Context, name string, expected int64, doc []byte) error
	List(ctx context.Context) ([]string, error)
}
