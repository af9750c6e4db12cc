package table

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCommitConflict reports that the table changed under a pending update.
	ErrCommitConflict = errors.New("commit conflict")

	// ErrUpdateConsumed is returned when a pending update that already made
	// its single commit attempt is used again.
	ErrUpdateConsumed = errors.New("pending update already committed or failed")

	// ErrManifestRequired is returned when a rewrite deletes files without a
	// manifest recording the deletions.
	ErrManifestRequired = errors.New("rewrite deleting files needs a manifest")
)

// PropertyConflictError reports keys that this update touched and that
// another writer changed after the update was staged.
type PropertyConflictError struct {
	Keys []string
}

func (e *PropertyConflictError) Error() string {
	return fmt.Sprintf("%v: properties changed concurrently: %s", ErrCommitConflict, strings.Join(e.Keys, ", "))
}

func (e *PropertyConflictError) Unwrap() error { return ErrCommitConflict }

// FileConflictError reports data files that a rewrite wants to delete but
// that a snapshot committed after staging already removed.
type FileConflictError struct {
	Paths []string
}

func (e *FileConflictError) Error() string {
	return fmt.Sprintf("%v: files already deleted: %s", ErrCommitConflict, strings.Join(e.Paths, ", "))
}

func (e *FileConflictError) Unwrap() error { return ErrCommitConflict }

// CommitFailedError wraps a persistence failure of the collaborator.
type CommitFailedError struct {
	Err error
}

func (e *CommitFailedError) Error() string {
	return fmt.Sprintf("commit failed: %v", e.Err)
}

func (e *CommitFailedError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a stale-base conflict that re-staging
// against fresh metadata can resolve.
func IsRetryable(err error) bool {
	if !errors.Is(err, ErrCommitConflict) {
		return false
	}
	var (
		pce *PropertyConflictError
		fce *FileConflictError
		cfe *CommitFailedError
	)
	return !errors.As(err, &pce) && !errors.As(err, &fce) && !errors.As(err, &cfe)
}
