package table

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"arctic-iceberg/iceberg"
)

// Snapshot operation names recorded in the snapshot summary.
const (
	OpAppend  = "append"
	OpRewrite = "rewrite"
	OpExpire  = "expire-snapshots"
)

// snapshotChange is the common part of updates that commit a new snapshot.
// The snapshot id is fixed at staging so that repeated Apply calls and
// re-staged attempts produce the same snapshot.
type snapshotChange struct {
	pending
	snapshotID uint64
	manifest   string
	added      []iceberg.DataFile
	deleted    []iceberg.DataFile
}

func newSnapshotChange(ops Operations, base *iceberg.TableMetadata, now func() time.Time) snapshotChange {
	return snapshotChange{pending: newPending(ops, base, now), snapshotID: iceberg.GenerateSnapshotID()}
}

// SnapshotID returns the id the committed snapshot will carry.
func (c *snapshotChange) SnapshotID() uint64 { return c.snapshotID }

func (c *snapshotChange) restaged(ops Operations) snapshotChange {
	next := snapshotChange{
		pending:    newPending(ops, c.base, c.now),
		snapshotID: c.snapshotID,
		manifest:   c.manifest,
		added:      slices.Clone(c.added),
		deleted:    slices.Clone(c.deleted),
	}
	if c.state != StateNew {
		next.state = StateStaged
	}
	return next
}

func (c *snapshotChange) nextMetadata(fresh *iceberg.TableMetadata, op string) (*iceberg.TableMetadata, error) {
	var (
		parentID  uint64
		manifests []string
	)
	if parent, ok := fresh.CurrentSnapshot(); ok {
		parentID = parent.ID()
		manifests = parent.Manifests()
	}
	if c.manifest != "" {
		manifests = append(manifests, c.manifest)
	}

	s := iceberg.NewSnapshot(iceberg.SnapshotParams{
		ID:              c.snapshotID,
		ParentID:        parentID,
		TimestampMillis: c.millis(),
		Manifests:       manifests,
		AddedFiles:      c.added,
		DeletedFiles:    c.deleted,
		Summary:         summary(op, c.added, c.deleted),
	})
	md, err := fresh.WithSnapshot(s, c.millis())
	if err != nil {
		return nil, fmt.Errorf("adding snapshot %d: %w", c.snapshotID, err)
	}
	return md, nil
}

func summary(op string, added, deleted []iceberg.DataFile) map[string]string {
	var addedRecords, deletedRecords int64
	for _, f := range added {
		addedRecords += f.RecordCount
	}
	for _, f := range deleted {
		deletedRecords += f.RecordCount
	}
	return map[string]string{
		"operation":          op,
		"added-data-files":   strconv.Itoa(len(added)),
		"deleted-data-files": strconv.Itoa(len(deleted)),
		"added-records":      strconv.FormatInt(addedRecords, 10),
		"deleted-records":    strconv.FormatInt(deletedRecords, 10),
	}
}

// AppendFiles commits a snapshot that adds data files on top of the current
// snapshot.
type AppendFiles struct {
	snapshotChange
}

func NewAppendFiles(ops Operations, base *iceberg.TableMetadata) *AppendFiles {
	return &AppendFiles{newSnapshotChange(ops, base, nil)}
}

func (a *AppendFiles) AppendFile(f iceberg.DataFile) *AppendFiles {
	if a.stage() {
		a.added = append(a.added, f)
	}
	return a
}

// WithManifest sets the manifest location listing the appended files.
func (a *AppendFiles) WithManifest(location string) *AppendFiles {
	if a.stage() {
		a.manifest = location
	}
	return a
}

func (a *AppendFiles) Apply(ctx context.Context) (*iceberg.TableMetadata, error) {
	_, md, err := a.apply(ctx, a.compute)
	return md, err
}

func (a *AppendFiles) Commit(ctx context.Context) (*iceberg.TableMetadata, error) {
	return a.commit(ctx, a.operation(), a.compute)
}

func (a *AppendFiles) Restage() PendingUpdate {
	return &AppendFiles{a.restaged(a.ops)}
}

func (a *AppendFiles) operation() string { return OpAppend }

func (a *AppendFiles) compute(fresh *iceberg.TableMetadata) (*iceberg.TableMetadata, error) {
	return a.nextMetadata(fresh, OpAppend)
}

// RewriteFiles commits a snapshot that replaces one set of data files with
// another. It conflicts when a snapshot committed after staging already
// deleted one of the files it wants to delete. Deleting files requires a
// manifest with StatusDeleted entries for them.
type RewriteFiles struct {
	snapshotChange
}

func NewRewriteFiles(ops Operations, base *iceberg.TableMetadata) *RewriteFiles {
	return &RewriteFiles{newSnapshotChange(ops, base, nil)}
}

func (r *RewriteFiles) DeleteFile(f iceberg.DataFile) *RewriteFiles {
	if r.stage() {
		r.deleted = append(r.deleted, f)
	}
	return r
}

func (r *RewriteFiles) AddFile(f iceberg.DataFile) *RewriteFiles {
	if r.stage() {
		r.added = append(r.added, f)
	}
	return r
}

// WithManifest sets the manifest location recording the rewrite.
func (r *RewriteFiles) WithManifest(location string) *RewriteFiles {
	if r.stage() {
		r.manifest = location
	}
	return r
}

func (r *RewriteFiles) Apply(ctx context.Context) (*iceberg.TableMetadata, error) {
	_, md, err := r.apply(ctx, r.compute)
	return md, err
}

func (r *RewriteFiles) Commit(ctx context.Context) (*iceberg.TableMetadata, error) {
	return r.commit(ctx, r.operation(), r.compute)
}

func (r *RewriteFiles) Restage() PendingUpdate {
	return &RewriteFiles{r.restaged(r.ops)}
}

func (r *RewriteFiles) operation() string { return OpRewrite }

func (r *RewriteFiles) compute(fresh *iceberg.TableMetadata) (*iceberg.TableMetadata, error) {
	if conflicts := r.alreadyDeleted(fresh); len(conflicts) > 0 {
		return nil, &FileConflictError{Paths: conflicts}
	}
	// Deletions only survive expiry of this snapshot through a manifest.
	if len(r.deleted) > 0 && r.manifest == "" {
		return nil, ErrManifestRequired
	}
	return r.nextMetadata(fresh, OpRewrite)
}

// alreadyDeleted walks the snapshots committed since staging, newest first,
// and returns the staged deletions that one of them already performed.
func (r *RewriteFiles) alreadyDeleted(fresh *iceberg.TableMetadata) []string {
	var stop uint64
	if r.base != nil {
		stop = r.base.CurrentSnapshotID()
	}

	var paths []string
	id := fresh.CurrentSnapshotID()
	for id != iceberg.NoSnapshot && id != stop {
		s, ok := fresh.SnapshotByID(id)
		if !ok {
			break
		}
		for _, f := range r.deleted {
			if s.Deletes(f.Path) && !slices.Contains(paths, f.Path) {
				paths = append(paths, f.Path)
			}
		}
		id = s.ParentID()
	}
	slices.Sort(paths)
	return paths
}

// ExpireSnapshots removes snapshots from the history. The current snapshot
// is kept by ExpireOlderThan and rejected by ExpireSnapshotID.
type ExpireSnapshots struct {
	pending
	ids       map[uint64]struct{}
	olderThan uint64
}

func NewExpireSnapshots(ops Operations, base *iceberg.TableMetadata) *ExpireSnapshots {
	return &ExpireSnapshots{pending: newPending(ops, base, nil), ids: make(map[uint64]struct{})}
}

func (e *ExpireSnapshots) ExpireSnapshotID(id uint64) *ExpireSnapshots {
	if e.stage() {
		e.ids[id] = struct{}{}
	}
	return e
}

// ExpireOlderThan expires snapshots with a timestamp strictly before millis.
func (e *ExpireSnapshots) ExpireOlderThan(millis uint64) *ExpireSnapshots {
	if e.stage() {
		e.olderThan = millis
	}
	return e
}

func (e *ExpireSnapshots) Apply(ctx context.Context) (*iceberg.TableMetadata, error) {
	_, md, err := e.apply(ctx, e.compute)
	return md, err
}

func (e *ExpireSnapshots) Commit(ctx context.Context) (*iceberg.TableMetadata, error) {
	return e.commit(ctx, e.operation(), e.compute)
}

func (e *ExpireSnapshots) Restage() PendingUpdate {
	next := NewExpireSnapshots(e.ops, e.base)
	next.now = e.now
	next.stagedAt = e.now()
	for id := range e.ids {
		next.ids[id] = struct{}{}
	}
	next.olderThan = e.olderThan
	if e.state != StateNew {
		next.state = StateStaged
	}
	return next
}

func (e *ExpireSnapshots) operation() string { return OpExpire }

func (e *ExpireSnapshots) compute(fresh *iceberg.TableMetadata) (*iceberg.TableMetadata, error) {
	expired := make(map[uint64]struct{})
	for _, s := range fresh.Snapshots() {
		if _, ok := e.ids[s.ID()]; ok {
			expired[s.ID()] = struct{}{}
			continue
		}
		if s.TimestampMillis() < e.olderThan && s.ID() != fresh.CurrentSnapshotID() {
			expired[s.ID()] = struct{}{}
		}
	}
	return fresh.WithoutSnapshots(expired, e.millis())
}
