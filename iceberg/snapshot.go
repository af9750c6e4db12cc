package iceberg

import (
	"maps"
	"math/rand"
	"slices"
)

// DataFile references a data file written into the table.
type DataFile struct {
	Path        string
	Format      string
	RecordCount int64
	SizeBytes   int64
	Partition   map[string]string
}

func (f DataFile) equals(o DataFile) bool {
	return f.Path == o.Path && f.Format == o.Format &&
		f.RecordCount == o.RecordCount && f.SizeBytes == o.SizeBytes &&
		maps.Equal(f.Partition, o.Partition)
}

func cloneFiles(files []DataFile) []DataFile {
	out := make([]DataFile, len(files))
	for i, f := range files {
		out[i] = f
		out[i].Partition = maps.Clone(f.Partition)
	}
	return out
}

// Snapshot is an immutable record of the table content as of a commit.
type Snapshot struct {
	id              uint64
	parentID        uint64
	timestampMillis uint64
	manifests       []string
	addedFiles      []DataFile
	deletedFiles    []DataFile
	summary         map[string]string
}

// SnapshotParams carries the fields of a new Snapshot.
type SnapshotParams struct {
	ID              uint64
	ParentID        uint64
	TimestampMillis uint64
	Manifests       []string
	AddedFiles      []DataFile
	DeletedFiles    []DataFile
	Summary         map[string]string
}

func NewSnapshot(p SnapshotParams) *Snapshot {
	return &Snapshot{
		id:              p.ID,
		parentID:        p.ParentID,
		timestampMillis: p.TimestampMillis,
		manifests:       slices.Clone(p.Manifests),
		addedFiles:      cloneFiles(p.AddedFiles),
		deletedFiles:    cloneFiles(p.DeletedFiles),
		summary:         maps.Clone(p.Summary),
	}
}

func (s *Snapshot) ID() uint64              { return s.id }
func (s *Snapshot) ParentID() uint64        { return s.parentID }
func (s *Snapshot) TimestampMillis() uint64 { return s.timestampMillis }
func (s *Snapshot) Manifests() []string     { return slices.Clone(s.manifests) }
func (s *Snapshot) AddedFiles() []DataFile  { return cloneFiles(s.addedFiles) }
func (s *Snapshot) DeletedFiles() []DataFile {
	return cloneFiles(s.deletedFiles)
}
func (s *Snapshot) Summary() map[string]string { return maps.Clone(s.summary) }

// Deletes reports whether this snapshot removed the file at path.
func (s *Snapshot) Deletes(path string) bool {
	for _, f := range s.deletedFiles {
		if f.Path == path {
			return true
		}
	}
	return false
}

func (s *Snapshot) Equals(o *Snapshot) bool {
	if s == o {
		return true
	}
	if s == nil || o == nil {
		return false
	}
	return s.id == o.id && s.parentID == o.parentID &&
		s.timestampMillis == o.timestampMillis &&
		slices.Equal(s.manifests, o.manifests) &&
		slices.EqualFunc(s.addedFiles, o.addedFiles, DataFile.equals) &&
		slices.EqualFunc(s.deletedFiles, o.deletedFiles, DataFile.equals) &&
		maps.Equal(s.summary, o.summary)
}

// GenerateSnapshotID returns a random positive id that fits in a signed 64-bit integer.
func GenerateSnapshotID() uint64 {
	return uint64(rand.Int63n(1<<62)) + 1
}
