package iceberg

import (
	"context"
	"encoding/json"
	"fmt"
)

// Manifest entry status values.
const (
	StatusExisting = 0
	StatusAdded    = 1
	StatusDeleted  = 2
)

// ManifestEntry is one data file tracked by a manifest.
type ManifestEntry struct {
	Status     int      `json:"status"`
	SnapshotID uint64   `json:"snapshot-id"`
	DataFile   fileJSON `json:"data-file"`
}

// NewManifestEntry wraps f with the given status.
func NewManifestEntry(status int, snapshotID uint64, f DataFile) ManifestEntry {
	return ManifestEntry{Status: status, SnapshotID: snapshotID, DataFile: toFileJSON(f)}
}

func (e ManifestEntry) File() DataFile { return e.DataFile.dataFile() }

// EncodeManifest serializes manifest entries. Manifests are JSON documents.
func EncodeManifest(entries []ManifestEntry) ([]byte, error) {
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return data, nil
}

// DecodeManifest parses a manifest written by EncodeManifest.
func DecodeManifest(data []byte) ([]ManifestEntry, error) {
	var entries []ManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	return entries, nil
}

// ManifestReader loads the manifest stored at a location.
type ManifestReader func(ctx context.Context, location string) ([]byte, error)

// LiveFiles returns the data files visible in snapshot s: every file added or
// carried over by its manifests and not deleted by a later entry or by s
// itself.
func LiveFiles(ctx context.Context, s *Snapshot, read ManifestReader) ([]DataFile, error) {
	return liveFiles(ctx, s, read, func(path string) bool { return s.Deletes(path) })
}

// LiveFiles returns the data files visible in the current snapshot. Files
// that the current snapshot or one of its ancestors still in the history
// deleted are dropped even if no manifest recorded the deletion.
func (m *TableMetadata) LiveFiles(ctx context.Context, read ManifestReader) ([]DataFile, error) {
	current, ok := m.CurrentSnapshot()
	if !ok {
		return nil, nil
	}
	deleted := make(map[string]struct{})
	id := current.ID()
	// Bounded by the history length in case parent links form a cycle.
	for range m.snapshots {
		s, ok := m.SnapshotByID(id)
		if !ok {
			break
		}
		for _, f := range s.deletedFiles {
			deleted[f.Path] = struct{}{}
		}
		id = s.ParentID()
	}
	return liveFiles(ctx, current, read, func(path string) bool {
		_, ok := deleted[path]
		return ok
	})
}

func liveFiles(ctx context.Context, s *Snapshot, read ManifestReader, deleted func(path string) bool) ([]DataFile, error) {
	live := make(map[string]DataFile)
	listed := make(map[string]struct{})
	var order []string

	for _, loc := range s.manifests {
		data, err := read(ctx, loc)
		if err != nil {
			return nil, fmt.Errorf("reading manifest %s: %w", loc, err)
		}
		entries, err := DecodeManifest(data)
		if err != nil {
			return nil, fmt.Errorf("manifest %s: %w", loc, err)
		}
		for _, e := range entries {
			f := e.File()
			switch e.Status {
			case StatusAdded, StatusExisting:
				if _, ok := listed[f.Path]; !ok {
					listed[f.Path] = struct{}{}
					order = append(order, f.Path)
				}
				live[f.Path] = f
			case StatusDeleted:
				delete(live, f.Path)
			}
		}
	}

	files := make([]DataFile, 0, len(live))
	for _, p := range order {
		if f, ok := live[p]; ok && !deleted(p) {
			files = append(files, f)
		}
	}
	return files, nil
}
