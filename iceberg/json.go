package iceberg

import (
	"encoding/json"
	"maps"
)

// Wire format of the metadata JSON document. Field names must not change.

type metadataJSON struct {
	FormatVersion     int               `json:"format-version"`
	TableUUID         string            `json:"table-uuid,omitempty"`
	Location          string            `json:"location"`
	LastUpdatedMillis uint64            `json:"last-updated-ms"`
	LastColumnID      uint32            `json:"last-column-id"`
	CurrentSnapshotID uint64            `json:"current-snapshot-id"`
	Schema            schemaJSON        `json:"schema"`
	PartitionSpec     []partitionJSON   `json:"partition-spec"`
	Properties        map[string]string `json:"properties"`
	Snapshots         []snapshotJSON    `json:"snapshots,omitempty"`
}

type schemaJSON struct {
	Fields []fieldJSON `json:"fields"`
}

type fieldJSON struct {
	ID       uint32 `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

type partitionJSON struct {
	SourceID  uint32 `json:"source-id"`
	Transform string `json:"transform"`
	Name      string `json:"name"`
}

type snapshotJSON struct {
	SnapshotID       uint64            `json:"snapshot-id"`
	ParentSnapshotID uint64            `json:"parent-snapshot-id,omitempty"`
	TimestampMillis  uint64            `json:"timestamp-ms"`
	Manifests        []string          `json:"manifests"`
	AddedFiles       []fileJSON        `json:"added-files,omitempty"`
	DeletedFiles     []fileJSON        `json:"deleted-files,omitempty"`
	Summary          map[string]string `json:"summary,omitempty"`
}

type fileJSON struct {
	FilePath      string            `json:"file-path"`
	FileFormat    string            `json:"file-format"`
	RecordCount   int64             `json:"record-count"`
	FileSizeBytes int64             `json:"file-size-in-bytes"`
	Partition     map[string]string `json:"partition,omitempty"`
}

func toFileJSON(f DataFile) fileJSON {
	return fileJSON{
		FilePath:      f.Path,
		FileFormat:    f.Format,
		RecordCount:   f.RecordCount,
		FileSizeBytes: f.SizeBytes,
		Partition:     maps.Clone(f.Partition),
	}
}

func (f fileJSON) dataFile() DataFile {
	return DataFile{
		Path:        f.FilePath,
		Format:      f.FileFormat,
		RecordCount: f.RecordCount,
		SizeBytes:   f.FileSizeBytes,
		Partition:   maps.Clone(f.Partition),
	}
}

func filesJSON(files []DataFile) []fileJSON {
	if len(files) == 0 {
		return nil
	}
	out := make([]fileJSON, len(files))
	for i, f := range files {
		out[i] = toFileJSON(f)
	}
	return out
}

// MarshalJSON encodes the metadata as the table metadata document.
func (m *TableMetadata) MarshalJSON() ([]byte, error) {
	doc := metadataJSON{
		FormatVersion:     FormatVersion,
		TableUUID:         m.uuid,
		Location:          m.location,
		LastUpdatedMillis: m.lastUpdatedMillis,
		LastColumnID:      m.lastColumnID,
		CurrentSnapshotID: m.currentSnapshotID,
		Schema:            schemaJSON{Fields: make([]fieldJSON, 0, m.schema.Len())},
		PartitionSpec:     make([]partitionJSON, 0, m.spec.Len()),
		Properties:        m.properties,
	}
	if doc.Properties == nil {
		doc.Properties = map[string]string{}
	}
	for _, f := range m.schema.Fields() {
		doc.Schema.Fields = append(doc.Schema.Fields, fieldJSON{
			ID:       f.ID,
			Name:     f.Name,
			Type:     f.TypeName(),
			Required: f.Required,
		})
	}
	for _, f := range m.spec.Fields() {
		doc.PartitionSpec = append(doc.PartitionSpec, partitionJSON{
			SourceID:  f.SourceID,
			Transform: f.Transform.String(),
			Name:      f.Name,
		})
	}
	for _, s := range m.snapshots {
		doc.Snapshots = append(doc.Snapshots, s.toJSON())
	}
	return json.Marshal(doc)
}

func (s *Snapshot) toJSON() snapshotJSON {
	manifests := s.manifests
	if manifests == nil {
		manifests = []string{}
	}
	return snapshotJSON{
		SnapshotID:       s.id,
		ParentSnapshotID: s.parentID,
		TimestampMillis:  s.timestampMillis,
		Manifests:        manifests,
		AddedFiles:       filesJSON(s.addedFiles),
		DeletedFiles:     filesJSON(s.deletedFiles),
		Summary:          s.summary,
	}
}

// MarshalJSON encodes a single snapshot entry of the metadata document.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.toJSON())
}
