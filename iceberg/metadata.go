package iceberg

import (
	"errors"
	"fmt"
	"maps"

	"arctic-iceberg/partition"
	"arctic-iceberg/schema"
)

// FormatVersion is the only table format version this package reads or writes.
const FormatVersion = 1

// NoSnapshot is the current snapshot id of a table without snapshots.
const NoSnapshot uint64 = 0

var ErrInvalidMetadata = errors.New("invalid table metadata")

// TableMetadata is an immutable description of a table at a point in time.
// Every change produces a new value through one of the With methods.
type TableMetadata struct {
	uuid              string
	location          string
	lastUpdatedMillis uint64
	lastColumnID      uint32
	currentSnapshotID uint64
	schema            *schema.Schema
	spec              *partition.Spec
	properties        map[string]string
	snapshots         []*Snapshot
}

// MetadataParams carries the fields of a new TableMetadata.
type MetadataParams struct {
	UUID              string
	Location          string
	LastUpdatedMillis uint64
	LastColumnID      uint32
	CurrentSnapshotID uint64
	Schema            *schema.Schema
	Spec              *partition.Spec
	Properties        map[string]string
	Snapshots         []*Snapshot
}

// NewTableMetadata validates p and builds a TableMetadata owning copies of its
// maps and slices.
func NewTableMetadata(p MetadataParams) (*TableMetadata, error) {
	if p.Schema == nil {
		return nil, fmt.Errorf("%w: schema is required", ErrInvalidMetadata)
	}
	if p.LastColumnID < p.Schema.HighestFieldID() {
		return nil, fmt.Errorf("%w: last-column-id %d is below highest field id %d",
			ErrInvalidMetadata, p.LastColumnID, p.Schema.HighestFieldID())
	}
	spec := p.Spec
	if spec == nil {
		spec = partition.Unpartitioned
	}

	seen := make(map[uint64]struct{}, len(p.Snapshots))
	for _, s := range p.Snapshots {
		if s == nil {
			return nil, fmt.Errorf("%w: nil snapshot", ErrInvalidMetadata)
		}
		if _, dup := seen[s.ID()]; dup {
			return nil, fmt.Errorf("%w: duplicate snapshot id %d", ErrInvalidMetadata, s.ID())
		}
		seen[s.ID()] = struct{}{}
	}
	if p.CurrentSnapshotID != NoSnapshot && len(p.Snapshots) > 0 {
		if _, ok := seen[p.CurrentSnapshotID]; !ok {
			return nil, fmt.Errorf("%w: current snapshot %d is not in history", ErrInvalidMetadata, p.CurrentSnapshotID)
		}
	}

	props := make(map[string]string, len(p.Properties))
	maps.Copy(props, p.Properties)

	return &TableMetadata{
		uuid:              p.UUID,
		location:          p.Location,
		lastUpdatedMillis: p.LastUpdatedMillis,
		lastColumnID:      p.LastColumnID,
		currentSnapshotID: p.CurrentSnapshotID,
		schema:            p.Schema,
		spec:              spec,
		properties:        props,
		snapshots:         append([]*Snapshot(nil), p.Snapshots...),
	}, nil
}

func (m *TableMetadata) FormatVersion() int              { return FormatVersion }
func (m *TableMetadata) UUID() string                    { return m.uuid }
func (m *TableMetadata) Location() string                { return m.location }
func (m *TableMetadata) LastUpdatedMillis() uint64       { return m.lastUpdatedMillis }
func (m *TableMetadata) LastColumnID() uint32            { return m.lastColumnID }
func (m *TableMetadata) CurrentSnapshotID() uint64       { return m.currentSnapshotID }
func (m *TableMetadata) Schema() *schema.Schema          { return m.schema }
func (m *TableMetadata) PartitionSpec() *partition.Spec { return m.spec }

// Properties returns a copy of the table properties.
func (m *TableMetadata) Properties() map[string]string {
	return maps.Clone(m.properties)
}

// Property returns a single property value.
func (m *TableMetadata) Property(key string) (string, bool) {
	v, ok := m.properties[key]
	return v, ok
}

// Snapshots returns the snapshot history, oldest first.
func (m *TableMetadata) Snapshots() []*Snapshot {
	return append([]*Snapshot(nil), m.snapshots...)
}

// SnapshotByID finds a snapshot in the history.
func (m *TableMetadata) SnapshotByID(id uint64) (*Snapshot, bool) {
	for _, s := range m.snapshots {
		if s.ID() == id {
			return s, true
		}
	}
	return nil, false
}

// CurrentSnapshot returns the current snapshot if it is present in the history.
func (m *TableMetadata) CurrentSnapshot() (*Snapshot, bool) {
	if m.currentSnapshotID == NoSnapshot {
		return nil, false
	}
	return m.SnapshotByID(m.currentSnapshotID)
}

func (m *TableMetadata) params() MetadataParams {
	return MetadataParams{
		UUID:              m.uuid,
		Location:          m.location,
		LastUpdatedMillis: m.lastUpdatedMillis,
		LastColumnID:      m.lastColumnID,
		CurrentSnapshotID: m.currentSnapshotID,
		Schema:            m.schema,
		Spec:              m.spec,
		Properties:        m.properties,
		Snapshots:         m.snapshots,
	}
}

// WithProperties returns a copy of m with its properties replaced.
func (m *TableMetadata) WithProperties(props map[string]string, updatedMillis uint64) *TableMetadata {
	p := m.params()
	p.Properties = props
	p.LastUpdatedMillis = max(updatedMillis, m.lastUpdatedMillis)
	out, err := NewTableMetadata(p)
	if err != nil {
		// m was valid and properties carry no invariants.
		panic(err)
	}
	return out
}

// WithSnapshot returns a copy of m with s appended to the history and made current.
func (m *TableMetadata) WithSnapshot(s *Snapshot, updatedMillis uint64) (*TableMetadata, error) {
	p := m.params()
	p.Snapshots = append(append([]*Snapshot(nil), m.snapshots...), s)
	p.CurrentSnapshotID = s.ID()
	p.LastUpdatedMillis = max(updatedMillis, m.lastUpdatedMillis)
	return NewTableMetadata(p)
}

// WithoutSnapshots returns a copy of m without the snapshots whose ids are in
// expired. The current snapshot cannot be removed.
func (m *TableMetadata) WithoutSnapshots(expired map[uint64]struct{}, updatedMillis uint64) (*TableMetadata, error) {
	if _, ok := expired[m.currentSnapshotID]; ok && m.currentSnapshotID != NoSnapshot {
		return nil, fmt.Errorf("%w: cannot expire current snapshot %d", ErrInvalidMetadata, m.currentSnapshotID)
	}
	p := m.params()
	p.Snapshots = make([]*Snapshot, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		if _, ok := expired[s.ID()]; !ok {
			p.Snapshots = append(p.Snapshots, s)
		}
	}
	p.LastUpdatedMillis = max(updatedMillis, m.lastUpdatedMillis)
	return NewTableMetadata(p)
}

// Equals reports whether both values describe the same table state.
func (m *TableMetadata) Equals(other *TableMetadata) bool {
	if m == other {
		return true
	}
	if m == nil || other == nil {
		return false
	}
	if m.uuid != other.uuid || m.location != other.location ||
		m.lastUpdatedMillis != other.lastUpdatedMillis ||
		m.lastColumnID != other.lastColumnID ||
		m.currentSnapshotID != other.currentSnapshotID ||
		!m.schema.Equals(other.schema) ||
		!m.spec.Equals(other.spec) ||
		!maps.Equal(m.properties, other.properties) ||
		len(m.snapshots) != len(other.snapshots) {
		return false
	}
	for i := range m.snapshots {
		if !m.snapshots[i].Equals(other.snapshots[i]) {
			return false
		}
	}
	return true
}
