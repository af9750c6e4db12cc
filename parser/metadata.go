// Package parser turns table metadata JSON documents into iceberg values.
// Parsing is all-or-nothing: on failure no metadata is returned, and the
// error is always an *Error describing the first problem found.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"

	"arctic-iceberg/iceberg"
	"arctic-iceberg/partition"
)

const (
	keyFormatVersion     = "format-version"
	keyTableUUID         = "table-uuid"
	keyLocation          = "location"
	keyLastUpdatedMillis = "last-updated-ms"
	keyLastColumnID      = "last-column-id"
	keyCurrentSnapshotID = "current-snapshot-id"
	keySchema            = "schema"
	keyPartitionSpec     = "partition-spec"
	keyProperties        = "properties"
	keySnapshots         = "snapshots"
)

// Parse parses a table metadata document.
func Parse(data []byte) (*iceberg.TableMetadata, error) {
	root, err := decodeObject(data, "")
	if err != nil {
		return nil, err
	}
	return parseMetadata(root)
}

// ParseString is Parse for a string document.
func ParseString(doc string) (*iceberg.TableMetadata, error) {
	return Parse([]byte(doc))
}

func parseMetadata(root object) (*iceberg.TableMetadata, error) {
	if err := checkFormatVersion(root); err != nil {
		return nil, err
	}

	var (
		p   iceberg.MetadataParams
		err error
	)
	if p.Location, err = root.String(keyLocation); err != nil {
		return nil, err
	}
	if p.LastColumnID, err = root.Uint32(keyLastColumnID); err != nil {
		return nil, err
	}
	if p.LastUpdatedMillis, err = root.Uint64(keyLastUpdatedMillis); err != nil {
		return nil, err
	}
	if p.CurrentSnapshotID, err = root.Uint64(keyCurrentSnapshotID); err != nil {
		return nil, err
	}
	if root.has(keyTableUUID) {
		if p.UUID, err = root.String(keyTableUUID); err != nil {
			return nil, err
		}
	}

	schemaObj, err := root.Object(keySchema)
	if err != nil {
		return nil, err
	}
	if p.Schema, err = parseSchema(schemaObj); err != nil {
		return nil, err
	}
	if p.LastColumnID < p.Schema.HighestFieldID() {
		return nil, invalidType(keyLastColumnID, fmt.Errorf("%d is below the highest field id %d",
			p.LastColumnID, p.Schema.HighestFieldID()))
	}

	p.Spec = partition.Unpartitioned
	if root.has(keyPartitionSpec) {
		arr, err := root.Array(keyPartitionSpec)
		if err != nil {
			return nil, err
		}
		if p.Spec, err = parsePartitionSpec(arr, keyPartitionSpec, p.Schema); err != nil {
			return nil, err
		}
	}

	if root.has(keyProperties) {
		if p.Properties, err = root.StringMap(keyProperties); err != nil {
			return nil, err
		}
	}

	if root.has(keySnapshots) {
		if p.Snapshots, err = parseSnapshots(root); err != nil {
			return nil, err
		}
		if p.CurrentSnapshotID != iceberg.NoSnapshot && !containsSnapshot(p.Snapshots, p.CurrentSnapshotID) {
			return nil, invalidType(keyCurrentSnapshotID,
				fmt.Errorf("snapshot %d is not in the snapshot history", p.CurrentSnapshotID))
		}
	}

	md, err := iceberg.NewTableMetadata(p)
	if err != nil {
		return nil, invalidType("", err)
	}
	return md, nil
}

func checkFormatVersion(root object) error {
	v, err := root.value(keyFormatVersion)
	if err != nil {
		return err
	}
	num, ok := v.(json.Number)
	if !ok {
		return invalidType(keyFormatVersion, wrongType("number", v))
	}
	version, err := parseSigned(num)
	if err != nil {
		return invalidType(keyFormatVersion, err)
	}
	if version != iceberg.FormatVersion {
		return unsupportedVersion(version)
	}
	return nil
}

func parseSnapshots(root object) ([]*iceberg.Snapshot, error) {
	arr, err := root.Array(keySnapshots)
	if err != nil {
		return nil, err
	}
	elems, err := elements(arr, keySnapshots)
	if err != nil {
		return nil, err
	}

	snapshots := make([]*iceberg.Snapshot, 0, len(elems))
	for _, el := range elems {
		s, err := parseSnapshot(el)
		if err != nil {
			return nil, err
		}
		if containsSnapshot(snapshots, s.ID()) {
			return nil, invalidType(el.qualify(keySnapshotID),
				errors.New("duplicate snapshot id"))
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, nil
}

func containsSnapshot(snapshots []*iceberg.Snapshot, id uint64) bool {
	for _, s := range snapshots {
		if s.ID() == id {
			return true
		}
	}
	return false
}
