package parser

import (
	"arctic-iceberg/iceberg"
)

const (
	keySnapshotID       = "snapshot-id"
	keyParentSnapshotID = "parent-snapshot-id"
	keyTimestampMillis  = "timestamp-ms"
	keyManifests        = "manifests"
	keyAddedFiles       = "added-files"
	keyDeletedFiles     = "deleted-files"
	keySummary          = "summary"

	keyFilePath    = "file-path"
	keyFileFormat  = "file-format"
	keyRecordCount = "record-count"
	keyFileSize    = "file-size-in-bytes"
	keyPartition   = "partition"
)

// ParseSnapshot parses a single snapshot entry outside of table metadata.
func ParseSnapshot(data []byte) (*iceberg.Snapshot, error) {
	obj, err := decodeObject(data, "")
	if err != nil {
		return nil, err
	}
	return parseSnapshot(obj)
}

func parseSnapshot(obj object) (*iceberg.Snapshot, error) {
	var (
		p   iceberg.SnapshotParams
		err error
	)
	if p.ID, err = obj.Uint64(keySnapshotID); err != nil {
		return nil, err
	}
	if obj.has(keyParentSnapshotID) {
		if p.ParentID, err = obj.Uint64(keyParentSnapshotID); err != nil {
			return nil, err
		}
	}
	if p.TimestampMillis, err = obj.Uint64(keyTimestampMillis); err != nil {
		return nil, err
	}
	if p.Manifests, err = obj.StringArray(keyManifests); err != nil {
		return nil, err
	}
	if p.AddedFiles, err = parseFiles(obj, keyAddedFiles); err != nil {
		return nil, err
	}
	if p.DeletedFiles, err = parseFiles(obj, keyDeletedFiles); err != nil {
		return nil, err
	}
	if obj.has(keySummary) {
		if p.Summary, err = obj.StringMap(keySummary); err != nil {
			return nil, err
		}
	}
	return iceberg.NewSnapshot(p), nil
}

func parseFiles(obj object, field string) ([]iceberg.DataFile, error) {
	if !obj.has(field) {
		return nil, nil
	}
	arr, err := obj.Array(field)
	if err != nil {
		return nil, err
	}
	elems, err := elements(arr, obj.qualify(field))
	if err != nil {
		return nil, err
	}

	files := make([]iceberg.DataFile, 0, len(elems))
	for _, el := range elems {
		var f iceberg.DataFile
		if f.Path, err = el.String(keyFilePath); err != nil {
			return nil, err
		}
		if f.Format, err = el.String(keyFileFormat); err != nil {
			return nil, err
		}
		if f.RecordCount, err = el.Int64(keyRecordCount); err != nil {
			return nil, err
		}
		if f.SizeBytes, err = el.Int64(keyFileSize); err != nil {
			return nil, err
		}
		if el.has(keyPartition) {
			if f.Partition, err = el.StringMap(keyPartition); err != nil {
				return nil, err
			}
		}
		files = append(files, f)
	}
	return files, nil
}
