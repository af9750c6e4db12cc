package iceberg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"arctic-iceberg/partition"
	"arctic-iceberg/schema"
)

func testSchema() *schema.Schema {
	return schema.MustNew(
		schema.NestedField{ID: 1, Name: "id", Type: schema.Integer},
		schema.NestedField{ID: 2, Name: "name", Type: schema.String, Required: true},
	)
}

func testMetadata(t *testing.T) *TableMetadata {
	t.Helper()
	s := testSchema()
	spec, err := partition.NewSpec(s, []partition.Field{partition.NewField(1, "id_bucket", partition.Bucket(4))})
	require.NoError(t, err)
	md, err := NewTableMetadata(MetadataParams{
		UUID:              "4b1c0a3e-7a2e-4a77-9c4e-1f0d5c1c0f00",
		Location:          "s3://bucket/warehouse/users",
		LastUpdatedMillis: 1723320520000,
		LastColumnID:      2,
		Schema:            s,
		Spec:              spec,
		Properties:        map[string]string{"owner": "etl"},
	})
	require.NoError(t, err)
	return md
}

func TestNewTableMetadataValidation(t *testing.T) {
	req := require.New(t)

	_, err := NewTableMetadata(MetadataParams{Location: "x"})
	req.ErrorIs(err, ErrInvalidMetadata)

	_, err = NewTableMetadata(MetadataParams{Schema: testSchema(), LastColumnID: 1})
	req.ErrorIs(err, ErrInvalidMetadata)

	snap := NewSnapshot(SnapshotParams{ID: 7})
	_, err = NewTableMetadata(MetadataParams{
		Schema: testSchema(), LastColumnID: 2,
		Snapshots: []*Snapshot{snap, snap},
	})
	req.ErrorIs(err, ErrInvalidMetadata)

	_, err = NewTableMetadata(MetadataParams{
		Schema: testSchema(), LastColumnID: 2,
		CurrentSnapshotID: 9,
		Snapshots:         []*Snapshot{snap},
	})
	req.ErrorIs(err, ErrInvalidMetadata)

	md, err := NewTableMetadata(MetadataParams{Schema: testSchema(), LastColumnID: 2})
	req.NoError(err)
	req.True(md.PartitionSpec().IsUnpartitioned())
	_, ok := md.CurrentSnapshot()
	req.False(ok)
}

func TestTableMetadataIsImmutable(t *testing.T) {
	req := require.New(t)
	props := map[string]string{"a": "1"}
	md, err := NewTableMetadata(MetadataParams{Schema: testSchema(), LastColumnID: 2, Properties: props})
	req.NoError(err)

	props["a"] = "changed"
	req.Equal("1", md.Properties()["a"])

	got := md.Properties()
	got["b"] = "2"
	_, ok := md.Property("b")
	req.False(ok)

	updated := md.WithProperties(map[string]string{"a": "3"}, 10)
	req.Equal("3", updated.Properties()["a"])
	req.Equal("1", md.Properties()["a"])
	req.Equal(uint64(10), updated.LastUpdatedMillis())
}

func TestWithSnapshotAndExpire(t *testing.T) {
	req := require.New(t)
	md := testMetadata(t)

	s1 := NewSnapshot(SnapshotParams{ID: 1, TimestampMillis: 100, Manifests: []string{"m1"}})
	md1, err := md.WithSnapshot(s1, 100)
	req.NoError(err)
	s2 := NewSnapshot(SnapshotParams{ID: 2, ParentID: 1, TimestampMillis: 200, Manifests: []string{"m1", "m2"}})
	md2, err := md1.WithSnapshot(s2, 200)
	req.NoError(err)

	req.Equal(uint64(2), md2.CurrentSnapshotID())
	req.Len(md2.Snapshots(), 2)
	req.Empty(md.Snapshots())

	cur, ok := md2.CurrentSnapshot()
	req.True(ok)
	req.Equal([]string{"m1", "m2"}, cur.Manifests())

	_, err = md2.WithSnapshot(s1, 300)
	req.ErrorIs(err, ErrInvalidMetadata)

	_, err = md2.WithoutSnapshots(map[uint64]struct{}{2: {}}, 300)
	req.ErrorIs(err, ErrInvalidMetadata)

	md3, err := md2.WithoutSnapshots(map[uint64]struct{}{1: {}}, 300)
	req.NoError(err)
	req.Len(md3.Snapshots(), 1)
	_, ok = md3.SnapshotByID(1)
	req.False(ok)
}

func TestTableMetadataEquals(t *testing.T) {
	req := require.New(t)
	a := testMetadata(t)
	b := testMetadata(t)
	req.True(a.Equals(b))
	req.False(a.Equals(a.WithProperties(map[string]string{"owner": "other"}, 0)))
	req.False(a.Equals(nil))
}

func TestMarshalJSON(t *testing.T) {
	req := require.New(t)
	md := testMetadata(t)
	s := NewSnapshot(SnapshotParams{
		ID:              5,
		TimestampMillis: 1723320520001,
		Manifests:       []string{"s3://bucket/warehouse/users/metadata/m.json"},
		AddedFiles:      []DataFile{{Path: "f.parquet", Format: "PARQUET", RecordCount: 3, SizeBytes: 10}},
		Summary:         map[string]string{"operation": "append"},
	})
	md, err := md.WithSnapshot(s, 1723320520001)
	req.NoError(err)

	data, err := json.Marshal(md)
	req.NoError(err)

	var doc map[string]any
	req.NoError(json.Unmarshal(data, &doc))
	req.Equal(float64(1), doc["format-version"])
	req.Equal("s3://bucket/warehouse/users", doc["location"])
	req.Equal(float64(5), doc["current-snapshot-id"])
	req.Equal(map[string]any{"owner": "etl"}, doc["properties"])

	fields := doc["schema"].(map[string]any)["fields"].([]any)
	req.Len(fields, 2)
	req.Equal(map[string]any{"id": float64(1), "name": "id", "type": "int", "required": false}, fields[0])

	spec := doc["partition-spec"].([]any)
	req.Equal(map[string]any{"source-id": float64(1), "transform": "bucket[4]", "name": "id_bucket"}, spec[0])

	snaps := doc["snapshots"].([]any)
	req.Len(snaps, 1)
	snap := snaps[0].(map[string]any)
	req.NotContains(snap, "parent-snapshot-id")
	req.Len(snap["added-files"], 1)
	req.NotContains(snap, "deleted-files")
}

func TestLiveFiles(t *testing.T) {
	req := require.New(t)
	a := DataFile{Path: "a.parquet", Format: "PARQUET", RecordCount: 1}
	b := DataFile{Path: "b.parquet", Format: "PARQUET", RecordCount: 2}
	c := DataFile{Path: "c.parquet", Format: "PARQUET", RecordCount: 3}

	manifests := map[string][]ManifestEntry{
		"m1": {NewManifestEntry(StatusAdded, 1, a), NewManifestEntry(StatusAdded, 1, b)},
		"m2": {NewManifestEntry(StatusDeleted, 2, a), NewManifestEntry(StatusAdded, 2, c)},
	}
	read := func(_ context.Context, loc string) ([]byte, error) {
		entries, ok := manifests[loc]
		if !ok {
			return nil, errors.New("not found")
		}
		return EncodeManifest(entries)
	}

	s := NewSnapshot(SnapshotParams{ID: 2, Manifests: []string{"m1", "m2"}})
	files, err := LiveFiles(context.Background(), s, read)
	req.NoError(err)
	req.Len(files, 2)
	req.Equal("b.parquet", files[0].Path)
	req.Equal("c.parquet", files[1].Path)

	rewrite := NewSnapshot(SnapshotParams{ID: 4, Manifests: []string{"m1"}, DeletedFiles: []DataFile{b}})
	files, err = LiveFiles(context.Background(), rewrite, read)
	req.NoError(err)
	req.Len(files, 1)
	req.Equal("a.parquet", files[0].Path)

	broken := NewSnapshot(SnapshotParams{ID: 3, Manifests: []string{"missing"}})
	_, err = LiveFiles(context.Background(), broken, read)
	req.Error(err)
}

func TestGenerateSnapshotID(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := GenerateSnapshotID()
		require.NotZero(t, id, fmt.Sprintf("iteration %d", i))
		require.Less(t, id, uint64(1)<<63)
	}
}
