package writer

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"

	"arctic-iceberg/catalog"
	"arctic-iceberg/iceberg"
	"arctic-iceberg/partition"
	"arctic-iceberg/schema"
	"arctic-iceberg/storage"
	"arctic-iceberg/table"
)

func eventsSchema() *schema.Schema {
	return schema.MustNew(
		schema.NestedField{ID: 1, Name: "id", Type: schema.Long, Required: true},
		schema.NestedField{ID: 2, Name: "ts", Type: schema.Timestamp},
		schema.NestedField{ID: 3, Name: "kind", Type: schema.String},
	)
}

func setup(t *testing.T, fields []partition.Field) (*catalog.Catalog, *storage.LocalStorage) {
	t.Helper()
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	md, err := catalog.NewTableMetadata(catalog.TableSpec{
		Location:  local.Location("db.events"),
		Schema:    eventsSchema(),
		Partition: fields,
	})
	require.NoError(t, err)

	c := catalog.New(catalog.NewMemoryStore())
	_, err = c.CreateTable(context.Background(), "db.events", md)
	require.NoError(t, err)
	return c, local
}

func day(s string) time.Time {
	ts, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return ts.Add(3 * time.Hour)
}

func TestFlushWritesOneFilePerPartition(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	c, local := setup(t, []partition.Field{partition.NewField(2, "ts_day", partition.Day())})
	w := New(c, local, nil)

	w.Append("db.events", map[string]any{"id": int64(1), "ts": day("2024-01-01"), "kind": "a"})
	w.Append("db.events", map[string]any{"id": int32(2), "ts": day("2024-01-02"), "kind": "b"})
	w.Append("db.events", map[string]any{"id": int64(3), "ts": day("2024-01-01"), "extra": true})
	req.Equal(3, w.Buffered("db.events"))

	req.NoError(w.Flush(ctx))
	req.Zero(w.Buffered("db.events"))

	tbl, err := c.LoadTable(ctx, "db.events")
	req.NoError(err)
	md, err := tbl.Metadata(ctx)
	req.NoError(err)
	snap, ok := md.CurrentSnapshot()
	req.True(ok)
	req.Equal(table.OpAppend, snap.Summary()["operation"])
	req.Equal("3", snap.Summary()["added-records"])
	req.Len(snap.Manifests(), 1)

	files, err := iceberg.LiveFiles(ctx, snap, func(ctx context.Context, loc string) ([]byte, error) {
		return storage.ReadLocation(ctx, local, loc)
	})
	req.NoError(err)
	req.Len(files, 2)

	records := map[string]int64{}
	for _, f := range files {
		req.Equal("parquet", f.Format)
		records[f.Partition["ts_day"]] = f.RecordCount

		data, err := storage.ReadLocation(ctx, local, f.Path)
		req.NoError(err)
		req.Equal(int64(len(data)), f.SizeBytes)
		pf, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
		req.NoError(err)
		req.Equal(f.RecordCount, pf.NumRows())
	}
	req.Equal(map[string]int64{"19723": 2, "19724": 1}, records)
}

func TestFlushAppendsSnapshots(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	c, local := setup(t, nil)
	w := New(c, local, nil)

	w.Append("db.events", map[string]any{"id": int64(1)})
	req.NoError(w.Flush(ctx))
	w.Append("db.events", map[string]any{"id": int64(2)})
	req.NoError(w.Flush(ctx))

	tbl, err := c.LoadTable(ctx, "db.events")
	req.NoError(err)
	md, err := tbl.Metadata(ctx)
	req.NoError(err)
	req.Len(md.Snapshots(), 2)

	snap, _ := md.CurrentSnapshot()
	req.Equal(md.Snapshots()[0].ID(), snap.ParentID())
	req.Len(snap.Manifests(), 2)

	files, err := iceberg.LiveFiles(ctx, snap, func(ctx context.Context, loc string) ([]byte, error) {
		return storage.ReadLocation(ctx, local, loc)
	})
	req.NoError(err)
	req.Len(files, 2)
	req.Nil(files[0].Partition)
}

func TestFlushKeepsRowsOnFailure(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	c, local := setup(t, nil)
	w := New(c, local, nil)

	w.Append("db.events", map[string]any{"kind": "no id"})
	w.Append("db.missing", map[string]any{"id": int64(1)})

	err := w.Flush(ctx)
	req.Error(err)
	req.ErrorIs(err, catalog.ErrNoSuchTable)
	req.Equal(1, w.Buffered("db.events"))
	req.Equal(1, w.Buffered("db.missing"))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		ft   schema.FieldType
		in   any
		want any
	}{
		{schema.Integer, int16(7), int32(7)},
		{schema.Long, int32(7), int64(7)},
		{schema.Double, float32(1.5), float64(1.5)},
		{schema.Date, time.Date(1969, 12, 31, 12, 0, 0, 0, time.UTC), int32(-1)},
		{schema.Timestamp, time.UnixMicro(1_700_000_000_000_000), int64(1_700_000_000_000_000)},
		{schema.UUID, [16]byte{0: 0x12, 15: 0x34}, "12000000-0000-0000-0000-000000000034"},
		{schema.String, 42, "42"},
		{schema.Boolean, nil, nil},
	}
	for _, tt := range tests {
		got, err := normalize(tt.ft, tt.in)
		require.NoError(t, err, "%s %v", tt.ft, tt.in)
		require.Equal(t, tt.want, got, "%s %v", tt.ft, tt.in)
	}

	_, err := normalize(schema.Long, "seven")
	require.Error(t, err)
}

func TestParquetSchemaRejectsNestedTypes(t *testing.T) {
	s := schema.MustNew(schema.NestedField{ID: 1, Name: "tags", Type: schema.List})
	_, err := parquetSchema(s)
	require.ErrorContains(t, err, "unsupported type list")
}
