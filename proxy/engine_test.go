package proxy

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"arctic-iceberg/catalog"
	"arctic-iceberg/iceberg"
	"arctic-iceberg/partition"
	"arctic-iceberg/schema"
	"arctic-iceberg/storage"
	"arctic-iceberg/writer"
)

func newOrdersTable(t *testing.T) (*catalog.Catalog, *storage.LocalStorage) {
	t.Helper()
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	cat := catalog.New(catalog.NewMemoryStore())

	md, err := catalog.NewTableMetadata(catalog.TableSpec{
		Location: local.Location("public.orders"),
		Schema: schema.MustNew(
			schema.NestedField{ID: 1, Name: "id", Type: schema.Long, Required: true},
			schema.NestedField{ID: 2, Name: "placed", Type: schema.Date},
			schema.NestedField{ID: 3, Name: "item", Type: schema.String},
		),
		Partition: []partition.Field{partition.NewField(2, "placed_month", partition.Month())},
	})
	require.NoError(t, err)
	_, err = cat.CreateTable(context.Background(), "public.orders", md)
	require.NoError(t, err)
	return cat, local
}

func newTestEngine(t *testing.T) (*Engine, *writer.Writer) {
	t.Helper()
	cat, local := newOrdersTable(t)
	engine, err := NewEngine(cat, local, nil)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	return engine, writer.New(cat, local, nil)
}

func count(t *testing.T, e *Engine, query string) int64 {
	t.Helper()
	rows, err := e.Query(context.Background(), query)
	require.NoError(t, err)
	defer rows.Close()

	require.True(t, rows.Next())
	var n int64
	require.NoError(t, rows.Scan(&n))
	return n
}

func TestEngineQueriesEmptyTable(t *testing.T) {
	e, _ := newTestEngine(t)
	require.Equal(t, int64(0), count(t, e, "SELECT count(*) FROM public.orders"))

	rows, err := e.Query(context.Background(), "SELECT id, placed, item FROM public.orders")
	require.NoError(t, err)
	defer rows.Close()
	cols, err := rows.Columns()
	require.NoError(t, err)
	require.Equal(t, []string{"id", "placed", "item"}, cols)
	require.False(t, rows.Next())
}

func TestEngineFollowsNewSnapshots(t *testing.T) {
	ctx := context.Background()
	e, w := newTestEngine(t)
	require.Equal(t, int64(0), count(t, e, "SELECT count(*) FROM public.orders"))

	w.Append("public.orders", map[string]any{"id": int64(1), "placed": time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), "item": "pen"})
	w.Append("public.orders", map[string]any{"id": int64(2), "placed": time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC), "item": "ink"})
	require.NoError(t, w.Flush(ctx))
	require.Equal(t, int64(2), count(t, e, "SELECT count(*) FROM public.orders"))

	w.Append("public.orders", map[string]any{"id": int64(3), "placed": time.Date(2024, 2, 6, 0, 0, 0, 0, time.UTC), "item": "pad"})
	require.NoError(t, w.Flush(ctx))
	require.Equal(t, int64(3), count(t, e, "SELECT count(*) FROM public.orders"))
	require.Equal(t, int64(1), count(t, e, "SELECT count(*) FROM public.orders WHERE item = 'ink'"))
}

func TestEngineHidesRewrittenFiles(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	cat, local := newOrdersTable(t)
	e, err := NewEngine(cat, local, nil)
	req.NoError(err)
	t.Cleanup(func() { e.Close() })

	w := writer.New(cat, local, nil)
	w.Append("public.orders", map[string]any{"id": int64(1), "placed": time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), "item": "pen"})
	w.Append("public.orders", map[string]any{"id": int64(2), "placed": time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC), "item": "ink"})
	req.NoError(w.Flush(ctx))
	req.Equal(int64(2), count(t, e, "SELECT count(*) FROM public.orders"))

	tbl, err := cat.LoadTable(ctx, "public.orders")
	req.NoError(err)
	md, err := tbl.Metadata(ctx)
	req.NoError(err)
	read := func(ctx context.Context, loc string) ([]byte, error) {
		return storage.ReadLocation(ctx, local, loc)
	}
	files, err := md.LiveFiles(ctx, read)
	req.NoError(err)
	req.Len(files, 2)

	// The rewrite manifest does not list the deletion.
	manifest, err := iceberg.EncodeManifest([]iceberg.ManifestEntry{})
	req.NoError(err)
	req.NoError(local.Write(ctx, "public.orders/metadata/rewrite.json", bytes.NewReader(manifest)))

	r, err := tbl.NewRewrite(ctx)
	req.NoError(err)
	r.DeleteFile(files[0]).WithManifest(local.Location("public.orders/metadata/rewrite.json"))
	_, err = tbl.Commit(ctx, r)
	req.NoError(err)

	req.Equal(int64(1), count(t, e, "SELECT count(*) FROM public.orders"))
}

func TestEngineRejectsEmptyQuery(t *testing.T) {
	e, _ := newTestEngine(t)
	for _, q := range []string{"", "  ", ";", " ; "} {
		_, err := e.Query(context.Background(), q)
		require.ErrorIs(t, err, ErrEmptyQuery, "query %q", q)
	}
}

func TestDuckType(t *testing.T) {
	require.Equal(t, "BIGINT", duckType(schema.Long))
	require.Equal(t, "TIMESTAMPTZ", duckType(schema.TimestampTZ))
	require.Equal(t, "DOUBLE", duckType(schema.Decimal))
	require.Equal(t, "VARCHAR", duckType(schema.UUID))
	require.Equal(t, `"a""b"`, quoteIdent(`a"b`))
	require.Equal(t, `'it''s'`, quoteLiteral("it's"))
}
