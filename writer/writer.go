// Package writer turns buffered rows into parquet data files and commits them
// to their tables as append snapshots.
package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"arctic-iceberg/iceberg"
	"arctic-iceberg/metrics"
	"arctic-iceberg/partition"
	"arctic-iceberg/schema"
	"arctic-iceberg/storage"
	"arctic-iceberg/table"
)

const fileFormat = "parquet"

// Tables resolves a table name; *catalog.Catalog implements it.
type Tables interface {
	LoadTable(ctx context.Context, name string) (*table.Table, error)
}

type Writer struct {
	tables  Tables
	storage storage.Storage
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string][]map[string]any
}

func New(tables Tables, s storage.Storage, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		tables:  tables,
		storage: s,
		logger:  logger.With("component", "writer"),
		pending: make(map[string][]map[string]any),
	}
}

// Append buffers a row, keyed by column name, for table name. Rows become
// visible to readers after the next successful Flush.
func (w *Writer) Append(name string, row map[string]any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[name] = append(w.pending[name], row)
}

// Buffered returns the number of rows waiting for table name.
func (w *Writer) Buffered(name string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending[name])
}

// Flush writes the buffered rows of every table and commits one append
// snapshot per table. Rows of a table whose flush fails stay buffered.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string][]map[string]any)
	w.mu.Unlock()

	names := make([]string, 0, len(pending))
	for name := range pending {
		names = append(names, name)
	}
	slices.Sort(names)

	var errs []error
	for _, name := range names {
		rows := pending[name]
		if err := w.flushTable(ctx, name, rows); err != nil {
			errs = append(errs, fmt.Errorf("flushing %s: %w", name, err))
			w.requeue(name, rows)
		}
	}
	return errors.Join(errs...)
}

func (w *Writer) requeue(name string, rows []map[string]any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[name] = append(rows, w.pending[name]...)
}

func (w *Writer) flushTable(ctx context.Context, name string, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}

	tbl, err := w.tables.LoadTable(ctx, name)
	if err != nil {
		return err
	}
	md, err := tbl.Metadata(ctx)
	if err != nil {
		return err
	}
	root, err := w.storage.Path(md.Location())
	if err != nil {
		return fmt.Errorf("resolving table location: %w", err)
	}
	pschema, err := parquetSchema(md.Schema())
	if err != nil {
		return err
	}
	groups, err := groupRows(md.Schema(), md.PartitionSpec(), rows)
	if err != nil {
		return err
	}

	app, err := tbl.NewAppend(ctx)
	if err != nil {
		return err
	}
	entries := make([]iceberg.ManifestEntry, 0, len(groups))
	for _, g := range groups {
		f, err := w.writeDataFile(ctx, root, pschema, g)
		if err != nil {
			return err
		}
		app.AppendFile(f)
		entries = append(entries, iceberg.NewManifestEntry(iceberg.StatusAdded, app.SnapshotID(), f))
	}

	manifest, err := w.writeManifest(ctx, root, entries)
	if err != nil {
		return err
	}
	app.WithManifest(manifest)

	committed, err := tbl.Commit(ctx, app)
	if err != nil {
		return err
	}

	metrics.DataFilesWritten.WithLabelValues(name).Add(float64(len(groups)))
	metrics.RecordsWritten.WithLabelValues(name).Add(float64(len(rows)))
	w.logger.Info("committed data files",
		"table", name,
		"snapshot", committed.CurrentSnapshotID(),
		"files", len(groups),
		"records", len(rows))
	return nil
}

type partitionGroup struct {
	path   string
	values map[string]any
	rows   []map[string]any
}

// groupRows normalizes rows to the table schema and splits them by partition
// tuple, keeping the order in which partitions first appear.
func groupRows(s *schema.Schema, spec *partition.Spec, rows []map[string]any) ([]*partitionGroup, error) {
	var groups []*partitionGroup
	byPath := make(map[string]*partitionGroup)

	for i, raw := range rows {
		row, err := normalizeRow(s, raw)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		values, err := spec.PartitionValues(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		p := spec.Path(values)
		g, ok := byPath[p]
		if !ok {
			g = &partitionGroup{path: p, values: values}
			byPath[p] = g
			groups = append(groups, g)
		}
		g.rows = append(g.rows, row)
	}
	return groups, nil
}

func normalizeRow(s *schema.Schema, raw map[string]any) (map[string]any, error) {
	row := make(map[string]any, s.Len())
	for _, f := range s.Fields() {
		v, err := normalize(f.Type, raw[f.Name])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", f.Name, err)
		}
		if v == nil && f.Required {
			return nil, fmt.Errorf("column %s: required value is missing", f.Name)
		}
		row[f.Name] = v
	}
	return row, nil
}

func (w *Writer) writeDataFile(ctx context.Context, root string, pschema *parquet.Schema, g *partitionGroup) (iceberg.DataFile, error) {
	buf := storage.NewBuffer()
	pw := parquet.NewGenericWriter[map[string]any](buf, pschema)
	if _, err := pw.Write(g.rows); err != nil {
		return iceberg.DataFile{}, fmt.Errorf("writing records: %w", err)
	}
	if err := pw.Close(); err != nil {
		return iceberg.DataFile{}, fmt.Errorf("closing parquet writer: %w", err)
	}

	p := path.Join(root, "data", g.path, uuid.NewString()+".parquet")
	location, size, err := buf.Upload(ctx, w.storage, p, true)
	if err != nil {
		return iceberg.DataFile{}, fmt.Errorf("uploading data file: %w", err)
	}

	var values map[string]string
	for k, v := range g.values {
		if v == nil {
			continue
		}
		if values == nil {
			values = make(map[string]string, len(g.values))
		}
		values[k] = fmt.Sprint(v)
	}

	return iceberg.DataFile{
		Path:        location,
		Format:      fileFormat,
		RecordCount: int64(len(g.rows)),
		SizeBytes:   size,
		Partition:   values,
	}, nil
}

func (w *Writer) writeManifest(ctx context.Context, root string, entries []iceberg.ManifestEntry) (string, error) {
	data, err := iceberg.EncodeManifest(entries)
	if err != nil {
		return "", fmt.Errorf("encoding manifest: %w", err)
	}
	buf := storage.NewBuffer()
	if _, err := buf.Write(data); err != nil {
		return "", err
	}
	location, _, err := buf.Upload(ctx, w.storage, path.Join(root, "metadata", uuid.NewString()+"-m0.json"), true)
	if err != nil {
		return "", fmt.Errorf("uploading manifest: %w", err)
	}
	return location, nil
}
