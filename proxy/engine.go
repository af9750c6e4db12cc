package proxy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb"

	"arctic-iceberg/iceberg"
	"arctic-iceberg/schema"
	"arctic-iceberg/storage"
	"arctic-iceberg/table"
)

var ErrEmptyQuery = errors.New("empty query")

// Catalog lists and loads tables; *catalog.Catalog implements it.
type Catalog interface {
	ListTables(ctx context.Context) ([]string, error)
	LoadTable(ctx context.Context, name string) (*table.Table, error)
}

// Engine runs SQL in DuckDB over the current snapshot of every catalog table.
// Each table is exposed as a view named after it, so "public.orders" is
// queried as public.orders.
type Engine struct {
	db      *sql.DB
	catalog Catalog
	storage storage.Storage
	logger  *slog.Logger

	mu    sync.Mutex
	views map[string]uint64
}

// NewEngine opens an in-memory DuckDB database and loads extensions, for
// example httpfs for tables stored in S3.
func NewEngine(cat Catalog, s storage.Storage, logger *slog.Logger, extensions ...string) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("opening duckdb: %w", err)
	}
	if err := loadExtensions(db, append([]string{"parquet"}, extensions...)); err != nil {
		db.Close()
		return nil, err
	}
	return &Engine{
		db:      db,
		catalog: cat,
		storage: s,
		logger:  logger.With("component", "engine"),
		views:   make(map[string]uint64),
	}, nil
}

func loadExtensions(db *sql.DB, extensions []string) error {
	for _, ext := range extensions {
		if _, err := db.Exec(fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext)); err != nil {
			return fmt.Errorf("loading extension %s: %w", ext, err)
		}
	}
	return nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

// Query refreshes the table views and runs query.
func (e *Engine) Query(ctx context.Context, query string) (*sql.Rows, error) {
	if strings.TrimSpace(strings.TrimRight(strings.TrimSpace(query), ";")) == "" {
		return nil, ErrEmptyQuery
	}
	if err := e.refreshViews(ctx); err != nil {
		return nil, err
	}
	return e.db.QueryContext(ctx, query)
}

// refreshViews recreates the view of every table whose current snapshot
// changed since the last refresh.
func (e *Engine) refreshViews(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	names, err := e.catalog.ListTables(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		tbl, err := e.catalog.LoadTable(ctx, name)
		if err != nil {
			return err
		}
		md, err := tbl.Metadata(ctx)
		if err != nil {
			return err
		}
		if id, ok := e.views[name]; ok && id == md.CurrentSnapshotID() {
			continue
		}
		if err := e.createView(ctx, name, md); err != nil {
			return fmt.Errorf("creating view of %s: %w", name, err)
		}
		e.views[name] = md.CurrentSnapshotID()
	}
	return nil
}

func (e *Engine) createView(ctx context.Context, name string, md *iceberg.TableMetadata) error {
	files, err := md.LiveFiles(ctx, func(ctx context.Context, loc string) ([]byte, error) {
		return storage.ReadLocation(ctx, e.storage, loc)
	})
	if err != nil {
		return err
	}

	view := quoteIdent(name)
	if schemaName, rel, ok := strings.Cut(name, "."); ok {
		if _, err := e.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoteIdent(schemaName)); err != nil {
			return err
		}
		view = quoteIdent(schemaName) + "." + quoteIdent(rel)
	}

	var body string
	if len(files) == 0 {
		body = emptySelect(md.Schema())
	} else {
		paths := make([]string, len(files))
		for i, f := range files {
			paths[i] = quoteLiteral(f.Path)
		}
		body = fmt.Sprintf("SELECT * FROM read_parquet([%s], union_by_name = true)", strings.Join(paths, ", "))
	}

	if _, err := e.db.ExecContext(ctx, "CREATE OR REPLACE VIEW "+view+" AS "+body); err != nil {
		return err
	}
	e.logger.Debug("view refreshed", "table", name, "snapshot", md.CurrentSnapshotID(), "files", len(files))
	return nil
}

// emptySelect returns a query with the table columns and no rows.
func emptySelect(s *schema.Schema) string {
	cols := make([]string, 0, s.Len())
	for _, f := range s.Fields() {
		cols = append(cols, fmt.Sprintf("CAST(NULL AS %s) AS %s", duckType(f.Type), quoteIdent(f.Name)))
	}
	return "SELECT " + strings.Join(cols, ", ") + " WHERE false"
}

func duckType(t schema.FieldType) string {
	switch t {
	case schema.Boolean:
		return "BOOLEAN"
	case schema.Integer:
		return "INTEGER"
	case schema.Long:
		return "BIGINT"
	case schema.Float:
		return "REAL"
	case schema.Double, schema.Decimal:
		return "DOUBLE"
	case schema.Date:
		return "DATE"
	case schema.Time:
		return "TIME"
	case schema.Timestamp:
		return "TIMESTAMP"
	case schema.TimestampTZ:
		return "TIMESTAMPTZ"
	case schema.Binary, schema.Fixed:
		return "BLOB"
	default:
		return "VARCHAR"
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
