package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"arctic-iceberg/iceberg"
	"arctic-iceberg/parser"
	"arctic-iceberg/partition"
	"arctic-iceberg/schema"
	"arctic-iceberg/table"
)

// Catalog creates, loads and lists tables kept in a Store.
type Catalog struct {
	store  Store
	policy table.RetryPolicy
	logger *slog.Logger

	mu  sync.Mutex
	ops map[string]*Operations
}

type Option func(*Catalog)

func WithRetryPolicy(p table.RetryPolicy) Option {
	return func(c *Catalog) { c.policy = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Catalog) { c.logger = l }
}

func New(store Store, opts ...Option) *Catalog {
	c := &Catalog{
		store:  store,
		policy: table.DefaultRetryPolicy(),
		ops:    make(map[string]*Operations),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

func (c *Catalog) operations(name string) *Operations {
	c.mu.Lock()
	defer c.mu.Unlock()
	ops, ok := c.ops[name]
	if !ok {
		ops = NewOperations(name, c.store, c.logger)
		c.ops[name] = ops
	}
	return ops
}

func (c *Catalog) table(name string) *table.Table {
	return table.New(name, c.operations(name),
		table.WithRetryPolicy(c.policy), table.WithLogger(c.logger))
}

// TableSpec describes a table to create.
type TableSpec struct {
	Location   string
	Schema     *schema.Schema
	Partition  []partition.Field
	Properties map[string]string
}

// NewTableMetadata builds the first metadata of a table with a fresh UUID.
func NewTableMetadata(spec TableSpec) (*iceberg.TableMetadata, error) {
	pspec, err := partition.NewSpec(spec.Schema, spec.Partition)
	if err != nil {
		return nil, err
	}
	return iceberg.NewTableMetadata(iceberg.MetadataParams{
		UUID:              uuid.NewString(),
		Location:          spec.Location,
		LastUpdatedMillis: uint64(time.Now().UnixMilli()),
		LastColumnID:      spec.Schema.HighestFieldID(),
		Schema:            spec.Schema,
		Spec:              pspec,
		Properties:        spec.Properties,
	})
}

// CreateTable stores md as the first version of table name.
func (c *Catalog) CreateTable(ctx context.Context, name string, md *iceberg.TableMetadata) (*table.Table, error) {
	doc, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata of %s: %w", name, err)
	}
	if err := c.store.Create(ctx, name, doc); err != nil {
		return nil, fmt.Errorf("creating %s: %w", name, err)
	}
	c.logger.Info("created table", "table", name, "location", md.Location())
	return c.table(name), nil
}

// RegisterTable validates a metadata document and creates the table from it.
func (c *Catalog) RegisterTable(ctx context.Context, name string, doc []byte) (*table.Table, error) {
	md, err := parser.Parse(doc)
	if err != nil {
		return nil, err
	}
	return c.CreateTable(ctx, name, md)
}

// LoadTable returns the table after checking that it exists.
func (c *Catalog) LoadTable(ctx context.Context, name string) (*table.Table, error) {
	t := c.table(name)
	if _, err := t.Refresh(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// MetadataJSON returns the raw stored metadata document of a table.
func (c *Catalog) MetadataJSON(ctx context.Context, name string) ([]byte, error) {
	doc, _, err := c.store.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", name, err)
	}
	return doc, nil
}

func (c *Catalog) ListTables(ctx context.Context) ([]string, error) {
	names, err := c.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	slices.Sort(names)
	return names, nil
}
