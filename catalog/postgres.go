package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxConn is satisfied by *pgx.Conn and *pgxpool.Pool.
type PgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS iceberg_tables (
	table_name TEXT PRIMARY KEY,
	version BIGINT NOT NULL,
	metadata TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore keeps one row per table. Swap is a single conditional
// UPDATE on the version column.
type PostgresStore struct {
	conn PgxConn
}

func NewPostgresStore(conn PgxConn) *PostgresStore {
	return &PostgresStore{conn: conn}
}

// Init creates the catalog table if it does not exist.
func (s *PostgresStore) Init(ctx context.Context) error {
	if _, err := s.conn.Exec(ctx, createTablesSQL); err != nil {
		return fmt.Errorf("creating catalog table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, name string) ([]byte, int64, error) {
	var (
		doc     string
		version int64
	)
	err := s.conn.QueryRow(ctx,
		`SELECT metadata, version FROM iceberg_tables WHERE table_name = $1`, name,
	).Scan(&doc, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, fmt.Errorf("%s: %w", name, ErrNoSuchTable)
		}
		return nil, 0, fmt.Errorf("querying %s: %w", name, err)
	}
	return []byte(doc), version, nil
}

func (s *PostgresStore) Create(ctx context.Context, name string, doc []byte) error {
	tag, err := s.conn.Exec(ctx,
		`INSERT INTO iceberg_tables (table_name, version, metadata) VALUES ($1, 1, $2)
		ON CONFLICT (table_name) DO NOTHING`, name, string(doc))
	if err != nil {
		return fmt.Errorf("inserting %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", name, ErrTableExists)
	}
	return nil
}

func (s *PostgresStore) Swap(ctx context.Context, name string, expected int64, doc []byte) error {
	tag, err := s.conn.Exec(ctx,
		`UPDATE iceberg_tables SET metadata = $1, version = version + 1, updated_at = now()
		WHERE table_name = $2 AND version = $3`, string(doc), name, expected)
	if err != nil {
		return fmt.Errorf("updating %s: %w", name, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, _, err := s.Load(ctx, name); err != nil {
		return err
	}
	return fmt.Errorf("%s moved past version %d: %w", name, expected, ErrVersionMismatch)
}

func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.conn.Query(ctx, `SELECT table_name FROM iceberg_tables ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning table names: %w", err)
	}
	return names, nil
}
