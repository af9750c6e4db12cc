package schema

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Querier is the subset of *pgx.Conn and *pgxpool.Pool used to inspect source tables.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Column is a column of a Postgres source relation.
type Column struct {
	Name     string
	TypeOID  uint32
	TypeName string
	Nullable bool
}

// TableSchema describes a Postgres source relation.
type TableSchema struct {
	Schema  string
	Name    string
	Columns []Column
}

// QualifiedName returns "schema.table".
func (t *TableSchema) QualifiedName() string {
	return t.Schema + "." + t.Name
}

// IcebergSchema maps the relation columns to table fields, numbering ids from 1.
func (t *TableSchema) IcebergSchema() (*Schema, error) {
	fields := make([]NestedField, 0, len(t.Columns))
	for i, col := range t.Columns {
		fields = append(fields, NestedField{
			ID:       uint32(i + 1),
			Name:     col.Name,
			Type:     TypeFromOID(col.TypeOID),
			Required: !col.Nullable,
		})
	}
	return New(fields)
}

// TypeFromOID maps a Postgres type OID to the closest field type.
func TypeFromOID(oid uint32) FieldType {
	switch oid {
	case pgtype.Int2OID, pgtype.Int4OID:
		return Integer
	case pgtype.Int8OID:
		return Long
	case pgtype.TextOID, pgtype.VarcharOID, pgtype.BPCharOID:
		return String
	case pgtype.Float8OID, pgtype.NumericOID:
		return Double
	case pgtype.Float4OID:
		return Float
	case pgtype.BoolOID:
		return Boolean
	case pgtype.DateOID:
		return Date
	case pgtype.TimestampOID:
		return Timestamp
	case pgtype.TimestamptzOID:
		return TimestampTZ
	case pgtype.UUIDOID:
		return UUID
	case pgtype.ByteaOID:
		return Binary
	default:
		return String
	}
}

// GetTableSchema reads the column list of schemaName.tableName.
func GetTableSchema(ctx context.Context, conn Querier, schemaName, tableName string) (*TableSchema, error) {
	query := `
        SELECT 
            c.column_name,
            c.is_nullable,
            t.oid AS type_oid,
            t.typname AS data_type
        FROM information_schema.columns c
        JOIN pg_catalog.pg_type t ON c.udt_name = t.typname
        WHERE c.table_schema = $1 AND c.table_name = $2
        ORDER BY c.ordinal_position;
    `

	rows, err := conn.Query(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("querying schema: %w", err)
	}
	defer rows.Close()

	ts := &TableSchema{
		Schema:  schemaName,
		Name:    tableName,
		Columns: make([]Column, 0),
	}

	for rows.Next() {
		var col Column
		var nullable string
		if err := rows.Scan(&col.Name, &nullable, &col.TypeOID, &col.TypeName); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		col.Nullable = nullable == "YES"
		ts.Columns = append(ts.Columns, col)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading rows: %w", err)
	}
	if len(ts.Columns) == 0 {
		return nil, fmt.Errorf("table %s.%s has no columns", schemaName, tableName)
	}

	return ts, nil
}
