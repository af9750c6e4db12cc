package replication

import (
	"fmt"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgtype"
)

// tupleToRow decodes a pgoutput tuple into a row keyed by column name.
// Unchanged TOAST values are left out.
func tupleToRow(typeMap *pgtype.Map, rel *pglogrepl.RelationMessageV2, tuple *pglogrepl.TupleData) (map[string]any, error) {
	row := make(map[string]any, len(tuple.Columns))

	for idx, col := range tuple.Columns {
		if idx >= len(rel.Columns) {
			return nil, fmt.Errorf("tuple has %d columns, relation %s.%s has %d",
				len(tuple.Columns), rel.Namespace, rel.RelationName, len(rel.Columns))
		}
		name := rel.Columns[idx].Name
		oid := rel.Columns[idx].DataType

		switch col.DataType {
		case pglogrepl.TupleDataTypeNull:
			row[name] = nil
		case pglogrepl.TupleDataTypeToast:
		case pglogrepl.TupleDataTypeText:
			val, err := decodeColumn(typeMap, col.Data, oid, pgtype.TextFormatCode)
			if err != nil {
				return nil, fmt.Errorf("decoding column %s: %w", name, err)
			}
			row[name] = val
		case pglogrepl.TupleDataTypeBinary:
			val, err := decodeColumn(typeMap, col.Data, oid, pgtype.BinaryFormatCode)
			if err != nil {
				return nil, fmt.Errorf("decoding column %s: %w", name, err)
			}
			row[name] = val
		default:
			return nil, fmt.Errorf("unknown column data type %q", col.DataType)
		}
	}
	return row, nil
}

func decodeColumn(typeMap *pgtype.Map, data []byte, oid uint32, format int16) (any, error) {
	dt, ok := typeMap.TypeForOID(oid)
	if !ok {
		return string(data), nil
	}
	v, err := dt.Codec.DecodeValue(typeMap, oid, format, data)
	if err != nil {
		return nil, fmt.Errorf("decoding OID %d: %w", oid, err)
	}
	return v, nil
}
