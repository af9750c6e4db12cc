package writer

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/parquet-go/parquet-go"

	"arctic-iceberg/schema"
)

func parquetSchema(s *schema.Schema) (*parquet.Schema, error) {
	root := make(parquet.Group)

	for _, field := range s.Fields() {
		var node parquet.Node

		switch field.Type {
		case schema.Boolean:
			node = parquet.Leaf(parquet.BooleanType)
		case schema.Integer:
			node = parquet.Int(32)
		case schema.Long:
			node = parquet.Int(64)
		case schema.Float:
			node = parquet.Leaf(parquet.FloatType)
		case schema.Double, schema.Decimal:
			node = parquet.Leaf(parquet.DoubleType)
		case schema.Date:
			node = parquet.Date()
		case schema.Time:
			node = parquet.Time(parquet.Microsecond)
		case schema.Timestamp, schema.TimestampTZ:
			node = parquet.Timestamp(parquet.Microsecond)
		case schema.String, schema.UUID:
			node = parquet.String()
		case schema.Binary, schema.Fixed:
			node = parquet.Leaf(parquet.ByteArrayType)
		default:
			return nil, fmt.Errorf("field %s: unsupported type %s", field.Name, field.Type)
		}

		if !field.Required {
			node = parquet.Optional(node)
		}
		root[field.Name] = node
	}

	return parquet.NewSchema("schema", root), nil
}

// normalize converts a decoded column value to the representation used for
// both partition transforms and parquet encoding: int32 for int and date
// (days since epoch), int64 for long and timestamps (microseconds since epoch).
func normalize(ft schema.FieldType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch ft {
	case schema.Boolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case schema.Integer:
		if n, ok := toInt64(v); ok {
			return int32(n), nil
		}
	case schema.Long:
		if n, ok := toInt64(v); ok {
			return n, nil
		}
	case schema.Float:
		switch x := v.(type) {
		case float32:
			return x, nil
		case float64:
			return float32(x), nil
		}
	case schema.Double, schema.Decimal:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case pgtype.Numeric:
			f, err := x.Float64Value()
			if err != nil {
				return nil, err
			}
			if !f.Valid {
				return nil, nil
			}
			return f.Float64, nil
		}
		if n, ok := toInt64(v); ok {
			return float64(n), nil
		}
	case schema.Date:
		switch x := v.(type) {
		case time.Time:
			return epochDays(x), nil
		case int32:
			return x, nil
		}
	case schema.Time:
		switch x := v.(type) {
		case pgtype.Time:
			return x.Microseconds, nil
		case int64:
			return x, nil
		}
	case schema.Timestamp, schema.TimestampTZ:
		switch x := v.(type) {
		case time.Time:
			return x.UnixMicro(), nil
		case int64:
			return x, nil
		}
	case schema.String:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	case schema.UUID:
		switch x := v.(type) {
		case [16]byte:
			return uuid.UUID(x).String(), nil
		case string:
			return x, nil
		}
	case schema.Binary, schema.Fixed:
		switch x := v.(type) {
		case []byte:
			return x, nil
		case string:
			return []byte(x), nil
		}
	}
	return nil, fmt.Errorf("cannot store %T as %s", v, ft)
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case int:
		return int64(x), true
	}
	return 0, false
}

func epochDays(t time.Time) int32 {
	secs := t.Unix()
	days := secs / 86400
	if secs%86400 < 0 {
		days--
	}
	return int32(days)
}
