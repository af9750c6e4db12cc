package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldType tags the type of a schema column.
type FieldType int

const (
	Boolean FieldType = iota + 1
	Integer
	Long
	Float
	Double
	Date
	Time
	Timestamp
	TimestampTZ
	String
	UUID
	Fixed
	Binary
	Decimal
	Struct
	List
	Map
)

var fieldTypeNames = map[FieldType]string{
	Boolean:     "boolean",
	Integer:     "int",
	Long:        "long",
	Float:       "float",
	Double:      "double",
	Date:        "date",
	Time:        "time",
	Timestamp:   "timestamp",
	TimestampTZ: "timestamptz",
	String:      "string",
	UUID:        "uuid",
	Fixed:       "fixed",
	Binary:      "binary",
	Decimal:     "decimal",
	Struct:      "struct",
	List:        "list",
	Map:         "map",
}

// Scalar Go representations of the primitive types.
type (
	BooleanValue = bool
	IntegerValue = int32
	LongValue    = int64
	FloatValue   = float32
	DoubleValue  = float64
)

func (t FieldType) String() string {
	if name, ok := fieldTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// IsPrimitive reports whether t is not a nested type.
func (t FieldType) IsPrimitive() bool {
	switch t {
	case Struct, List, Map:
		return false
	}
	_, ok := fieldTypeNames[t]
	return ok
}

// TypeParams holds the parameters of decimal(P,S) and fixed[L] columns.
// The zero value means the type was written without parameters.
type TypeParams struct {
	Precision int
	Scale     int
	Length    int
}

// maxDecimalPrecision is the largest precision a 16 byte decimal holds.
const maxDecimalPrecision = 38

// TypeName renders t with its parameters the way metadata JSON writes it.
func TypeName(t FieldType, p TypeParams) string {
	switch {
	case t == Decimal && p.Precision > 0:
		return fmt.Sprintf("decimal(%d,%d)", p.Precision, p.Scale)
	case t == Fixed && p.Length > 0:
		return fmt.Sprintf("fixed[%d]", p.Length)
	}
	return t.String()
}

// ParseFieldType maps a type name as written in metadata JSON to its tag.
func ParseFieldType(name string) (FieldType, error) {
	t, _, err := ParseTypeName(name)
	return t, err
}

// ParseTypeName parses a type name including the parameters of decimal(P,S)
// and fixed[L].
func ParseTypeName(name string) (FieldType, TypeParams, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "integer":
		return Integer, TypeParams{}, nil
	case "bool":
		return Boolean, TypeParams{}, nil
	}
	if args, ok := enclosed(n, "fixed[", "]"); ok {
		length, err := strconv.Atoi(strings.TrimSpace(args))
		if err != nil || length <= 0 {
			return 0, TypeParams{}, fmt.Errorf("invalid fixed length in %q", name)
		}
		return Fixed, TypeParams{Length: length}, nil
	}
	if args, ok := enclosed(n, "decimal(", ")"); ok {
		ps, ss, found := strings.Cut(args, ",")
		precision, perr := strconv.Atoi(strings.TrimSpace(ps))
		scale, serr := strconv.Atoi(strings.TrimSpace(ss))
		if !found || perr != nil || serr != nil ||
			precision <= 0 || precision > maxDecimalPrecision || scale < 0 || scale > precision {
			return 0, TypeParams{}, fmt.Errorf("invalid decimal parameters in %q", name)
		}
		return Decimal, TypeParams{Precision: precision, Scale: scale}, nil
	}
	for t, tn := range fieldTypeNames {
		if tn == n {
			return t, TypeParams{}, nil
		}
	}
	return 0, TypeParams{}, fmt.Errorf("unknown field type %q", name)
}

func enclosed(s, prefix, suffix string) (string, bool) {
	if !strings.HasPrefix(s, prefix) || !strings.HasSuffix(s, suffix) {
		return "", false
	}
	return s[len(prefix) : len(s)-len(suffix)], true
}
