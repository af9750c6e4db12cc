package partition

import (
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"arctic-iceberg/schema"
)

// TransformKind enumerates the known partition transforms.
type TransformKind int

const (
	KindBucket TransformKind = iota + 1
	KindIdentity
	KindTruncate
	KindYear
	KindMonth
	KindDay
	KindHour
)

var kindNames = map[TransformKind]string{
	KindBucket:   "bucket",
	KindIdentity: "identity",
	KindTruncate: "truncate",
	KindYear:     "year",
	KindMonth:    "month",
	KindDay:      "day",
	KindHour:     "hour",
}

func (k TransformKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("TransformKind(%d)", int(k))
}

// Transform derives a partition value from a source column value.
// Width is the bucket count for bucket and the truncation width for truncate;
// it is ignored by the other kinds.
type Transform struct {
	Kind  TransformKind
	Width uint32
}

func Bucket(n uint32) Transform   { return Transform{Kind: KindBucket, Width: n} }
func Truncate(w uint32) Transform { return Transform{Kind: KindTruncate, Width: w} }
func Identity() Transform         { return Transform{Kind: KindIdentity} }
func Year() Transform             { return Transform{Kind: KindYear} }
func Month() Transform            { return Transform{Kind: KindMonth} }
func Day() Transform              { return Transform{Kind: KindDay} }
func Hour() Transform             { return Transform{Kind: KindHour} }

// String renders the transform the way it is written in metadata JSON.
func (t Transform) String() string {
	switch t.Kind {
	case KindBucket, KindTruncate:
		if t.Width == 0 {
			return t.Kind.String()
		}
		return fmt.Sprintf("%s[%d]", t.Kind, t.Width)
	default:
		return t.Kind.String()
	}
}

// Bound reports whether the transform has every parameter it needs to Apply.
func (t Transform) Bound() bool {
	switch t.Kind {
	case KindBucket, KindTruncate:
		return t.Width > 0
	}
	_, known := kindNames[t.Kind]
	return known
}

// CanTransform reports whether values of the given source type are accepted.
func (t Transform) CanTransform(ft schema.FieldType) bool {
	switch t.Kind {
	case KindBucket:
		return ft == schema.Integer || ft == schema.Long
	case KindIdentity:
		return ft.IsPrimitive()
	case KindTruncate:
		return ft == schema.Integer || ft == schema.Long || ft == schema.String
	case KindYear, KindMonth, KindDay:
		return ft == schema.Date || ft == schema.Timestamp || ft == schema.TimestampTZ
	case KindHour:
		return ft == schema.Timestamp || ft == schema.TimestampTZ
	}
	return false
}

// ResultType returns the type of the partition values produced from source.
func (t Transform) ResultType(source schema.FieldType) schema.FieldType {
	switch t.Kind {
	case KindBucket, KindYear, KindMonth, KindHour:
		return schema.Integer
	case KindDay:
		return schema.Date
	default:
		return source
	}
}

// Apply transforms a single value. Integers are int32 or int64, dates are int32
// days since the epoch, timestamps are int64 microseconds since the epoch, and
// time.Time is accepted for both. A nil value stays nil.
func (t Transform) Apply(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if !t.Bound() {
		return nil, fmt.Errorf("%s: %w", t, ErrUnboundTransform)
	}

	switch t.Kind {
	case KindIdentity:
		return t.identity(v)
	case KindBucket:
		return t.bucket(v)
	case KindTruncate:
		return t.truncate(v)
	default:
		return t.temporal(v)
	}
}

func (t Transform) bucket(v any) (any, error) {
	n := int64(t.Width)
	switch x := v.(type) {
	case int32:
		return uint32(floorMod(int64(x), n)), nil
	case int64:
		return uint32(floorMod(x, n)), nil
	}
	return nil, &TypeMismatchError{Transform: t, Value: v}
}

// identity passes through the scalar representations of primitive types.
func (t Transform) identity(v any) (any, error) {
	switch v.(type) {
	case bool, int32, int64, float32, float64, string, []byte, time.Time, [16]byte, uuid.UUID:
		return v, nil
	}
	return nil, &TypeMismatchError{Transform: t, Value: v}
}

func (t Transform) truncate(v any) (any, error) {
	w := int64(t.Width)
	switch x := v.(type) {
	case int32:
		n := int64(x) - floorMod(int64(x), w)
		if n < math.MinInt32 {
			return nil, t.outOfRange(v)
		}
		return int32(n), nil
	case int64:
		m := floorMod(x, w)
		if x < math.MinInt64+m {
			return nil, t.outOfRange(v)
		}
		return x - m, nil
	case string:
		if utf8.RuneCountInString(x) <= int(w) {
			return x, nil
		}
		return string([]rune(x)[:w]), nil
	}
	return nil, &TypeMismatchError{Transform: t, Value: v}
}

const (
	secondsPerHour = int64(time.Hour / time.Second)
	secondsPerDay  = 24 * secondsPerHour
)

// temporal works on whole seconds, which no int32 date or int64 microsecond
// input overflows. Results outside int32 are rejected.
func (t Transform) temporal(v any) (any, error) {
	var ts time.Time
	switch x := v.(type) {
	case int32:
		switch t.Kind {
		case KindHour:
			return nil, &TypeMismatchError{Transform: t, Value: v}
		case KindDay:
			return x, nil
		}
		ts = time.Unix(int64(x)*secondsPerDay, 0).UTC()
	case int64:
		ts = time.UnixMicro(x).UTC()
	case time.Time:
		ts = x.UTC()
	default:
		return nil, &TypeMismatchError{Transform: t, Value: v}
	}

	var n int64
	switch t.Kind {
	case KindYear:
		n = int64(ts.Year()) - 1970
	case KindMonth:
		n = (int64(ts.Year())-1970)*12 + int64(ts.Month()) - 1
	case KindDay:
		n = floorDiv(ts.Unix(), secondsPerDay)
	default:
		n = floorDiv(ts.Unix(), secondsPerHour)
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return nil, t.outOfRange(v)
	}
	return int32(n), nil
}

func (t Transform) outOfRange(v any) error {
	return fmt.Errorf("transform %s of %v: %w", t, v, ErrOutOfRange)
}

func floorMod(x, n int64) int64 {
	m := x % n
	if m < 0 {
		m += n
	}
	return m
}

func floorDiv(x, n int64) int64 {
	q := x / n
	if x%n != 0 && x < 0 {
		q--
	}
	return q
}
