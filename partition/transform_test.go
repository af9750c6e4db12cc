package partition

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"arctic-iceberg/schema"
)

func TestBucketApply(t *testing.T) {
	assert := require.New(t)
	b := Bucket(5)

	for _, tc := range []struct {
		in   any
		want uint32
	}{
		{int32(0), 0},
		{int32(7), 2},
		{int64(12), 2},
		{int32(-1), 4},
		{int64(-10), 0},
	} {
		got, err := b.Apply(tc.in)
		assert.NoError(err)
		assert.Equal(tc.want, got, "bucket(%v)", tc.in)
	}
}

func TestBucketTypeMismatch(t *testing.T) {
	_, err := Bucket(4).Apply("abc")

	var mismatch *TypeMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, Bucket(4), mismatch.Transform)
	require.Equal(t, "abc", mismatch.Value)
}

func TestUnboundTransform(t *testing.T) {
	_, err := Transform{Kind: KindBucket}.Apply(int32(3))
	require.ErrorIs(t, err, ErrUnboundTransform)

	_, err = Transform{Kind: KindTruncate}.Apply("abc")
	require.ErrorIs(t, err, ErrUnboundTransform)
}

func TestNilValuesPassThrough(t *testing.T) {
	got, err := Bucket(3).Apply(nil)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestTruncateApply(t *testing.T) {
	assert := require.New(t)

	got, err := Truncate(10).Apply(int32(27))
	assert.NoError(err)
	assert.Equal(int32(20), got)

	got, err = Truncate(10).Apply(int64(-1))
	assert.NoError(err)
	assert.Equal(int64(-10), got)

	got, err = Truncate(3).Apply("iceberg")
	assert.NoError(err)
	assert.Equal("ice", got)

	got, err = Truncate(10).Apply("ice")
	assert.NoError(err)
	assert.Equal("ice", got)

	_, err = Truncate(3).Apply(1.5)
	assert.Error(err)
}

func TestTemporalTransforms(t *testing.T) {
	assert := require.New(t)
	ts := time.Date(2024, time.August, 10, 20, 8, 40, 0, time.UTC)
	micros := ts.UnixMicro()
	days := int32(micros / (86400 * 1_000_000))

	for _, tc := range []struct {
		tr   Transform
		in   any
		want int32
	}{
		{Year(), ts, 54},
		{Year(), micros, 54},
		{Year(), days, 54},
		{Month(), ts, 54*12 + 7},
		{Day(), micros, days},
		{Day(), days, days},
		{Hour(), ts, int32(micros / 3_600_000_000)},
		{Year(), int64(-1), -1},
		{Day(), int64(-1), -1},
	} {
		got, err := tc.tr.Apply(tc.in)
		assert.NoError(err, "%s(%v)", tc.tr, tc.in)
		assert.Equal(tc.want, got, "%s(%v)", tc.tr, tc.in)
	}

	_, err := Hour().Apply(days)
	var mismatch *TypeMismatchError
	assert.ErrorAs(err, &mismatch)
}

func TestTransformRangeEdges(t *testing.T) {
	assert := require.New(t)

	// Dates far past the microsecond range still map to years and months.
	got, err := Year().Apply(int32(math.MaxInt32))
	assert.NoError(err)
	assert.Equal(int32(time.Unix(int64(math.MaxInt32)*86400, 0).UTC().Year()-1970), got)
	got, err = Month().Apply(int32(math.MinInt32))
	assert.NoError(err)
	assert.Less(got.(int32), int32(0))
	got, err = Day().Apply(int32(math.MinInt32))
	assert.NoError(err)
	assert.Equal(int32(math.MinInt32), got)

	got, err = Day().Apply(int64(math.MinInt64))
	assert.NoError(err)
	assert.Equal(int32(floorDiv(math.MinInt64/1_000_000-1, 86400)), got)

	for _, tc := range []struct {
		tr Transform
		in any
	}{
		{Hour(), int64(math.MaxInt64)},
		{Hour(), int64(math.MinInt64)},
		{Hour(), time.Date(300000, 1, 1, 0, 0, 0, 0, time.UTC)},
		{Day(), time.Date(-6000000, 1, 1, 0, 0, 0, 0, time.UTC)},
		{Truncate(10), int64(math.MinInt64)},
		{Truncate(10), int32(math.MinInt32)},
	} {
		_, err := tc.tr.Apply(tc.in)
		assert.ErrorIs(err, ErrOutOfRange, "%s(%v)", tc.tr, tc.in)
	}

	got, err = Truncate(10).Apply(int64(math.MinInt64 + 8))
	assert.NoError(err)
	assert.Equal(int64(math.MinInt64+8), got)
}

func TestIdentityApply(t *testing.T) {
	assert := require.New(t)
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, v := range []any{true, int32(1), int64(2), float32(1.5), 2.5, "a", []byte("b"), ts, [16]byte{1}} {
		got, err := Identity().Apply(v)
		assert.NoError(err, "%T", v)
		assert.Equal(v, got)
	}

	for _, v := range []any{map[string]any{"a": 1}, []any{1}, struct{}{}, 7} {
		_, err := Identity().Apply(v)
		var mismatch *TypeMismatchError
		assert.ErrorAs(err, &mismatch, "%T", v)
	}
}

func TestCanTransformAndResultType(t *testing.T) {
	assert := require.New(t)

	assert.True(Bucket(2).CanTransform(schema.Integer))
	assert.True(Bucket(2).CanTransform(schema.Long))
	assert.False(Bucket(2).CanTransform(schema.String))
	assert.True(Identity().CanTransform(schema.String))
	assert.False(Identity().CanTransform(schema.Struct))
	assert.True(Truncate(2).CanTransform(schema.String))
	assert.False(Hour().CanTransform(schema.Date))
	assert.True(Day().CanTransform(schema.TimestampTZ))

	assert.Equal(schema.Integer, Bucket(2).ResultType(schema.Long))
	assert.Equal(schema.Date, Day().ResultType(schema.Timestamp))
	assert.Equal(schema.String, Identity().ResultType(schema.String))
}

func TestResolve(t *testing.T) {
	assert := require.New(t)

	for name, want := range map[string]Transform{
		"bucket":      {Kind: KindBucket},
		"bucket[16]":  Bucket(16),
		"truncate[4]": Truncate(4),
		"identity":    Identity(),
		"year":        Year(),
		"month":       Month(),
		"day":         Day(),
		"hour":        Hour(),
	} {
		got, ok := Resolve(name)
		assert.True(ok, name)
		assert.Equal(want, got, name)
		if want.Bound() {
			assert.Equal(name, got.String())
		}
	}

	for _, name := range []string{"unknown_xyz", "Bucket", "bucket[0]", "bucket[x]", "day[3]", "bucket[4", ""} {
		_, ok := Resolve(name)
		assert.False(ok, name)
	}
}
