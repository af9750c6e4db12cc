package parser

import (
	"errors"
	"fmt"

	"arctic-iceberg/partition"
	"arctic-iceberg/schema"
)

const (
	keySourceID  = "source-id"
	keyTransform = "transform"
	keyWidth     = "width"
)

// ParsePartitionSpec parses a standalone partition-spec array and binds it
// to s.
func ParsePartitionSpec(data []byte, s *schema.Schema) (*partition.Spec, error) {
	v, err := decode(data)
	if err != nil {
		return nil, err
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, invalidType(keyPartitionSpec, wrongType("array", v))
	}
	return parsePartitionSpec(arr, keyPartitionSpec, s)
}

func parsePartitionSpec(arr []any, path string, s *schema.Schema) (*partition.Spec, error) {
	elems, err := elements(arr, path)
	if err != nil {
		return nil, err
	}

	fields := make([]partition.Field, 0, len(elems))
	for _, el := range elems {
		f, err := parsePartitionField(el)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}

	spec, err := partition.NewSpec(s, fields)
	if err != nil {
		if errors.Is(err, partition.ErrDuplicatePartition) {
			return nil, invalidType(path+"."+keyName, err)
		}
		return nil, invalidType(path+"."+keySourceID, err)
	}
	return spec, nil
}

func parsePartitionField(el object) (partition.Field, error) {
	sourceID, err := el.Uint32(keySourceID)
	if err != nil {
		return partition.Field{}, err
	}
	transformName, err := el.String(keyTransform)
	if err != nil {
		return partition.Field{}, err
	}
	name, err := el.String(keyName)
	if err != nil {
		return partition.Field{}, err
	}

	t, ok := partition.Resolve(transformName)
	if !ok {
		return partition.Field{}, invalidTransform(transformName)
	}

	if el.has(keyWidth) {
		width, err := el.Uint32(keyWidth)
		if err != nil {
			return partition.Field{}, err
		}
		if t.Kind != partition.KindBucket && t.Kind != partition.KindTruncate {
			return partition.Field{}, invalidType(el.qualify(keyWidth),
				fmt.Errorf("transform %s takes no width", t.Kind))
		}
		if width == 0 {
			return partition.Field{}, invalidType(el.qualify(keyWidth), errors.New("width must be positive"))
		}
		t.Width = width
	}

	return partition.NewField(sourceID, name, t), nil
}
