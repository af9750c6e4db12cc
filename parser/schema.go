package parser

import (
	"errors"

	"arctic-iceberg/schema"
)

const (
	keyFields   = "fields"
	keyID       = "id"
	keyName     = "name"
	keyType     = "type"
	keyRequired = "required"
)

// ParseSchema parses a standalone schema object.
func ParseSchema(data []byte) (*schema.Schema, error) {
	obj, err := decodeObject(data, keySchema)
	if err != nil {
		return nil, err
	}
	return parseSchema(obj)
}

func parseSchema(obj object) (*schema.Schema, error) {
	arr, err := obj.Array(keyFields)
	if err != nil {
		return nil, err
	}
	path := obj.qualify(keyFields)
	elems, err := elements(arr, path)
	if err != nil {
		return nil, err
	}

	fields := make([]schema.NestedField, 0, len(elems))
	for _, el := range elems {
		f, err := parseField(el)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}

	s, err := schema.New(fields)
	if err != nil {
		if errors.Is(err, schema.ErrDuplicateName) {
			return nil, invalidType(obj.qualify(keyFields)+"."+keyName, err)
		}
		return nil, invalidType(obj.qualify(keyFields)+"."+keyID, err)
	}
	return s, nil
}

func parseField(el object) (schema.NestedField, error) {
	id, err := el.Uint32(keyID)
	if err != nil {
		return schema.NestedField{}, err
	}
	name, err := el.String(keyName)
	if err != nil {
		return schema.NestedField{}, err
	}
	typeName, err := el.String(keyType)
	if err != nil {
		return schema.NestedField{}, err
	}
	ft, params, err := schema.ParseTypeName(typeName)
	if err != nil {
		return schema.NestedField{}, invalidType(el.qualify(keyType), err)
	}
	required, err := el.Bool(keyRequired)
	if err != nil {
		return schema.NestedField{}, err
	}
	return schema.NestedField{ID: id, Name: name, Type: ft, Required: required, Params: params}, nil
}
