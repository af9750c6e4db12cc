package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"strconv"
)

// decode reads exactly one JSON value, keeping numbers as json.Number so that
// range checks see the literal text.
func decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, invalidJSON(err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, invalidJSON(errors.New("unexpected data after top-level value"))
	}
	return v, nil
}

func decodeObject(data []byte, path string) (object, error) {
	v, err := decode(data)
	if err != nil {
		return object{}, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return object{}, invalidJSON(fmt.Errorf("expected a JSON object, got %s", jsonType(v)))
	}
	return object{m: m, path: path}, nil
}

// object is a decoded JSON object together with its dotted path in the
// document. Getters report absent and null members as missing and members of
// the wrong JSON type as invalid.
type object struct {
	m    map[string]any
	path string
}

func (o object) qualify(field string) string {
	if o.path == "" {
		return field
	}
	return o.path + "." + field
}

func (o object) has(field string) bool {
	v, ok := o.m[field]
	return ok && v != nil
}

func (o object) value(field string) (any, error) {
	v, ok := o.m[field]
	if !ok || v == nil {
		return nil, missing(o.qualify(field))
	}
	return v, nil
}

func (o object) String(field string) (string, error) {
	v, err := o.value(field)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", invalidType(o.qualify(field), wrongType("string", v))
	}
	return s, nil
}

func (o object) Bool(field string) (bool, error) {
	v, err := o.value(field)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, invalidType(o.qualify(field), wrongType("boolean", v))
	}
	return b, nil
}

func (o object) Uint32(field string) (uint32, error) {
	n, err := o.unsigned(field, 32)
	return uint32(n), err
}

func (o object) Uint64(field string) (uint64, error) {
	return o.unsigned(field, 64)
}

func (o object) unsigned(field string, bits int) (uint64, error) {
	v, err := o.value(field)
	if err != nil {
		return 0, err
	}
	num, ok := v.(json.Number)
	if !ok {
		return 0, invalidType(o.qualify(field), wrongType("number", v))
	}
	n, err := parseUnsigned(num, bits)
	if err != nil {
		return 0, invalidType(o.qualify(field), err)
	}
	return n, nil
}

// Int64 reads a non-negative integer that fits an int64.
func (o object) Int64(field string) (int64, error) {
	n, err := o.Uint64(field)
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt64 {
		return 0, invalidType(o.qualify(field), fmt.Errorf("%d overflows int64", n))
	}
	return int64(n), nil
}

func (o object) StringArray(field string) ([]string, error) {
	arr, err := o.Array(field)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		s, ok := v.(string)
		if !ok {
			return nil, invalidType(o.qualify(field), wrongType("string element", v))
		}
		out = append(out, s)
	}
	return out, nil
}

func (o object) Array(field string) ([]any, error) {
	v, err := o.value(field)
	if err != nil {
		return nil, err
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, invalidType(o.qualify(field), wrongType("array", v))
	}
	return arr, nil
}

func (o object) Object(field string) (object, error) {
	v, err := o.value(field)
	if err != nil {
		return object{}, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return object{}, invalidType(o.qualify(field), wrongType("object", v))
	}
	return object{m: m, path: o.qualify(field)}, nil
}

// StringMap reads an object whose members are all strings. A non-string
// member is reported at the path of its key.
func (o object) StringMap(field string) (map[string]string, error) {
	obj, err := o.Object(field)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(obj.m))
	for k := range obj.m {
		s, err := obj.String(k)
		if err != nil {
			var perr *Error
			if errors.As(err, &perr) && perr.Kind == KindMissingRequiredField {
				return nil, invalidType(obj.qualify(k), errors.New("null is not a string"))
			}
			return nil, err
		}
		out[k] = s
	}
	return out, nil
}

// elements returns the members of an array that must all be objects, each
// carrying the array's own path.
func elements(arr []any, path string) ([]object, error) {
	out := make([]object, 0, len(arr))
	for _, v := range arr {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, invalidType(path, wrongType("object element", v))
		}
		out = append(out, object{m: m, path: path})
	}
	return out, nil
}

// parseUnsigned rejects negative, fractional and out-of-range numbers instead
// of truncating them. Integral values written with a fraction or exponent
// such as 1.0 or 1e3 are accepted.
func parseUnsigned(num json.Number, bits int) (uint64, error) {
	s := num.String()
	n, err := strconv.ParseUint(s, 10, bits)
	if err == nil {
		return n, nil
	}
	if errors.Is(err, strconv.ErrRange) {
		return 0, fmt.Errorf("%s does not fit in uint%d", s, bits)
	}

	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return 0, fmt.Errorf("%s is not a number", s)
	}
	if r.Sign() < 0 {
		return 0, fmt.Errorf("%s is negative", s)
	}
	if !r.IsInt() {
		return 0, fmt.Errorf("%s is not an integer", s)
	}
	i := r.Num()
	if i.BitLen() > bits {
		return 0, fmt.Errorf("%s does not fit in uint%d", s, bits)
	}
	return i.Uint64(), nil
}

func parseSigned(num json.Number) (int64, error) {
	n, err := strconv.ParseInt(num.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s is not a 64-bit integer", num)
	}
	return n, nil
}

func wrongType(want string, v any) error {
	return fmt.Errorf("expected %s, got %s", want, jsonType(v))
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
