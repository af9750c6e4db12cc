package schema

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidFieldID   = errors.New("field id must be positive")
	ErrDuplicateFieldID = errors.New("duplicate field id")
	ErrDuplicateName    = errors.New("duplicate field name")
)

// NestedField is a single column of a Schema.
type NestedField struct {
	ID       uint32
	Name     string
	Type     FieldType
	Required bool
	Params   TypeParams
}

// TypeName returns the type as written in metadata JSON, parameters included.
func (f NestedField) TypeName() string {
	return TypeName(f.Type, f.Params)
}

func (f NestedField) String() string {
	req := "optional"
	if f.Required {
		req = "required"
	}
	return fmt.Sprintf("%d: %s: %s %s", f.ID, f.Name, req, f.TypeName())
}

// Schema is an ordered, immutable list of fields with unique ids.
type Schema struct {
	fields []NestedField
	byID   map[uint32]int
	byName map[string]int
}

// New validates fields and returns a Schema that owns a copy of them.
func New(fields []NestedField) (*Schema, error) {
	s := &Schema{
		fields: make([]NestedField, len(fields)),
		byID:   make(map[uint32]int, len(fields)),
		byName: make(map[string]int, len(fields)),
	}
	copy(s.fields, fields)

	for i, f := range s.fields {
		if f.ID == 0 {
			return nil, fmt.Errorf("field %q: %w", f.Name, ErrInvalidFieldID)
		}
		if _, dup := s.byID[f.ID]; dup {
			return nil, fmt.Errorf("field %q id %d: %w", f.Name, f.ID, ErrDuplicateFieldID)
		}
		if _, dup := s.byName[f.Name]; dup {
			return nil, fmt.Errorf("field %q: %w", f.Name, ErrDuplicateName)
		}
		s.byID[f.ID] = i
		s.byName[f.Name] = i
	}
	return s, nil
}

// MustNew is New for statically known schemas.
func MustNew(fields ...NestedField) *Schema {
	s, err := New(fields)
	if err != nil {
		panic(err)
	}
	return s
}

// Fields returns a copy of the fields in declaration order.
func (s *Schema) Fields() []NestedField {
	out := make([]NestedField, len(s.fields))
	copy(out, s.fields)
	return out
}

func (s *Schema) Len() int { return len(s.fields) }

// Field looks up a field by id.
func (s *Schema) Field(id uint32) (NestedField, bool) {
	i, ok := s.byID[id]
	if !ok {
		return NestedField{}, false
	}
	return s.fields[i], true
}

// FieldByName looks up a field by name.
func (s *Schema) FieldByName(name string) (NestedField, bool) {
	i, ok := s.byName[name]
	if !ok {
		return NestedField{}, false
	}
	return s.fields[i], true
}

// HighestFieldID returns the largest field id, or 0 for an empty schema.
func (s *Schema) HighestFieldID() uint32 {
	var max uint32
	for _, f := range s.fields {
		if f.ID > max {
			max = f.ID
		}
	}
	return max
}

// Equals reports whether both schemas have the same fields in the same order.
func (s *Schema) Equals(other *Schema) bool {
	if s == other {
		return true
	}
	if s == nil || other == nil || len(s.fields) != len(other.fields) {
		return false
	}
	for i := range s.fields {
		if s.fields[i] != other.fields[i] {
			return false
		}
	}
	return true
}
