package partition

import (
	"fmt"
	"net/url"
	"strings"

	"arctic-iceberg/schema"
)

// Spec is an ordered, immutable list of partition fields validated against a schema.
type Spec struct {
	fields []Field
	// source field names, parallel to fields
	sources []string
}

// Unpartitioned is the spec with no fields.
var Unpartitioned = &Spec{}

// NewSpec checks every field against s: the source id must exist and the
// transform must accept the source type.
func NewSpec(s *schema.Schema, fields []Field) (*Spec, error) {
	spec := &Spec{
		fields:  make([]Field, len(fields)),
		sources: make([]string, len(fields)),
	}
	copy(spec.fields, fields)

	names := make(map[string]struct{}, len(fields))
	for i, f := range spec.fields {
		src, ok := s.Field(f.SourceID)
		if !ok {
			return nil, fmt.Errorf("partition %q source id %d: %w", f.Name, f.SourceID, ErrUnknownSourceField)
		}
		if !f.Transform.CanTransform(src.Type) {
			return nil, fmt.Errorf("partition %q: %s on %s: %w", f.Name, f.Transform, src.Type, ErrIncompatibleTransform)
		}
		if _, dup := names[f.Name]; dup {
			return nil, fmt.Errorf("partition %q: %w", f.Name, ErrDuplicatePartition)
		}
		names[f.Name] = struct{}{}
		spec.sources[i] = src.Name
	}
	return spec, nil
}

// Fields returns a copy of the partition fields.
func (p *Spec) Fields() []Field {
	out := make([]Field, len(p.fields))
	copy(out, p.fields)
	return out
}

func (p *Spec) Len() int { return len(p.fields) }

func (p *Spec) IsUnpartitioned() bool { return len(p.fields) == 0 }

// Equals compares field lists.
func (p *Spec) Equals(other *Spec) bool {
	if p == other {
		return true
	}
	if p == nil || other == nil || len(p.fields) != len(other.fields) {
		return false
	}
	for i := range p.fields {
		if p.fields[i] != other.fields[i] {
			return false
		}
	}
	return true
}

// PartitionValues derives the partition tuple of a row keyed by column name.
// The result is keyed by partition field name.
func (p *Spec) PartitionValues(row map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(p.fields))
	for i, f := range p.fields {
		v, err := f.Transform.Apply(row[p.sources[i]])
		if err != nil {
			return nil, fmt.Errorf("partition %q: %w", f.Name, err)
		}
		out[f.Name] = v
	}
	return out, nil
}

// Path renders partition values as a hive-style relative path, "a=1/b=x".
func (p *Spec) Path(values map[string]any) string {
	parts := make([]string, 0, len(p.fields))
	for _, f := range p.fields {
		v := values[f.Name]
		s := "null"
		if v != nil {
			s = url.PathEscape(fmt.Sprint(v))
		}
		parts = append(parts, f.Name+"="+s)
	}
	return strings.Join(parts, "/")
}
