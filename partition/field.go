package partition

import "fmt"

// Field binds a source schema column to a transform.
type Field struct {
	SourceID  uint32
	Name      string
	Transform Transform
}

func NewField(sourceID uint32, name string, transform Transform) Field {
	return Field{SourceID: sourceID, Name: name, Transform: transform}
}

func (f Field) String() string {
	return fmt.Sprintf("%s: %s(%d)", f.Name, f.Transform, f.SourceID)
}
