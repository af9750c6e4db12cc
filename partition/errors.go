package partition

import (
	"errors"
	"fmt"
)

var (
	ErrUnboundTransform      = errors.New("transform parameter is not set")
	ErrUnknownSourceField    = errors.New("partition source field not found in schema")
	ErrIncompatibleTransform = errors.New("transform cannot be applied to source field type")
	ErrDuplicatePartition    = errors.New("duplicate partition field name")
	ErrOutOfRange            = errors.New("transform result out of range")
)

// TypeMismatchError is returned by Transform.Apply for values of an unsupported runtime type.
type TypeMismatchError struct {
	Transform Transform
	Value     any
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("transform %s cannot apply to value of type %T", e.Transform, e.Value)
}
