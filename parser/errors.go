package parser

import (
	"errors"
	"fmt"
)

// Kind classifies a parse failure.
type Kind int

const (
	KindInvalidJSON Kind = iota + 1
	KindMissingRequiredField
	KindInvalidFieldType
	KindUnsupportedFormatVersion
	KindInvalidPartitionTransform
)

// Sentinels matched with errors.Is against an *Error of the same kind.
var (
	ErrInvalidJSON               = errors.New("invalid json")
	ErrMissingRequiredField      = errors.New("missing required field")
	ErrInvalidFieldType          = errors.New("invalid field type")
	ErrUnsupportedFormatVersion  = errors.New("unsupported format version")
	ErrInvalidPartitionTransform = errors.New("invalid partition transform")
)

func (k Kind) sentinel() error {
	switch k {
	case KindInvalidJSON:
		return ErrInvalidJSON
	case KindMissingRequiredField:
		return ErrMissingRequiredField
	case KindInvalidFieldType:
		return ErrInvalidFieldType
	case KindUnsupportedFormatVersion:
		return ErrUnsupportedFormatVersion
	case KindInvalidPartitionTransform:
		return ErrInvalidPartitionTransform
	}
	return nil
}

func (k Kind) String() string {
	if s := k.sentinel(); s != nil {
		return s.Error()
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is returned for every rejected document. Path is the dotted location
// of the offending field, Version the rejected format version and Name the
// unresolved transform name; each is set only for the kinds that use it.
type Error struct {
	Kind    Kind
	Path    string
	Version int64
	Name    string
	Err     error
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindMissingRequiredField, KindInvalidFieldType:
		msg = fmt.Sprintf("%s: %s", e.Kind, e.Path)
	case KindUnsupportedFormatVersion:
		msg = fmt.Sprintf("%s: %d", e.Kind, e.Version)
	case KindInvalidPartitionTransform:
		msg = fmt.Sprintf("%s: %q", e.Kind, e.Name)
	default:
		msg = e.Kind.String()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func invalidJSON(err error) *Error {
	return &Error{Kind: KindInvalidJSON, Err: err}
}

func missing(path string) *Error {
	return &Error{Kind: KindMissingRequiredField, Path: path}
}

func invalidType(path string, err error) *Error {
	return &Error{Kind: KindInvalidFieldType, Path: path, Err: err}
}

func unsupportedVersion(v int64) *Error {
	return &Error{Kind: KindUnsupportedFormatVersion, Version: v}
}

func invalidTransform(name string) *Error {
	return &Error{Kind: KindInvalidPartitionTransform, Name: name}
}
