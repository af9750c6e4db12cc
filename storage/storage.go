package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	ErrNotFound = errors.New("object not found")
	ErrExists   = errors.New("object already exists")
)

// Storage is an object store addressed by slash-separated relative paths.
type Storage interface {
	Write(ctx context.Context, filepath string, data io.Reader) error
	// Create writes data only if nothing exists at filepath yet and fails
	// with ErrExists otherwise. The check and the write are atomic.
	Create(ctx context.Context, filepath string, data io.Reader) error
	Read(ctx context.Context, filepath string) (io.ReadCloser, error)
	Exists(ctx context.Context, filepath string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, filepath string) error

	// Location returns the absolute URI of filepath as recorded in table
	// metadata. Path is its inverse.
	Location(filepath string) string
	Path(location string) (string, error)
}

// ReadAll reads the whole object at filepath.
func ReadAll(ctx context.Context, s Storage, filepath string) ([]byte, error) {
	rc, err := s.Read(ctx, filepath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath, err)
	}
	return data, nil
}

// ReadLocation reads the object at an absolute location produced by
// s.Location.
func ReadLocation(ctx context.Context, s Storage, location string) ([]byte, error) {
	p, err := s.Path(location)
	if err != nil {
		return nil, err
	}
	return ReadAll(ctx, s, p)
}
