package storage

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// Buffer collects an object in memory before it is uploaded, counting the
// bytes written so callers can record the object size.
type Buffer struct {
	buf  *bytes.Buffer
	size int64
	mu   sync.Mutex
}

func NewBuffer() *Buffer {
	return &Buffer{
		buf: bytes.NewBuffer(nil),
	}
}

func (b *Buffer) Write(p []byte) (n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n, err = b.buf.Write(p)
	b.size += int64(n)
	return
}

func (b *Buffer) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
	b.size = 0
}

// Reader returns a reader over a snapshot of the buffered bytes.
func (b *Buffer) Reader() io.Reader {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.NewReader(bytes.Clone(b.buf.Bytes()))
}

// Upload writes the buffered bytes to filepath in s and returns the
// absolute location and size of the stored object. With exclusive set the
// upload fails if the object already exists.
func (b *Buffer) Upload(ctx context.Context, s Storage, filepath string, exclusive bool) (string, int64, error) {
	size := b.Size()
	write := s.Write
	if exclusive {
		write = s.Create
	}
	if err := write(ctx, filepath, b.Reader()); err != nil {
		return "", 0, err
	}
	return s.Location(filepath), size, nil
}
