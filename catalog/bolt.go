package catalog

import (
	"context"
	"encoding/binary"
	"fmt"
	"slices"
	"time"

	"go.etcd.io/bbolt"
)

var boltTablesBucket = []byte("tables")

// BoltStore keeps documents in an embedded bbolt database. Each value is the
// 8-byte big-endian version followed by the document.
type BoltStore struct {
	db *bbolt.DB
}

func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltTablesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func encodeBoltValue(version int64, doc []byte) []byte {
	v := make([]byte, 8+len(doc))
	binary.BigEndian.PutUint64(v, uint64(version))
	copy(v[8:], doc)
	return v
}

func decodeBoltValue(v []byte) (int64, []byte, error) {
	if len(v) < 8 {
		return 0, nil, fmt.Errorf("corrupt value of %d bytes", len(v))
	}
	return int64(binary.BigEndian.Uint64(v)), slices.Clone(v[8:]), nil
}

func (s *BoltStore) Load(_ context.Context, name string) ([]byte, int64, error) {
	var (
		doc     []byte
		version int64
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(boltTablesBucket).Get([]byte(name))
		if v == nil {
			return fmt.Errorf("%s: %w", name, ErrNoSuchTable)
		}
		var err error
		version, doc, err = decodeBoltValue(v)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return doc, version, nil
}

func (s *BoltStore) Create(_ context.Context, name string, doc []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(boltTablesBucket)
		if b.Get([]byte(name)) != nil {
			return fmt.Errorf("%s: %w", name, ErrTableExists)
		}
		return b.Put([]byte(name), encodeBoltValue(1, doc))
	})
}

func (s *BoltStore) Swap(_ context.Context, name string, expected int64, doc []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(boltTablesBucket)
		v := b.Get([]byte(name))
		if v == nil {
			return fmt.Errorf("%s: %w", name, ErrNoSuchTable)
		}
		version, _, err := decodeBoltValue(v)
		if err != nil {
			return err
		}
		if version != expected {
			return fmt.Errorf("%s at version %d, expected %d: %w", name, version, expected, ErrVersionMismatch)
		}
		return b.Put([]byte(name), encodeBoltValue(expected+1, doc))
	})
}

func (s *BoltStore) List(context.Context) ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltTablesBucket).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}
