package storage

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	leveldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	// ErrNotFound is returned for a key with no row.
	ErrNotFound = errors.New("storage: not found")

	// ErrIO wraps failures of the underlying database. Unlike missing
	// rows, these are transient by nature and callers may retry.
	ErrIO = errors.New("storage: io failure")
)

// IsNotFound reports whether err means a missing row rather than an I/O
// failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Key prefixes partition the single leveldb keyspace into tables.
var (
	prefixGlobalNode    = []byte{0x01}
	prefixStorageNode   = []byte{0x02}
	prefixContractState = []byte{0x03}
	prefixVersion       = []byte{0x04}
	prefixDeclaredClass = []byte{0x05}
)

// PersistenceStore is a thin wrapper over leveldb providing prefixed
// tables and atomic batch writes. With an empty path it runs on in-memory
// storage, which the tests use.
type PersistenceStore struct {
	db *leveldb.DB
}

func NewPersistenceStore(path string) (*PersistenceStore, error) {
	if path == "" {
		return NewMemoryPersistenceStore()
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %v", path, ErrIO, err)
	}
	return &PersistenceStore{db: db}, nil
}

func NewMemoryPersistenceStore() (*PersistenceStore, error) {
	db, err := leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w: %v", ErrIO, err)
	}
	return &PersistenceStore{db: db}, nil
}

// Get returns the value for key. The second return reports whether a row
// exists; I/O problems come back wrapped in ErrIO.
func (s *PersistenceStore) Get(key []byte) ([]byte, bool, error) {
	val, err := s.db.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldberrors.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get: %w: %v", ErrIO, err)
	}
	return val, true, nil
}

func (s *PersistenceStore) Has(key []byte) (bool, error) {
	ok, err := s.db.Has(key, nil)
	if err != nil {
		return false, fmt.Errorf("has: %w: %v", ErrIO, err)
	}
	return ok, nil
}

func (s *PersistenceStore) Put(key, value []byte) error {
	if err := s.db.Put(key, value, nil); err != nil {
		return fmt.Errorf("put: %w: %v", ErrIO, err)
	}
	return nil
}

// Write applies a batch atomically: either every operation in it lands or
// none do. Block commits rely on this.
func (s *PersistenceStore) Write(batch *leveldb.Batch) error {
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("write batch: %w: %v", ErrIO, err)
	}
	return nil
}

// NewIterator iterates all rows under prefix. Callers must Release it.
func (s *PersistenceStore) NewIterator(prefix []byte) iterator.Iterator {
	return s.db.NewIterator(util.BytesPrefix(prefix), nil)
}

func (s *PersistenceStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close: %w: %v", ErrIO, err)
	}
	return nil
}

func prefixed(prefix, key []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(key))
	out = append(out, prefix...)
	return append(out, key...)
}
