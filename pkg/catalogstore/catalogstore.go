package catalogstore

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"
)

// ErrKeyNotFound is returned when a requested key does not exist.
var ErrKeyNotFound = errors.New("catalogstore: key not found")

// Store wraps a BadgerDB instance with the conditional operations the
// catalog and profile registry need: create-if-absent and transactional
// read-modify-write.
type Store struct {
	db     *badger.DB
	logger *zap.Logger
}

// badgerLoggerAdapter adapts zap.Logger to the badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *zap.SugaredLogger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any)   { bl.logger.Errorf(msg, items...) }
func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) { bl.logger.Warnf(msg, items...) }
func (bl *badgerLoggerAdapter) Infof(msg string, items ...any)    { bl.logger.Debugf(msg, items...) }
func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any)   { bl.logger.Debugf(msg, items...) }

// Open opens a BadgerDB database at the given path, creating the directory
// if needed. An in-memory store is used when inMemory is true.
func Open(path string, inMemory bool, logger *zap.Logger) (*Store, error) {
	var opts badger.Options

	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		info, err := os.Stat(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
			if err := os.MkdirAll(path, 0o755); err != nil {
				return nil, err
			}
		} else if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", path)
		}
		opts = badger.DefaultOptions(path)
	}

	opts.Logger = &badgerLoggerAdapter{logger: logger.Sugar()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value stored under key, or ErrKeyNotFound.
func (s *Store) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Put stores value under key unconditionally.
func (s *Store) Put(key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// CreateIfAbsent stores value under key only if the key does not yet exist.
// It returns the winning value and whether this call created it. Concurrent
// creators are serialized by the transaction's conflict detection.
func (s *Store) CreateIfAbsent(key, value []byte) ([]byte, bool, error) {
	var (
		existing []byte
		created  bool
	)
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == nil {
			existing, err = item.ValueCopy(nil)
			created = false
			return err
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		created = true
		existing = bytes.Clone(value)
		return txn.Set(key, value)
	})
	if err != nil {
		return nil, false, err
	}
	return existing, created, nil
}

// Update applies fn to the current value of key inside one transaction and
// stores the result. fn receives nil when the key is absent; returning an
// error aborts the transaction and propagates the error unchanged.
func (s *Store) Update(key []byte, fn func(current []byte) ([]byte, error)) ([]byte, error) {
	var updated []byte
	err := s.db.Update(func(txn *badger.Txn) error {
		var current []byte
		item, err := txn.Get(key)
		if err == nil {
			current, err = item.ValueCopy(nil)
			if err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		updated, err = fn(current)
		if err != nil {
			return err
		}
		return txn.Set(key, updated)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// List iterates over all keys with the given prefix in key order, invoking
// fn with each key/value pair. Returning an error from fn stops iteration.
func (s *Store) List(prefix []byte, fn func(key, value []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		iter := txn.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			item := iter.Item()
			key := item.KeyCopy(nil)
			err := item.Value(func(val []byte) error {
				return fn(key, val)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}
