package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/sitemap-builder/pkg/utils"
)

const deltaDBDir = "delta_db" // Subdirectory name within stateDir for Badger DB files

// badgerLogger routes Badger's internal logging through logrus
type badgerLogger struct {
	*logrus.Entry
}

func (l badgerLogger) Errorf(f string, v ...any)   { l.Entry.Errorf(f, v...) }
func (l badgerLogger) Warningf(f string, v ...any) { l.Entry.Warnf(f, v...) }
func (l badgerLogger) Infof(f string, v ...any)    { l.Entry.Debugf(f, v...) } // Badger is chatty at info
func (l badgerLogger) Debugf(f string, v ...any)   { l.Entry.Debugf(f, v...) }

// BadgerStore implements Store using BadgerDB
type BadgerStore struct {
	db  *badger.DB
	log *logrus.Entry
}

// NewBadgerStore opens (creating if needed) the store under stateDir.
// With inMemory set nothing is written to disk, which is what tests use.
func NewBadgerStore(stateDir string, inMemory bool, logger *logrus.Entry) (*BadgerStore, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	store := &BadgerStore{log: logger.WithField("component", "store")}

	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
		store.log.Info("Initializing in-memory hash store")
	} else {
		dbPath := filepath.Join(stateDir, deltaDBDir)
		if err := os.MkdirAll(dbPath, 0755); err != nil {
			return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
		}
		opts = badger.DefaultOptions(dbPath)
		store.log.Infof("Initializing hash store at: %s", dbPath)
	}
	opts = opts.
		WithLogger(badgerLogger{logger.WithField("component", "badgerdb")}).
		WithNumVersionsToKeep(1) // Only the latest fingerprint matters

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database: %w", utils.ErrStoreUnavailable, err)
	}
	store.db = db
	return store, nil
}

func (s *BadgerStore) wrap(op, key string, err error) error {
	if errors.Is(err, badger.ErrDBClosed) {
		return fmt.Errorf("%w: %s '%s': %w", utils.ErrStoreUnavailable, op, key, err)
	}
	return fmt.Errorf("%w: %s '%s': %w", utils.ErrDatabase, op, key, err)
}

func (s *BadgerStore) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db == nil || s.db.IsClosed() {
		return fmt.Errorf("%w: database closed", utils.ErrStoreUnavailable)
	}
	return nil
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent MVCC transactions on overlapping keys can return badger.ErrConflict;
// these resolve in microseconds, so a tight retry loop is sufficient.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := 0; i < maxConflictRetries; i++ {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

func entry(key string, value []byte, ttl time.Duration) *badger.Entry {
	e := badger.NewEntry([]byte(key), value)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return e
}

// Get implements KeyValueStore
func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.wrap("get", key, err)
	}
	return value, nil
}

// Set implements KeyValueStore
func (s *BadgerStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	err := s.dbUpdate(func(txn *badger.Txn) error {
		return txn.SetEntry(entry(key, value, ttl))
	})
	if err != nil {
		return s.wrap("set", key, err)
	}
	return nil
}

// Delete implements KeyValueStore
func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	err := s.dbUpdate(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return s.wrap("delete", key, err)
	}
	return nil
}

// Update implements Store. Badger detects a concurrent write of the same key at commit time
// and the whole read-modify-write is retried.
func (s *BadgerStore) Update(ctx context.Context, key string, ttl time.Duration, fn func(old []byte) ([]byte, error)) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	var fnErr error
	err := s.dbUpdate(func(txn *badger.Txn) error {
		var old []byte
		item, err := txn.Get([]byte(key))
		switch {
		case err == nil:
			if old, err = item.ValueCopy(nil); err != nil {
				return err
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		next, err := fn(old)
		if err != nil {
			fnErr = err
			return err
		}
		if next == nil {
			return nil
		}
		return txn.SetEntry(entry(key, next, ttl))
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return s.wrap("update", key, err)
	}
	return nil
}

// Scan implements Store
func (s *BadgerStore) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	var fnErr error
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(string(item.KeyCopy(nil)), value); err != nil {
				fnErr = err
				return err
			}
		}
		return nil
	})
	if fnErr != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if err != nil {
		return s.wrap("scan", prefix, err)
	}
	return nil
}

// DeletePrefix implements Store
func (s *BadgerStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, s.wrap("scan", prefix, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, s.wrap("delete prefix", prefix, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, s.wrap("delete prefix", prefix, err)
	}
	return len(keys), nil
}

// RunGC runs BadgerDB's value log garbage collection periodically until ctx is cancelled.
// Should be run in a goroutine.
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Debug("BadgerDB GC goroutine started.")
	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				continue
			}
			var err error
			// Loop GC until it returns ErrNoRewrite or another error
			for err == nil {
				err = s.db.RunValueLogGC(0.5)
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection: %v", ctx.Err())
			return
		}
	}
}

// Close implements Store
func (s *BadgerStore) Close() error {
	if s.db == nil || s.db.IsClosed() {
		return nil
	}
	if err := s.db.Close(); err != nil {
		s.log.Errorf("Error closing hash store: %v", err)
		return err
	}
	s.log.Info("Hash store closed.")
	return nil
}
