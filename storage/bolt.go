package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ruteri/wallet-recovery-vault/interfaces"
	"go.etcd.io/bbolt"
)

var storeBucket = []byte("secure_store")

// BoltStore implements a SecureStore on a single bbolt database file.
// Every key lives in one bucket; prefix listing uses a cursor seek.
type BoltStore struct {
	db   *bbolt.DB
	path string
	log  *slog.Logger
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string, log *slog.Logger) (*BoltStore, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(storeBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltStore{db: db, path: path, log: log}, nil
}

func (b *BoltStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := interfaces.ValidateStoreKey(key); err != nil {
		return nil, err
	}
	var value []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(storeBucket).Get([]byte(key))
		if v == nil {
			return interfaces.ErrKeyNotFound
		}
		// bbolt values are only valid inside the transaction.
		value = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (b *BoltStore) Set(ctx context.Context, key string, value []byte) error {
	if err := interfaces.ValidateStoreKey(key); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(storeBucket).Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("failed to write to bolt database: %w", err)
	}
	b.log.Debug("Stored value in bolt", slog.String("key", key), slog.Int("size", len(value)))
	return nil
}

func (b *BoltStore) Remove(ctx context.Context, key string) error {
	if err := interfaces.ValidateStoreKey(key); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(storeBucket)
		if bucket.Get([]byte(key)) == nil {
			return interfaces.ErrKeyNotFound
		}
		return bucket.Delete([]byte(key))
	})
}

func (b *BoltStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(storeBucket).Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Available reports whether the database is open.
func (b *BoltStore) Available(ctx context.Context) bool {
	return b.db.View(func(tx *bbolt.Tx) error { return nil }) == nil
}

// Name returns a unique identifier for this storage backend.
func (b *BoltStore) Name() string {
	return fmt.Sprintf("bolt-%s", filepath.Base(b.path))
}

// Close releases the database file lock.
func (b *BoltStore) Close() error {
	return b.db.Close()
}
