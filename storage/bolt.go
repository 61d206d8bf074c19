package storage

import (
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("storage: unknown backend")

var boltBucket = []byte("escrow")

// BoltDB is a single-file persistent store. Every key lives in one bucket.
type BoltDB struct {
	db *bolt.DB
}

// NewBoltDB opens or creates the database file at path.
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltDB{db: db}, nil
}

func (b *BoltDB) Put(key []byte, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put(key, value)
	})
}

// Get returns a copy of the stored value; bolt slices are only valid inside
// the transaction.
func (b *BoltDB) Get(key []byte) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(boltBucket).Get(key)
		if value == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), value...)
		return nil
	})
	return out, err
}

func (b *BoltDB) Has(key []byte) (bool, error) {
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(boltBucket).Get(key) != nil
		return nil
	})
	return found, err
}

func (b *BoltDB) Delete(key []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete(key)
	})
}

// Write applies the batch inside one bolt transaction.
func (b *BoltDB) Write(batch *Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		for _, op := range batch.ops {
			if op.delete {
				if err := bucket.Delete(op.key); err != nil {
					return err
				}
				continue
			}
			if err := bucket.Put(op.key, op.value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BoltDB) Close() {
	_ = b.db.Close()
}

// Open opens the persistent backend by name: "leveldb" (directory) or
// "bolt" (single file).
func Open(backend, path string) (Database, error) {
	var (
		db  Database
		err error
	)
	switch backend {
	case "", BackendLevelDB:
		db, err = NewLevelDB(path)
	case BackendBolt:
		db, err = NewBoltDB(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
	if err != nil {
		return nil, err
	}
	return db, nil
}
