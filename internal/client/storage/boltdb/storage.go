package boltdb

import (
	"context"
	"fmt"
	"sync"

	"go.etcd.io/bbolt"
)

var (
	// BoltDB bucket names
	bucketProfile      = []byte("profile")
	bucketSongs        = []byte("songs")
	bucketArrangements = []byte("arrangements")
	bucketMetadata     = []byte("metadata")
)

// Storage represents BoltDB storage implementation for client.
// It implements storage.SongStorage, storage.ArrangementStorage,
// storage.MetadataStorage and storage.ProfileStorage.
type Storage struct {
	db *bbolt.DB
	mu sync.RWMutex
}

// New creates a new BoltDB storage instance
// dbPath is the path to the BoltDB database file
func New(ctx context.Context, dbPath string) (*Storage, error) {
	// Открываем BoltDB
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	storage := &Storage{db: db}

	// Инициализируем buckets
	if err := storage.initBuckets(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return storage, nil
}

// Close closes the database connection. Subsequent calls return ErrStorageClosed.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// handle возвращает открытую БД или nil, если хранилище закрыто
func (s *Storage) handle() *bbolt.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.db
}

// initBuckets создает необходимые buckets если они не существуют
func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketProfile, bucketSongs, bucketArrangements, bucketMetadata} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}
