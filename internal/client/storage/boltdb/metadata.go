package boltdb

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/iudanet/chordkeeper/internal/client/storage"
)

const (
	keyLastSyncAt = "last_sync_at"
)

// SaveLastSyncAt saves the time of the last successful sync pass (ms precision)
func (s *Storage) SaveLastSyncAt(ctx context.Context, at time.Time) error {
	db := s.handle()
	if db == nil {
		return storage.ErrStorageClosed
	}

	return db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return fmt.Errorf("metadata bucket not found")
		}

		// Конвертируем unix ms в bytes
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(at.UnixMilli()))

		if err := bucket.Put([]byte(keyLastSyncAt), buf); err != nil {
			return fmt.Errorf("failed to save last sync time: %w", err)
		}

		return nil
	})
}

// GetLastSyncAt retrieves the time of the last successful sync pass
// Returns zero time if no sync has been performed yet
func (s *Storage) GetLastSyncAt(ctx context.Context) (time.Time, error) {
	db := s.handle()
	if db == nil {
		return time.Time{}, storage.ErrStorageClosed
	}

	var at time.Time

	err := db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return fmt.Errorf("metadata bucket not found")
		}

		buf := bucket.Get([]byte(keyLastSyncAt))
		if buf == nil {
			// Первая синхронизация
			return nil
		}

		at = time.UnixMilli(int64(binary.BigEndian.Uint64(buf)))
		return nil
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last sync time: %w", err)
	}

	return at, nil
}
