package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/chordkeeper/internal/client/storage"
	"github.com/iudanet/chordkeeper/internal/models"
)

// SaveArrangement stores the chord chart body of a song
func (s *Storage) SaveArrangement(ctx context.Context, arrangement *models.Arrangement) error {
	db := s.handle()
	if db == nil {
		return storage.ErrStorageClosed
	}
	if arrangement == nil || arrangement.SongID == "" {
		return fmt.Errorf("arrangement song id is required")
	}

	data, err := json.Marshal(arrangement)
	if err != nil {
		return fmt.Errorf("failed to marshal arrangement: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketArrangements)
		if bucket == nil {
			return fmt.Errorf("arrangements bucket not found")
		}
		return bucket.Put([]byte(arrangement.SongID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save arrangement: %w", err)
	}

	return nil
}

// GetArrangement retrieves the body of a song
func (s *Storage) GetArrangement(ctx context.Context, songID string) (*models.Arrangement, error) {
	db := s.handle()
	if db == nil {
		return nil, storage.ErrStorageClosed
	}

	var arrangement *models.Arrangement

	err := db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketArrangements)
		if bucket == nil {
			return storage.ErrArrangementNotFound
		}

		data := bucket.Get([]byte(songID))
		if data == nil {
			return storage.ErrArrangementNotFound
		}

		arrangement = &models.Arrangement{}
		if err := json.Unmarshal(data, arrangement); err != nil {
			return fmt.Errorf("failed to unmarshal arrangement: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return arrangement, nil
}

// DeleteArrangement removes the body of a song
func (s *Storage) DeleteArrangement(ctx context.Context, songID string) error {
	db := s.handle()
	if db == nil {
		return storage.ErrStorageClosed
	}

	err := db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketArrangements)
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(songID))
	})
	if err != nil {
		return fmt.Errorf("failed to delete arrangement: %w", err)
	}

	return nil
}
