package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/chordkeeper/internal/client/storage"
)

var profileKey = []byte("current")

// SaveProfile stores the owner profile
func (s *Storage) SaveProfile(ctx context.Context, profile *storage.Profile) error {
	db := s.handle()
	if db == nil {
		return storage.ErrStorageClosed
	}

	return db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketProfile)
		if bucket == nil {
			return fmt.Errorf("profile bucket not found")
		}

		data, err := json.Marshal(profile)
		if err != nil {
			return fmt.Errorf("failed to marshal profile: %w", err)
		}

		if err := bucket.Put(profileKey, data); err != nil {
			return fmt.Errorf("failed to save profile: %w", err)
		}

		return nil
	})
}

// GetProfile retrieves stored owner profile
func (s *Storage) GetProfile(ctx context.Context) (*storage.Profile, error) {
	db := s.handle()
	if db == nil {
		return nil, storage.ErrStorageClosed
	}

	var profile *storage.Profile

	err := db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketProfile)
		if bucket == nil {
			return fmt.Errorf("profile bucket not found")
		}

		data := bucket.Get(profileKey)
		if data == nil {
			return storage.ErrProfileNotFound
		}

		profile = &storage.Profile{}
		if err := json.Unmarshal(data, profile); err != nil {
			return fmt.Errorf("failed to unmarshal profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return profile, nil
}

// DeleteProfile removes stored profile (logout)
func (s *Storage) DeleteProfile(ctx context.Context) error {
	db := s.handle()
	if db == nil {
		return storage.ErrStorageClosed
	}

	return db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketProfile)
		if bucket == nil {
			return fmt.Errorf("profile bucket not found")
		}
		return bucket.Delete(profileKey)
	})
}
