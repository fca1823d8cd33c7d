package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/chordkeeper/internal/client/storage"
	"github.com/iudanet/chordkeeper/internal/models"
)

// UpsertSong stores or overwrites a song in BoltDB
func (s *Storage) UpsertSong(ctx context.Context, song *models.Song) error {
	db := s.handle()
	if db == nil {
		return storage.ErrStorageClosed
	}
	if song == nil || song.ID == "" {
		return fmt.Errorf("song id is required")
	}

	// Сериализуем song в JSON
	data, err := json.Marshal(song)
	if err != nil {
		return fmt.Errorf("failed to marshal song: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSongs)
		if bucket == nil {
			return fmt.Errorf("songs bucket not found")
		}

		// Сохраняем по ключу ID
		if err := bucket.Put([]byte(song.ID), data); err != nil {
			return fmt.Errorf("failed to save song: %w", err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// GetSong retrieves a song by ID
func (s *Storage) GetSong(ctx context.Context, id string) (*models.Song, error) {
	db := s.handle()
	if db == nil {
		return nil, storage.ErrStorageClosed
	}

	var song *models.Song

	err := db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSongs)
		if bucket == nil {
			return storage.ErrSongNotFound
		}

		data := bucket.Get([]byte(id))
		if data == nil {
			return storage.ErrSongNotFound
		}

		song = &models.Song{}
		if err := json.Unmarshal(data, song); err != nil {
			return fmt.Errorf("failed to unmarshal song: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return song, nil
}

// DeleteSong removes a song. Missing songs are ignored.
func (s *Storage) DeleteSong(ctx context.Context, id string) error {
	db := s.handle()
	if db == nil {
		return storage.ErrStorageClosed
	}

	err := db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSongs)
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("delete transaction failed: %w", err)
	}

	return nil
}

// ListSongsByOwner returns all songs belonging to ownerID
func (s *Storage) ListSongsByOwner(ctx context.Context, ownerID string) ([]*models.Song, error) {
	db := s.handle()
	if db == nil {
		return nil, storage.ErrStorageClosed
	}

	var songs []*models.Song

	err := db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSongs)
		if bucket == nil {
			// Нет bucket - возвращаем пустой список
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var song models.Song
			if err := json.Unmarshal(v, &song); err != nil {
				return fmt.Errorf("failed to unmarshal song %s: %w", k, err)
			}

			// Фильтруем по владельцу
			if song.OwnerID == ownerID {
				songs = append(songs, &song)
			}

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list songs: %w", err)
	}

	return songs, nil
}
