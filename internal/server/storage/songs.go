package storage

import (
	"context"

	"github.com/iudanet/chordkeeper/internal/models"
)

// SongStorage defines interface for the remote song store
type SongStorage interface {
	// UpsertSong creates or updates a song together with its optional arrangement.
	// Read-compare-write: the write is applied only when the row is new or the
	// incoming UpdatedAt is strictly greater than the stored one.
	// Returns the stored version after the call and whether the write was applied.
	UpsertSong(ctx context.Context, song *models.Song, arrangement *models.Arrangement) (*models.Song, bool, error)

	// GetSong retrieves a single song by ID
	// Returns ErrSongNotFound if song doesn't exist
	GetSong(ctx context.Context, id string) (*models.Song, error)

	// ListSongsByOwner retrieves all songs of an owner
	// Returns empty slice if no songs found
	ListSongsByOwner(ctx context.Context, ownerID string) ([]*models.Song, error)

	// DeleteSong removes a song and its arrangement
	// Returns ErrSongNotFound if song doesn't exist
	DeleteSong(ctx context.Context, id string) error
}

// ArrangementStorage defines interface for chord chart bodies
type ArrangementStorage interface {
	// GetArrangement returns ErrArrangementNotFound if song has no body
	GetArrangement(ctx context.Context, songID string) (*models.Arrangement, error)
}
