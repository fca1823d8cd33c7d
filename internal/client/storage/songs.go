package storage

import (
	"context"

	"github.com/iudanet/chordkeeper/internal/models"
)

// SongStorage is the local per-device document store for songs.
// Single writer per device; no transactions across calls.
type SongStorage interface {
	// GetSong retrieves a song by ID
	// Returns ErrSongNotFound if song doesn't exist
	GetSong(ctx context.Context, id string) (*models.Song, error)

	// UpsertSong stores or overwrites a song as-is (no conflict logic here)
	UpsertSong(ctx context.Context, song *models.Song) error

	// DeleteSong removes a song. Deleting a missing song is a no-op.
	DeleteSong(ctx context.Context, id string) error

	// ListSongsByOwner returns all songs of an owner
	ListSongsByOwner(ctx context.Context, ownerID string) ([]*models.Song, error)
}

// ArrangementStorage stores chord chart bodies keyed by song id.
type ArrangementStorage interface {
	// GetArrangement returns ErrArrangementNotFound if the song has no body
	GetArrangement(ctx context.Context, songID string) (*models.Arrangement, error)

	SaveArrangement(ctx context.Context, arrangement *models.Arrangement) error

	// DeleteArrangement is a no-op for a missing body
	DeleteArrangement(ctx context.Context, songID string) error
}
