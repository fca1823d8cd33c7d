package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iudanet/chordkeeper/internal/models"
	"github.com/iudanet/chordkeeper/internal/server/storage"
)

// GetArrangement retrieves the chord chart body of a song
// Returns ErrArrangementNotFound if the song has no body
func (s *Storage) GetArrangement(ctx context.Context, songID string) (*models.Arrangement, error) {
	query := `
		SELECT song_id, owner_id, content, updated_at
		FROM arrangements
		WHERE song_id = ?
	`

	arrangement := &models.Arrangement{}
	var updatedAt int64

	err := s.db.QueryRowContext(ctx, query, songID).Scan(
		&arrangement.SongID,
		&arrangement.OwnerID,
		&arrangement.Content,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrArrangementNotFound
		}
		return nil, fmt.Errorf("failed to get arrangement: %w", err)
	}

	arrangement.UpdatedAt = msToTime(updatedAt)

	return arrangement, nil
}
