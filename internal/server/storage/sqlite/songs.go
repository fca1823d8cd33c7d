package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/chordkeeper/internal/models"
	"github.com/iudanet/chordkeeper/internal/server/storage"
)

const songColumns = `id, owner_id, title, artist, song_key, tempo, tags, instruments, created_at, updated_at`

// rowScanner общий интерфейс для *sql.Row и *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// UpsertSong creates or updates a song in a single transaction.
// Only strictly newer versions overwrite the stored row, so two devices racing
// on the same id converge on the later UpdatedAt whatever the arrival order.
func (s *Storage) UpsertSong(ctx context.Context, song *models.Song, arrangement *models.Arrangement) (*models.Song, bool, error) {
	tags, err := json.Marshal(nonNil(song.Tags))
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal tags: %w", err)
	}
	instruments, err := json.Marshal(nonNil(song.Instruments))
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal instruments: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO songs (` + songColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			artist = excluded.artist,
			song_key = excluded.song_key,
			tempo = excluded.tempo,
			tags = excluded.tags,
			instruments = excluded.instruments,
			updated_at = excluded.updated_at
		WHERE excluded.updated_at > songs.updated_at
	`

	result, err := tx.ExecContext(ctx, query,
		song.ID,
		song.OwnerID,
		song.Title,
		song.Artist,
		song.Key,
		song.Tempo,
		string(tags),
		string(instruments),
		song.CreatedAt.UnixMilli(),
		song.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert song: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	applied := affected > 0

	// Тело пишется только вместе с победившей версией записи
	if applied && arrangement != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO arrangements (song_id, owner_id, content, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(song_id) DO UPDATE SET
				owner_id = excluded.owner_id,
				content = excluded.content,
				updated_at = excluded.updated_at
		`, song.ID, song.OwnerID, arrangement.Content, arrangement.UpdatedAt.UnixMilli())
		if err != nil {
			return nil, false, fmt.Errorf("failed to save arrangement: %w", err)
		}
	}

	stored, err := scanSong(tx.QueryRowContext(ctx, `SELECT `+songColumns+` FROM songs WHERE id = ?`, song.ID))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read stored song: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit: %w", err)
	}

	return stored, applied, nil
}

// GetSong retrieves a single song by ID
// Returns ErrSongNotFound if song doesn't exist
func (s *Storage) GetSong(ctx context.Context, id string) (*models.Song, error) {
	song, err := scanSong(s.db.QueryRowContext(ctx, `SELECT `+songColumns+` FROM songs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrSongNotFound
		}
		return nil, fmt.Errorf("failed to get song: %w", err)
	}
	return song, nil
}

// ListSongsByOwner retrieves all songs of an owner ordered by creation time
func (s *Storage) ListSongsByOwner(ctx context.Context, ownerID string) (songs []*models.Song, err error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+songColumns+` FROM songs WHERE owner_id = ? ORDER BY created_at ASC, id ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query songs: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for rows.Next() {
		song, err := scanSong(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan song: %w", err)
		}
		songs = append(songs, song)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return songs, nil
}

// DeleteSong removes a song; its arrangement goes with it (ON DELETE CASCADE)
// Returns ErrSongNotFound if song doesn't exist
func (s *Storage) DeleteSong(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM songs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete song: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return storage.ErrSongNotFound
	}

	return nil
}

func scanSong(row rowScanner) (*models.Song, error) {
	song := &models.Song{}
	var tags, instruments string
	var createdAt, updatedAt int64

	err := row.Scan(
		&song.ID,
		&song.OwnerID,
		&song.Title,
		&song.Artist,
		&song.Key,
		&song.Tempo,
		&tags,
		&instruments,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tags), &song.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	if err := json.Unmarshal([]byte(instruments), &song.Instruments); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instruments: %w", err)
	}
	if len(song.Tags) == 0 {
		song.Tags = nil
	}
	if len(song.Instruments) == 0 {
		song.Instruments = nil
	}

	song.CreatedAt = msToTime(createdAt)
	song.UpdatedAt = msToTime(updatedAt)

	return song, nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
