// Package library is the local-first song library of one device.
// Writes go to the local store first; syncing them is best effort.
package library

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/iudanet/chordkeeper/internal/client/storage"
	"github.com/iudanet/chordkeeper/internal/crdt"
	"github.com/iudanet/chordkeeper/internal/models"
)

// ErrInvalidSong is returned for songs that cannot be stored.
var ErrInvalidSong = errors.New("invalid song")

// Store локальное хранилище песен и аранжировок
type Store interface {
	storage.SongStorage
	storage.ArrangementStorage
}

// Pusher propagates local writes to the remote store.
type Pusher interface {
	PushOne(ctx context.Context, song *models.Song) error
	PushDelete(ctx context.Context, songID string) error
}

// Service определяет интерфейс библиотеки песен
type Service interface {
	AddSong(ctx context.Context, song *models.Song) error
	UpdateSong(ctx context.Context, song *models.Song) error
	GetSong(ctx context.Context, id string) (*models.Song, error)
	ListSongs(ctx context.Context, ownerID, tag string) ([]*models.Song, error)
	DeleteSong(ctx context.Context, id string) error

	SetArrangement(ctx context.Context, songID, content string) error
	GetArrangement(ctx context.Context, songID string) (*models.Arrangement, error)

	Manifest(ctx context.Context, ownerID string, ids ...string) (models.Manifest, error)
	ContentProvider() func(ctx context.Context, id string) (string, bool)
}

type service struct {
	store  Store
	clock  *crdt.Clock
	pusher Pusher // nil = только локально
	logger *slog.Logger
}

// NewService creates the library service. pusher may be nil for an
// offline-only device.
func NewService(store Store, clock *crdt.Clock, pusher Pusher, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{
		store:  store,
		clock:  clock,
		pusher: pusher,
		logger: logger,
	}
}

// AddSong stores a new song. An empty ID is generated.
func (s *service) AddSong(ctx context.Context, song *models.Song) error {
	if err := validate(song); err != nil {
		return err
	}
	if song.ID == "" {
		song.ID = uuid.New().String()
	}

	now := s.clock.Now().UTC()
	song.CreatedAt = now
	song.UpdatedAt = now

	if err := s.store.UpsertSong(ctx, song); err != nil {
		return fmt.Errorf("failed to save song: %w", err)
	}

	s.logger.Debug("song added", slog.String("song_id", song.ID))
	s.push(ctx, song)
	return nil
}

// UpdateSong overwrites an existing song and stamps a new version.
func (s *service) UpdateSong(ctx context.Context, song *models.Song) error {
	if err := validate(song); err != nil {
		return err
	}
	existing, err := s.store.GetSong(ctx, song.ID)
	if err != nil {
		return fmt.Errorf("failed to get song: %w", err)
	}

	song.OwnerID = existing.OwnerID
	song.CreatedAt = existing.CreatedAt
	song.UpdatedAt = s.clock.Now().UTC()

	if err := s.store.UpsertSong(ctx, song); err != nil {
		return fmt.Errorf("failed to save song: %w", err)
	}

	s.push(ctx, song)
	return nil
}

func (s *service) GetSong(ctx context.Context, id string) (*models.Song, error) {
	song, err := s.store.GetSong(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get song: %w", err)
	}
	return song, nil
}

// ListSongs returns the owner's songs sorted by title. A non-empty tag
// keeps only songs carrying it.
func (s *service) ListSongs(ctx context.Context, ownerID, tag string) ([]*models.Song, error) {
	songs, err := s.store.ListSongsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list songs: %w", err)
	}

	if tag != "" {
		songs = slices.DeleteFunc(songs, func(song *models.Song) bool {
			return !slices.ContainsFunc(song.Tags, func(t string) bool { return strings.EqualFold(t, tag) })
		})
	}
	slices.SortFunc(songs, func(a, b *models.Song) int {
		return cmp.Or(
			cmp.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title)),
			cmp.Compare(a.ID, b.ID),
		)
	})

	return songs, nil
}

// DeleteSong removes the song and its arrangement locally, then remotely.
func (s *service) DeleteSong(ctx context.Context, id string) error {
	if _, err := s.store.GetSong(ctx, id); err != nil {
		return fmt.Errorf("failed to get song: %w", err)
	}
	if err := s.store.DeleteArrangement(ctx, id); err != nil {
		return fmt.Errorf("failed to delete arrangement: %w", err)
	}
	if err := s.store.DeleteSong(ctx, id); err != nil {
		return fmt.Errorf("failed to delete song: %w", err)
	}

	if s.pusher != nil {
		if err := s.pusher.PushDelete(ctx, id); err != nil {
			s.logger.Warn("song deleted locally, remote delete failed",
				slog.String("song_id", id),
				slog.Any("error", err))
		}
	}
	return nil
}

// SetArrangement stores the chord chart of a song. The song gets a new
// version so the body travels with the next push.
func (s *service) SetArrangement(ctx context.Context, songID, content string) error {
	song, err := s.store.GetSong(ctx, songID)
	if err != nil {
		return fmt.Errorf("failed to get song: %w", err)
	}

	now := s.clock.Now().UTC()
	arrangement := &models.Arrangement{
		SongID:    songID,
		OwnerID:   song.OwnerID,
		Content:   content,
		UpdatedAt: now,
	}
	if err := s.store.SaveArrangement(ctx, arrangement); err != nil {
		return fmt.Errorf("failed to save arrangement: %w", err)
	}

	song.UpdatedAt = now
	if err := s.store.UpsertSong(ctx, song); err != nil {
		return fmt.Errorf("failed to save song: %w", err)
	}

	s.push(ctx, song)
	return nil
}

func (s *service) GetArrangement(ctx context.Context, songID string) (*models.Arrangement, error) {
	arrangement, err := s.store.GetArrangement(ctx, songID)
	if err != nil {
		return nil, fmt.Errorf("failed to get arrangement: %w", err)
	}
	return arrangement, nil
}

// Manifest builds the listing shared in a session. Without ids every song
// of the owner is listed; with ids they are listed in the given order.
func (s *service) Manifest(ctx context.Context, ownerID string, ids ...string) (models.Manifest, error) {
	var songs []*models.Song
	if len(ids) == 0 {
		all, err := s.ListSongs(ctx, ownerID, "")
		if err != nil {
			return nil, err
		}
		songs = all
	} else {
		for _, id := range ids {
			song, err := s.store.GetSong(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("song %s: %w", id, err)
			}
			songs = append(songs, song)
		}
	}

	manifest := make(models.Manifest, 0, len(songs))
	for _, song := range songs {
		manifest = append(manifest, song.Summary())
	}
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	return manifest, nil
}

// ContentProvider serves arrangement bodies to session guests.
func (s *service) ContentProvider() func(ctx context.Context, id string) (string, bool) {
	return func(ctx context.Context, id string) (string, bool) {
		arrangement, err := s.store.GetArrangement(ctx, id)
		if err != nil {
			if !errors.Is(err, storage.ErrArrangementNotFound) {
				s.logger.Warn("failed to read arrangement", slog.String("song_id", id), slog.Any("error", err))
			}
			return "", false
		}
		return arrangement.Content, true
	}
}

// push отправляет запись на сервер; ошибка не отменяет локальную запись
func (s *service) push(ctx context.Context, song *models.Song) {
	if s.pusher == nil {
		return
	}
	if err := s.pusher.PushOne(ctx, song); err != nil {
		s.logger.Warn("song saved locally, push failed",
			slog.String("song_id", song.ID),
			slog.Any("error", err))
	}
}

func validate(song *models.Song) error {
	switch {
	case song == nil:
		return fmt.Errorf("%w: nil song", ErrInvalidSong)
	case strings.TrimSpace(song.Title) == "":
		return fmt.Errorf("%w: title is required", ErrInvalidSong)
	case song.OwnerID == "":
		return fmt.Errorf("%w: owner is required", ErrInvalidSong)
	case song.Tempo < 0:
		return fmt.Errorf("%w: tempo cannot be negative", ErrInvalidSong)
	}
	return nil
}
