package boltdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/chordkeeper/internal/client/storage"
	"github.com/iudanet/chordkeeper/internal/models"
)

func testSong(id, owner string, updatedMs int64) *models.Song {
	return &models.Song{
		ID:          id,
		OwnerID:     owner,
		Title:       "Song " + id,
		Artist:      "Band",
		Key:         "Am",
		Tags:        []string{"rock"},
		Instruments: []string{"guitar"},
		Tempo:       120,
		CreatedAt:   time.UnixMilli(500).UTC(),
		UpdatedAt:   time.UnixMilli(updatedMs).UTC(),
	}
}

func TestUpsertAndGetSong(t *testing.T) {
	ctx := context.Background()
	store, cleanup := createTestStorage(t)
	defer cleanup()

	song := testSong("s1", "alice", 1000)
	require.NoError(t, store.UpsertSong(ctx, song))

	got, err := store.GetSong(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, song.Title, got.Title)
	assert.Equal(t, song.Tags, got.Tags)
	assert.True(t, song.UpdatedAt.Equal(got.UpdatedAt))

	// Перезапись без логики конфликтов: хранилище пишет как есть, даже более старую версию
	older := testSong("s1", "alice", 10)
	older.Title = "older"
	require.NoError(t, store.UpsertSong(ctx, older))

	got, err = store.GetSong(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "older", got.Title)
}

func TestUpsertSong_Invalid(t *testing.T) {
	ctx := context.Background()
	store, cleanup := createTestStorage(t)
	defer cleanup()

	assert.Error(t, store.UpsertSong(ctx, nil))
	assert.Error(t, store.UpsertSong(ctx, &models.Song{}))
}

func TestGetSong_NotFound(t *testing.T) {
	ctx := context.Background()
	store, cleanup := createTestStorage(t)
	defer cleanup()

	_, err := store.GetSong(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrSongNotFound)
}

func TestDeleteSong(t *testing.T) {
	ctx := context.Background()
	store, cleanup := createTestStorage(t)
	defer cleanup()

	require.NoError(t, store.UpsertSong(ctx, testSong("s1", "alice", 1000)))
	require.NoError(t, store.DeleteSong(ctx, "s1"))

	_, err := store.GetSong(ctx, "s1")
	assert.ErrorIs(t, err, storage.ErrSongNotFound)

	// Удаление отсутствующей записи не является ошибкой
	assert.NoError(t, store.DeleteSong(ctx, "s1"))
}

func TestListSongsByOwner(t *testing.T) {
	ctx := context.Background()
	store, cleanup := createTestStorage(t)
	defer cleanup()

	require.NoError(t, store.UpsertSong(ctx, testSong("a1", "alice", 1)))
	require.NoError(t, store.UpsertSong(ctx, testSong("a2", "alice", 2)))
	require.NoError(t, store.UpsertSong(ctx, testSong("b1", "bob", 3)))

	tests := []struct {
		name  string
		owner string
		want  []string
	}{
		{name: "alice", owner: "alice", want: []string{"a1", "a2"}},
		{name: "bob", owner: "bob", want: []string{"b1"}},
		{name: "unknown owner", owner: "carol", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			songs, err := store.ListSongsByOwner(ctx, tt.owner)
			require.NoError(t, err)

			var ids []string
			for _, s := range songs {
				ids = append(ids, s.ID)
			}
			assert.ElementsMatch(t, tt.want, ids)
		})
	}
}

func TestArrangements(t *testing.T) {
	ctx := context.Background()
	store, cleanup := createTestStorage(t)
	defer cleanup()

	_, err := store.GetArrangement(ctx, "s1")
	assert.ErrorIs(t, err, storage.ErrArrangementNotFound)

	arr := &models.Arrangement{
		SongID:    "s1",
		OwnerID:   "alice",
		Content:   "[Am] Hello [C] world",
		UpdatedAt: time.UnixMilli(1000).UTC(),
	}
	require.NoError(t, store.SaveArrangement(ctx, arr))

	got, err := store.GetArrangement(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, arr.Content, got.Content)

	require.NoError(t, store.DeleteArrangement(ctx, "s1"))
	_, err = store.GetArrangement(ctx, "s1")
	assert.ErrorIs(t, err, storage.ErrArrangementNotFound)
	assert.NoError(t, store.DeleteArrangement(ctx, "s1"))

	assert.Error(t, store.SaveArrangement(ctx, &models.Arrangement{}))
}
