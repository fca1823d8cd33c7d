package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/chordkeeper/internal/models"
	"github.com/iudanet/chordkeeper/internal/server/storage"
	"github.com/iudanet/chordkeeper/pkg/api"
)

// fakeSongStore in-memory реализация SongStore с той же LWW семантикой, что и sqlite
type fakeSongStore struct {
	songs        map[string]*models.Song
	arrangements map[string]*models.Arrangement
	mu           sync.Mutex
}

func newFakeSongStore() *fakeSongStore {
	return &fakeSongStore{
		songs:        make(map[string]*models.Song),
		arrangements: make(map[string]*models.Arrangement),
	}
}

func (f *fakeSongStore) UpsertSong(_ context.Context, song *models.Song, arr *models.Arrangement) (*models.Song, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, ok := f.songs[song.ID]
	if ok && !song.IsNewerThan(existing) {
		return existing.Clone(), false, nil
	}
	f.songs[song.ID] = song.Clone()
	if arr != nil {
		c := *arr
		f.arrangements[song.ID] = &c
	}
	return song.Clone(), true, nil
}

func (f *fakeSongStore) GetSong(_ context.Context, id string) (*models.Song, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.songs[id]
	if !ok {
		return nil, storage.ErrSongNotFound
	}
	return s.Clone(), nil
}

func (f *fakeSongStore) ListSongsByOwner(_ context.Context, ownerID string) ([]*models.Song, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Song
	for _, s := range f.songs {
		if s.OwnerID == ownerID {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

func (f *fakeSongStore) DeleteSong(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.songs[id]; !ok {
		return storage.ErrSongNotFound
	}
	delete(f.songs, id)
	delete(f.arrangements, id)
	return nil
}

func (f *fakeSongStore) GetArrangement(_ context.Context, songID string) (*models.Arrangement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.arrangements[songID]
	if !ok {
		return nil, storage.ErrArrangementNotFound
	}
	c := *a
	return &c, nil
}

type recordingPublisher struct {
	events []models.ChangeEvent
	owners []string
	mu     sync.Mutex
}

func (p *recordingPublisher) Publish(ownerID string, event models.ChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.owners = append(p.owners, ownerID)
	p.events = append(p.events, event)
}

// newSongsMux собирает маршруты так же, как сервер
func newSongsMux(h *SongsHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/songs", h.List)
	mux.HandleFunc("PUT /api/v1/songs/{id}", h.Upsert)
	mux.HandleFunc("DELETE /api/v1/songs/{id}", h.Delete)
	mux.HandleFunc("GET /api/v1/songs/{id}/arrangement", h.GetArrangement)
	return mux
}

func doRequest(t *testing.T, mux http.Handler, method, path, owner string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if owner != "" {
		req = req.WithContext(WithOwnerID(req.Context(), owner))
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func wireSong(id, owner string, updatedMs int64) api.Song {
	return api.Song{ID: id, OwnerID: owner, Title: "Song " + id, CreatedAt: 1, UpdatedAt: updatedMs}
}

func TestSongsHandler_UpsertInsertThenUpdate(t *testing.T) {
	store := newFakeSongStore()
	pub := &recordingPublisher{}
	mux := newSongsMux(NewSongsHandler(setupTestLogger(), store, pub))

	w := doRequest(t, mux, http.MethodPut, "/api/v1/songs/a", "alice", api.UpsertSongRequest{
		Song:        wireSong("a", "alice", 100),
		Arrangement: &api.Arrangement{Content: "[Am]", UpdatedAt: 100},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.UpsertSongResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Applied)
	assert.Equal(t, int64(100), resp.Song.UpdatedAt)

	arr, err := store.GetArrangement(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "alice", arr.OwnerID)
	assert.Equal(t, "a", arr.SongID)

	// Более старая версия не применяется и не публикуется
	w = doRequest(t, mux, http.MethodPut, "/api/v1/songs/a", "alice", api.UpsertSongRequest{Song: wireSong("a", "alice", 50)})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.False(t, resp.Applied)
	assert.Equal(t, int64(100), resp.Song.UpdatedAt)

	w = doRequest(t, mux, http.MethodPut, "/api/v1/songs/a", "alice", api.UpsertSongRequest{Song: wireSong("a", "", 200)})
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, pub.events, 2)
	assert.Equal(t, models.ChangeInsert, pub.events[0].Type)
	assert.Equal(t, models.ChangeUpdate, pub.events[1].Type)
	assert.Equal(t, int64(200), pub.events[1].New.UpdatedAt.UnixMilli())
	assert.Equal(t, []string{"alice", "alice"}, pub.owners)
}

func TestSongsHandler_UpsertValidation(t *testing.T) {
	store := newFakeSongStore()
	_, _, err := store.UpsertSong(context.Background(), &models.Song{ID: "bobs", OwnerID: "bob", UpdatedAt: time.UnixMilli(1)}, nil)
	require.NoError(t, err)
	mux := newSongsMux(NewSongsHandler(setupTestLogger(), store, &recordingPublisher{}))

	tests := []struct {
		name     string
		path     string
		owner    string
		body     any
		wantCode int
	}{
		{name: "no owner in context", path: "/api/v1/songs/a", owner: "", body: api.UpsertSongRequest{Song: wireSong("a", "alice", 1)}, wantCode: http.StatusUnauthorized},
		{name: "invalid body", path: "/api/v1/songs/a", owner: "alice", body: "nope", wantCode: http.StatusBadRequest},
		{name: "id mismatch", path: "/api/v1/songs/a", owner: "alice", body: api.UpsertSongRequest{Song: wireSong("b", "alice", 1)}, wantCode: http.StatusBadRequest},
		{name: "missing updated_at", path: "/api/v1/songs/a", owner: "alice", body: api.UpsertSongRequest{Song: wireSong("a", "alice", 0)}, wantCode: http.StatusBadRequest},
		{name: "foreign owner in body", path: "/api/v1/songs/a", owner: "alice", body: api.UpsertSongRequest{Song: wireSong("a", "bob", 1)}, wantCode: http.StatusForbidden},
		{name: "overwrite foreign song", path: "/api/v1/songs/bobs", owner: "alice", body: api.UpsertSongRequest{Song: wireSong("bobs", "alice", 5)}, wantCode: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, mux, http.MethodPut, tt.path, tt.owner, tt.body)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestSongsHandler_ListOnlyOwn(t *testing.T) {
	store := newFakeSongStore()
	ctx := context.Background()
	for _, s := range []*models.Song{
		{ID: "a1", OwnerID: "alice", UpdatedAt: time.UnixMilli(1)},
		{ID: "a2", OwnerID: "alice", UpdatedAt: time.UnixMilli(2)},
		{ID: "b1", OwnerID: "bob", UpdatedAt: time.UnixMilli(3)},
	} {
		_, _, err := store.UpsertSong(ctx, s, nil)
		require.NoError(t, err)
	}
	mux := newSongsMux(NewSongsHandler(setupTestLogger(), store, &recordingPublisher{}))

	w := doRequest(t, mux, http.MethodGet, "/api/v1/songs", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.ListSongsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	ids := make([]string, 0, len(resp.Songs))
	for _, s := range resp.Songs {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []string{"a1", "a2"}, ids)

	// Пустая библиотека -> пустой массив, не null
	w = doRequest(t, mux, http.MethodGet, "/api/v1/songs", "carol", nil)
	assert.Contains(t, w.Body.String(), `"songs":[]`)
}

func TestSongsHandler_DeleteAndArrangement(t *testing.T) {
	store := newFakeSongStore()
	pub := &recordingPublisher{}
	ctx := context.Background()
	_, _, err := store.UpsertSong(ctx,
		&models.Song{ID: "a", OwnerID: "alice", UpdatedAt: time.UnixMilli(10)},
		&models.Arrangement{SongID: "a", OwnerID: "alice", Content: "[G]", UpdatedAt: time.UnixMilli(10)})
	require.NoError(t, err)
	mux := newSongsMux(NewSongsHandler(setupTestLogger(), store, pub))

	w := doRequest(t, mux, http.MethodGet, "/api/v1/songs/a/arrangement", "bob", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(t, mux, http.MethodGet, "/api/v1/songs/a/arrangement", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var arr api.Arrangement
	require.NoError(t, json.NewDecoder(w.Body).Decode(&arr))
	assert.Equal(t, "[G]", arr.Content)

	w = doRequest(t, mux, http.MethodDelete, "/api/v1/songs/a", "bob", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(t, mux, http.MethodDelete, "/api/v1/songs/a", "alice", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	require.Len(t, pub.events, 1)
	assert.Equal(t, models.ChangeDelete, pub.events[0].Type)
	assert.Equal(t, "a", pub.events[0].Old.ID)

	w = doRequest(t, mux, http.MethodDelete, "/api/v1/songs/a", "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doRequest(t, mux, http.MethodGet, "/api/v1/songs/a/arrangement", "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
