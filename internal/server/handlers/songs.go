package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/iudanet/chordkeeper/internal/models"
	"github.com/iudanet/chordkeeper/internal/server/storage"
	"github.com/iudanet/chordkeeper/pkg/api"
)

// maxSongBodyBytes ограничение на размер тела PUT (песня + аккорды)
const maxSongBodyBytes = 4 << 20

// SongStore определяет хранилище, с которым работает SongsHandler
type SongStore interface {
	storage.SongStorage
	storage.ArrangementStorage
}

// ChangePublisher получает события об успешных изменениях
type ChangePublisher interface {
	Publish(ownerID string, event models.ChangeEvent)
}

// SongsHandler handles song CRUD requests of the remote store
type SongsHandler struct {
	logger    *slog.Logger
	store     SongStore
	publisher ChangePublisher
}

// NewSongsHandler creates a new songs handler
func NewSongsHandler(logger *slog.Logger, store SongStore, publisher ChangePublisher) *SongsHandler {
	return &SongsHandler{
		logger:    logger,
		store:     store,
		publisher: publisher,
	}
}

// List обрабатывает GET /api/v1/songs
func (h *SongsHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := GetOwnerID(r.Context())
	if !ok {
		sendError(h.logger, w, "owner not found in context", http.StatusUnauthorized)
		return
	}

	songs, err := h.store.ListSongsByOwner(r.Context(), ownerID)
	if err != nil {
		h.logger.Error("failed to list songs", slog.Any("error", err), slog.String("owner_id", ownerID))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	resp := api.ListSongsResponse{Songs: make([]api.Song, 0, len(songs))}
	for _, s := range songs {
		resp.Songs = append(resp.Songs, api.SongFromModel(s))
	}

	sendJSON(h.logger, w, resp, http.StatusOK)
}

// Upsert обрабатывает PUT /api/v1/songs/{id}
// Запись применяется только если updated_at строго больше сохраненного
func (h *SongsHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, ok := GetOwnerID(ctx)
	if !ok {
		sendError(h.logger, w, "owner not found in context", http.StatusUnauthorized)
		return
	}

	id := r.PathValue("id")

	var req api.UpsertSongRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSongBodyBytes)).Decode(&req); err != nil {
		h.logger.Warn("failed to decode upsert request", slog.Any("error", err))
		sendError(h.logger, w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Song.ID != id {
		sendError(h.logger, w, "song id does not match path", http.StatusBadRequest)
		return
	}
	if req.Song.UpdatedAt <= 0 {
		sendError(h.logger, w, "updated_at is required", http.StatusBadRequest)
		return
	}
	if req.Song.OwnerID == "" {
		req.Song.OwnerID = ownerID
	}
	if req.Song.OwnerID != ownerID {
		h.logger.Warn("song owner mismatch",
			slog.String("expected", ownerID),
			slog.String("got", req.Song.OwnerID),
			slog.String("song_id", id))
		sendError(h.logger, w, "song belongs to another owner", http.StatusForbidden)
		return
	}

	existing, err := h.store.GetSong(ctx, id)
	if err != nil && !errors.Is(err, storage.ErrSongNotFound) {
		h.logger.Error("failed to load song", slog.Any("error", err), slog.String("song_id", id))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}
	if existing != nil && existing.OwnerID != ownerID {
		sendError(h.logger, w, "song belongs to another owner", http.StatusForbidden)
		return
	}

	song := req.Song.ToModel()
	arrangement := req.Arrangement.ToModel()
	if arrangement != nil {
		arrangement.SongID = id
		arrangement.OwnerID = ownerID
	}

	stored, applied, err := h.store.UpsertSong(ctx, song, arrangement)
	if err != nil {
		h.logger.Error("failed to upsert song", slog.Any("error", err), slog.String("song_id", id))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	if applied {
		event := models.ChangeEvent{Type: models.ChangeUpdate, New: stored}
		if existing == nil {
			event.Type = models.ChangeInsert
		} else {
			event.Old = existing
		}
		h.publisher.Publish(ownerID, event)
	} else {
		h.logger.Debug("song not applied (stored version is newer or equal)", slog.String("song_id", id))
	}

	sendJSON(h.logger, w, api.UpsertSongResponse{Song: api.SongFromModel(stored), Applied: applied}, http.StatusOK)
}

// Delete обрабатывает DELETE /api/v1/songs/{id}
func (h *SongsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	existing, ok := h.ownedSong(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteSong(ctx, existing.ID); err != nil {
		if errors.Is(err, storage.ErrSongNotFound) {
			sendError(h.logger, w, "song not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to delete song", slog.Any("error", err), slog.String("song_id", existing.ID))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.publisher.Publish(existing.OwnerID, models.ChangeEvent{Type: models.ChangeDelete, Old: existing})

	w.WriteHeader(http.StatusNoContent)
}

// GetArrangement обрабатывает GET /api/v1/songs/{id}/arrangement
func (h *SongsHandler) GetArrangement(w http.ResponseWriter, r *http.Request) {
	song, ok := h.ownedSong(w, r)
	if !ok {
		return
	}

	arrangement, err := h.store.GetArrangement(r.Context(), song.ID)
	if err != nil {
		if errors.Is(err, storage.ErrArrangementNotFound) {
			sendError(h.logger, w, "arrangement not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to get arrangement", slog.Any("error", err), slog.String("song_id", song.ID))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	sendJSON(h.logger, w, api.ArrangementFromModel(arrangement), http.StatusOK)
}

// ownedSong загружает песню из пути и проверяет, что она принадлежит вызывающему.
// On failure the response is already written.
func (h *SongsHandler) ownedSong(w http.ResponseWriter, r *http.Request) (*models.Song, bool) {
	ownerID, ok := GetOwnerID(r.Context())
	if !ok {
		sendError(h.logger, w, "owner not found in context", http.StatusUnauthorized)
		return nil, false
	}

	id := r.PathValue("id")
	song, err := h.store.GetSong(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrSongNotFound) {
			sendError(h.logger, w, "song not found", http.StatusNotFound)
			return nil, false
		}
		h.logger.Error("failed to load song", slog.Any("error", err), slog.String("song_id", id))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return nil, false
	}

	if song.OwnerID != ownerID {
		sendError(h.logger, w, "song belongs to another owner", http.StatusForbidden)
		return nil, false
	}

	return song, true
}
