package api

import (
	"time"

	"github.com/iudanet/chordkeeper/internal/models"
)

// Song is the wire form of a library record. Timestamps are unix milliseconds.
type Song struct {
	ID          string   `json:"id"`
	OwnerID     string   `json:"owner_id"`
	Title       string   `json:"title"`
	Artist      string   `json:"artist,omitempty"`
	Key         string   `json:"key,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Instruments []string `json:"instruments,omitempty"`
	Tempo       int      `json:"tempo,omitempty"`
	CreatedAt   int64    `json:"created_at"`
	UpdatedAt   int64    `json:"updated_at"`
}

// Arrangement is the wire form of a chord chart body.
type Arrangement struct {
	SongID    string `json:"song_id"`
	OwnerID   string `json:"owner_id"`
	Content   string `json:"content"`
	UpdatedAt int64  `json:"updated_at"`
}

// UpsertSongRequest тело PUT /api/v1/songs/{id}
type UpsertSongRequest struct {
	Song        Song         `json:"song"`
	Arrangement *Arrangement `json:"arrangement,omitempty"`
}

// UpsertSongResponse возвращает версию, которая хранится на сервере после запроса.
// Applied=false значит, что на сервере уже была такая же или более новая версия.
type UpsertSongResponse struct {
	Song    Song `json:"song"`
	Applied bool `json:"applied"`
}

// ListSongsResponse ответ GET /api/v1/songs
type ListSongsResponse struct {
	Songs []Song `json:"songs"`
}

// ChangeEvent is a push notification delivered over the change feed.
type ChangeEvent struct {
	EventType string `json:"event_type"` // insert | update | delete
	New       *Song  `json:"new,omitempty"`
	Old       *Song  `json:"old,omitempty"`
}

// SongFromModel converts a domain song to its wire form.
func SongFromModel(s *models.Song) Song {
	return Song{
		ID:          s.ID,
		OwnerID:     s.OwnerID,
		Title:       s.Title,
		Artist:      s.Artist,
		Key:         s.Key,
		Tags:        s.Tags,
		Instruments: s.Instruments,
		Tempo:       s.Tempo,
		CreatedAt:   s.CreatedAt.UnixMilli(),
		UpdatedAt:   s.UpdatedAt.UnixMilli(),
	}
}

// ToModel converts the wire form back to a domain song.
func (s Song) ToModel() *models.Song {
	return &models.Song{
		ID:          s.ID,
		OwnerID:     s.OwnerID,
		Title:       s.Title,
		Artist:      s.Artist,
		Key:         s.Key,
		Tags:        s.Tags,
		Instruments: s.Instruments,
		Tempo:       s.Tempo,
		CreatedAt:   time.UnixMilli(s.CreatedAt).UTC(),
		UpdatedAt:   time.UnixMilli(s.UpdatedAt).UTC(),
	}
}

// ArrangementFromModel converts a domain arrangement to its wire form.
func ArrangementFromModel(a *models.Arrangement) *Arrangement {
	if a == nil {
		return nil
	}
	return &Arrangement{
		SongID:    a.SongID,
		OwnerID:   a.OwnerID,
		Content:   a.Content,
		UpdatedAt: a.UpdatedAt.UnixMilli(),
	}
}

// ToModel converts the wire form back to a domain arrangement.
func (a *Arrangement) ToModel() *models.Arrangement {
	if a == nil {
		return nil
	}
	return &models.Arrangement{
		SongID:    a.SongID,
		OwnerID:   a.OwnerID,
		Content:   a.Content,
		UpdatedAt: time.UnixMilli(a.UpdatedAt).UTC(),
	}
}

// ChangeEventFromModel converts a domain change event to its wire form.
func ChangeEventFromModel(e models.ChangeEvent) ChangeEvent {
	out := ChangeEvent{EventType: string(e.Type)}
	if e.New != nil {
		s := SongFromModel(e.New)
		out.New = &s
	}
	if e.Old != nil {
		s := SongFromModel(e.Old)
		out.Old = &s
	}
	return out
}

// ToModel converts the wire event to its domain form.
func (e ChangeEvent) ToModel() models.ChangeEvent {
	out := models.ChangeEvent{Type: models.ChangeType(e.EventType)}
	if e.New != nil {
		out.New = e.New.ToModel()
	}
	if e.Old != nil {
		out.Old = e.Old.ToModel()
	}
	return out
}
