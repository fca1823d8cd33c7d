package models

import "time"

// Song представляет запись библиотеки (chord chart) пользователя.
// Одна и та же запись живет локально (bbolt) и на сервере (sqlite),
// ID стабилен между копиями, UpdatedAt служит арбитром конфликтов.
type Song struct {
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"` // UpdatedAt строго растет при каждом изменении, которое должно распространиться
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Title       string    `json:"title"`
	Artist      string    `json:"artist,omitempty"`
	Key         string    `json:"key,omitempty"` // Key тональность, например "Am" или "F#"
	Tags        []string  `json:"tags,omitempty"`
	Instruments []string  `json:"instruments,omitempty"`
	Tempo       int       `json:"tempo,omitempty"` // Tempo в BPM, 0 = не задан
}

// IsNewerThan reports whether s wins a last-writer-wins comparison against other.
// Equal timestamps are not newer: re-syncing identical versions must be a no-op.
func (s *Song) IsNewerThan(other *Song) bool {
	if other == nil {
		return true
	}
	return s.UpdatedAt.After(other.UpdatedAt)
}

// SameVersion reports whether both copies carry the same modification time.
func (s *Song) SameVersion(other *Song) bool {
	return other != nil && s.UpdatedAt.Equal(other.UpdatedAt)
}

// Clone создает глубокую копию записи
func (s *Song) Clone() *Song {
	if s == nil {
		return nil
	}

	c := *s
	c.Tags = cloneStrings(s.Tags)
	c.Instruments = cloneStrings(s.Instruments)

	return &c
}

// Summary returns the manifest entry shared with session guests.
// The arrangement body is never part of it.
func (s *Song) Summary() ManifestEntry {
	return ManifestEntry{
		ID:              s.ID,
		Title:           s.Title,
		Artist:          s.Artist,
		Key:             s.Key,
		Tempo:           s.Tempo,
		Tags:            cloneStrings(s.Tags),
		InstrumentsUsed: cloneStrings(s.Instruments),
	}
}

// Arrangement is the chord chart body of a song. It lives in a secondary store
// keyed by song id and is attached to pushes just-in-time.
type Arrangement struct {
	UpdatedAt time.Time `json:"updated_at"`
	SongID    string    `json:"song_id"`
	OwnerID   string    `json:"owner_id"`
	Content   string    `json:"content"`
}

// ChangeType тип события из push-подписки удаленного хранилища
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// Valid reports whether t is one of the known change kinds.
func (t ChangeType) Valid() bool {
	switch t {
	case ChangeInsert, ChangeUpdate, ChangeDelete:
		return true
	}
	return false
}

// ChangeEvent is a live notification from the remote store.
// Insert and Update carry New; Delete carries Old.
type ChangeEvent struct {
	New  *Song      `json:"new,omitempty"`
	Old  *Song      `json:"old,omitempty"`
	Type ChangeType `json:"type"`
}

// SongID returns the id the event refers to.
func (e ChangeEvent) SongID() string {
	if e.New != nil {
		return e.New.ID
	}
	if e.Old != nil {
		return e.Old.ID
	}
	return ""
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
