package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/iudanet/chordkeeper/internal/codec"
	"github.com/iudanet/chordkeeper/internal/models"
)

// SetTranspose sets the transpose of a song for everyone in the session.
// Only the host writes shared state; a guest call is ignored.
func (m *Manager) SetTranspose(ctx context.Context, songID string, semitones int) {
	s := m.current()
	if s == nil {
		m.logger.Warn("transpose ignored, not in a session", slog.String("song_id", songID))
		return
	}
	if s.role != models.RoleHost {
		m.logger.Warn("transpose ignored, only the host can change it", slog.String("song_id", songID))
		return
	}

	version := m.clock.Tick()
	m.applyTranspose(songID, semitones, version)
	_ = m.send(ctx, s, "", codec.KindState, codec.State{SongID: songID, Semitones: semitones, Version: version})
}

// Transpose returns the current transpose of a song, 0 if unset.
func (m *Manager) Transpose(songID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, _ := m.transpose.Get(songID)
	return v
}

// ObserveTranspose calls fn on every transpose change of songID. An observer
// registered while disconnected is kept for the next CreateSession or
// JoinSession. Leaving the session drops every observer. The returned
// function unsubscribes; it may be called any number of times, also after
// the session is gone.
func (m *Manager) ObserveTranspose(songID string, fn func(semitones int)) (unsubscribe func()) {
	m.mu.Lock()
	m.nextObsID++
	id := m.nextObsID
	obs, ok := m.observers[songID]
	if !ok {
		obs = make(map[uint64]func(int))
		m.observers[songID] = obs
	}
	obs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			// после teardown карта уже новая, удаление из нее безвредно
			if cur, ok := m.observers[songID]; ok {
				delete(cur, id)
				if len(cur) == 0 {
					delete(m.observers, songID)
				}
			}
		})
	}
}

// applyTranspose сохраняет значение, если версия новее, и уведомляет
// наблюдателей вне блокировки. Повтор того же значения не уведомляет.
func (m *Manager) applyTranspose(songID string, semitones int, version int64) {
	m.mu.Lock()
	prev, had := m.transpose.Get(songID)
	if !m.transpose.Set(songID, semitones, version) || (had && prev == semitones) {
		m.mu.Unlock()
		return
	}
	callbacks := make([]func(int), 0, len(m.observers[songID]))
	for _, fn := range m.observers[songID] {
		callbacks = append(callbacks, fn)
	}
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(semitones)
	}
}
