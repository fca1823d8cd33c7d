package sync

import (
	"context"
	"errors"
	"sync"

	httpClient "github.com/iudanet/chordkeeper/internal/client/api"
	"github.com/iudanet/chordkeeper/internal/models"
)

// fakeRemote хранит песни в памяти и применяет те же LWW правила, что и сервер
type fakeRemote struct {
	mu           sync.Mutex
	songs        map[string]*models.Song
	arrangements map[string]*models.Arrangement
	upserts      []string
	listErr      error
	upsertErr    map[string]error
	arrangeErr   error
	subscribeErr error
	subs         []*fakeSubscription
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		songs:        make(map[string]*models.Song),
		arrangements: make(map[string]*models.Arrangement),
		upsertErr:    make(map[string]error),
	}
}

func (r *fakeRemote) ListByOwner(_ context.Context, ownerID string) ([]*models.Song, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]*models.Song, 0, len(r.songs))
	for _, s := range r.songs {
		if s.OwnerID == ownerID {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

func (r *fakeRemote) Upsert(_ context.Context, song *models.Song, arrangement *models.Arrangement) (*models.Song, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.upsertErr[song.ID]; err != nil {
		return nil, err
	}
	r.upserts = append(r.upserts, song.ID)

	existing := r.songs[song.ID]
	if existing != nil && !song.IsNewerThan(existing) {
		return existing.Clone(), nil
	}
	r.songs[song.ID] = song.Clone()
	if arrangement != nil {
		a := *arrangement
		r.arrangements[song.ID] = &a
	}
	return song.Clone(), nil
}

func (r *fakeRemote) Delete(_ context.Context, songID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.songs[songID]; !ok {
		return httpClient.ErrNotFound
	}
	delete(r.songs, songID)
	delete(r.arrangements, songID)
	return nil
}

func (r *fakeRemote) GetArrangement(_ context.Context, songID string) (*models.Arrangement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.arrangeErr != nil {
		return nil, r.arrangeErr
	}
	a, ok := r.arrangements[songID]
	if !ok {
		return nil, httpClient.ErrNotFound
	}
	c := *a
	return &c, nil
}

func (r *fakeRemote) Subscribe(_ context.Context, _ string) (httpClient.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subscribeErr != nil {
		return nil, r.subscribeErr
	}
	sub := &fakeSubscription{events: make(chan models.ChangeEvent, 16)}
	r.subs = append(r.subs, sub)
	return sub, nil
}

func (r *fakeRemote) put(song *models.Song, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.songs[song.ID] = song.Clone()
	if content != "" {
		r.arrangements[song.ID] = &models.Arrangement{SongID: song.ID, OwnerID: song.OwnerID, Content: content, UpdatedAt: song.UpdatedAt}
	}
}

func (r *fakeRemote) get(id string) *models.Song {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.songs[id].Clone()
}

func (r *fakeRemote) upsertCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.upserts)
}

func (r *fakeRemote) subscription() *fakeSubscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.subs) == 0 {
		return nil
	}
	return r.subs[len(r.subs)-1]
}

func (r *fakeRemote) setSubscribeErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribeErr = err
}

func (r *fakeRemote) subscriptionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

type fakeSubscription struct {
	events chan models.ChangeEvent
	once   sync.Once
	closed bool
	mu     sync.Mutex
}

func (s *fakeSubscription) Events() <-chan models.ChangeEvent {
	return s.events
}

func (s *fakeSubscription) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
	return nil
}

func (s *fakeSubscription) emit(e models.ChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("subscription closed")
	}
	s.events <- e
	return nil
}

func (s *fakeSubscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
