package feed

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/chordkeeper/internal/models"
)

func newTestBroker(size int) *Broker {
	return NewBroker(slog.New(slog.NewTextHandler(io.Discard, nil)), size)
}

func event(id string) models.ChangeEvent {
	return models.ChangeEvent{Type: models.ChangeInsert, New: &models.Song{ID: id}}
}

func TestBroker_PublishToOwnerOnly(t *testing.T) {
	b := newTestBroker(4)
	alice := b.Subscribe("alice")
	bob := b.Subscribe("bob")
	defer alice.Close()
	defer bob.Close()

	b.Publish("alice", event("s1"))

	select {
	case ev := <-alice.Events():
		assert.Equal(t, "s1", ev.SongID())
	default:
		t.Fatal("alice did not receive event")
	}

	select {
	case <-bob.Events():
		t.Fatal("bob received alice's event")
	default:
	}
}

func TestBroker_DropsWhenBufferFull(t *testing.T) {
	b := newTestBroker(1)
	sub := b.Subscribe("alice")
	defer sub.Close()

	b.Publish("alice", event("s1"))
	b.Publish("alice", event("s2"))

	ev := <-sub.Events()
	assert.Equal(t, "s1", ev.SongID())
	assert.Len(t, sub.Events(), 0)
}

func TestSubscription_CloseIdempotent(t *testing.T) {
	b := newTestBroker(1)
	sub := b.Subscribe("alice")
	require.Equal(t, 1, b.Count("alice"))

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, b.Count("alice"))

	_, ok := <-sub.Events()
	assert.False(t, ok)

	// Публикация после отписки не паникует
	b.Publish("alice", event("s1"))
}

func TestBroker_Close(t *testing.T) {
	b := newTestBroker(1)
	sub := b.Subscribe("alice")

	b.Close()
	_, ok := <-sub.Events()
	assert.False(t, ok)
	sub.Close()

	late := b.Subscribe("alice")
	_, ok = <-late.Events()
	assert.False(t, ok)
}
