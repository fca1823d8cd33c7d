// Package feed fans out song change events to live subscribers of an owner.
package feed

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/iudanet/chordkeeper/internal/models"
)

// DefaultBufferSize размер буфера подписки по умолчанию
const DefaultBufferSize = 64

// Subscription is one live listener of an owner's changes.
type Subscription struct {
	broker  *Broker
	ch      chan models.ChangeEvent
	ID      string
	OwnerID string
	once    sync.Once
}

// Events returns the channel of change events. It is closed when the
// subscription is closed or the broker shuts down.
func (s *Subscription) Events() <-chan models.ChangeEvent {
	return s.ch
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.broker.unsubscribe(s)
}

// Broker keeps subscriptions grouped by owner id.
type Broker struct {
	logger     *slog.Logger
	subs       map[string]map[string]*Subscription
	bufferSize int
	mu         sync.RWMutex
	closed     bool
}

// NewBroker creates a change broker
func NewBroker(logger *slog.Logger, bufferSize int) *Broker {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Broker{
		logger:     logger,
		subs:       make(map[string]map[string]*Subscription),
		bufferSize: bufferSize,
	}
}

// Subscribe registers a listener for ownerID.
// After Close the returned subscription is already closed.
func (b *Broker) Subscribe(ownerID string) *Subscription {
	sub := &Subscription{
		broker:  b,
		ch:      make(chan models.ChangeEvent, b.bufferSize),
		ID:      uuid.New().String(),
		OwnerID: ownerID,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		sub.once.Do(func() { close(sub.ch) })
		return sub
	}

	owners, ok := b.subs[ownerID]
	if !ok {
		owners = make(map[string]*Subscription)
		b.subs[ownerID] = owners
	}
	owners[sub.ID] = sub

	return sub
}

// Publish delivers event to every subscriber of ownerID.
// Slow subscribers lose the event instead of blocking the writer.
func (b *Broker) Publish(ownerID string, event models.ChangeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[ownerID] {
		select {
		case sub.ch <- event:
		default:
			b.logger.Warn("change feed buffer full, dropping event",
				slog.String("subscription", sub.ID),
				slog.String("song_id", event.SongID()))
		}
	}
}

// Count returns the number of subscribers of ownerID
func (b *Broker) Count(ownerID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[ownerID])
}

// Close closes every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for owner, owners := range b.subs {
		for _, sub := range owners {
			sub.once.Do(func() { close(sub.ch) })
		}
		delete(b.subs, owner)
	}
}

func (b *Broker) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if owners, ok := b.subs[sub.OwnerID]; ok {
		delete(owners, sub.ID)
		if len(owners) == 0 {
			delete(b.subs, sub.OwnerID)
		}
	}
	sub.once.Do(func() { close(sub.ch) })
}
