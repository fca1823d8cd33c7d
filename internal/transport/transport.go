// Package transport defines the peer channel used by live sessions.
//
// A host advertises a room and receives an opaque connection string that is
// embedded into the session descriptor. Guests connect with that string.
// Payloads are opaque bytes; framing and meaning belong to the session layer.
package transport

import (
	"context"
	"errors"

	"github.com/iudanet/chordkeeper/internal/models"
)

var (
	ErrClosed       = errors.New("transport closed")
	ErrNotConnected = errors.New("transport not connected")
	ErrConnected    = errors.New("transport already connected")
	ErrRoomTaken    = errors.New("room is already advertised")
	ErrRoomNotFound = errors.New("room not found")
	ErrNotHost      = errors.New("only the advertising peer can drop peers")
	ErrDropped      = errors.New("dropped by host")
)

// EventType вид события транспорта
type EventType string

const (
	EventMessage   EventType = "message"
	EventPeerJoin  EventType = "peer-join"
	EventPeerLeave EventType = "peer-leave"
	EventClosed    EventType = "closed" // соединение потеряно или пир был отключен хостом
)

// Event is delivered on Transport.Events.
type Event struct {
	Err    error // только для EventClosed
	Type   EventType
	PeerID string
	Data   []byte
}

// Transport is a room-based peer channel.
// Send with an empty peerID broadcasts to every other member of the room.
// Events is closed after the transport shuts down.
type Transport interface {
	Advertise(ctx context.Context, roomID string) (string, error)
	Connect(ctx context.Context, connectionInfo string) error
	Send(ctx context.Context, peerID string, data []byte) error
	Drop(ctx context.Context, peerID string) error
	Events() <-chan Event
	LocalID() string
	Kind() models.TransportKind
	Close() error
}
