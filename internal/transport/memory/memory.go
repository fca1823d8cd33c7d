// Package memory is an in-process transport. Every Transport created from one
// Network can reach the others; rooms live only as long as the Network.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/iudanet/chordkeeper/internal/models"
	"github.com/iudanet/chordkeeper/internal/transport"
)

const (
	scheme = "memory://"

	// eventBuffer размер очереди событий одного пира
	eventBuffer = 256
)

type room struct {
	host    string
	members map[string]*Transport
}

// Network is a set of rooms shared by in-process transports.
type Network struct {
	logger *slog.Logger

	mu    sync.Mutex
	rooms map[string]*room
	// пиры, которые "пропали" без уведомления: их кадры теряются
	silenced map[string]bool
}

// NewNetwork creates an empty in-process network.
func NewNetwork(logger *slog.Logger) *Network {
	if logger == nil {
		logger = slog.Default()
	}
	return &Network{
		logger:   logger,
		rooms:    make(map[string]*room),
		silenced: make(map[string]bool),
	}
}

// NewTransport creates a transport attached to n with a fresh peer id.
func (n *Network) NewTransport() *Transport {
	return &Transport{
		network: n,
		id:      uuid.New().String(),
		events:  make(chan transport.Event, eventBuffer),
	}
}

// Silence simulates a peer that vanishes without a goodbye: frames to and
// from it are lost and nobody sees a peer-leave.
func (n *Network) Silence(peerID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.silenced[peerID] = true
}

// Rooms returns the number of active rooms
func (n *Network) Rooms() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.rooms)
}

// Transport is one peer of a Network.
type Transport struct {
	network *Network
	id      string

	// room защищен network.mu
	room string

	mu     sync.Mutex
	events chan transport.Event
	closed bool
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) LocalID() string { return t.id }

func (t *Transport) Kind() models.TransportKind { return models.TransportMemory }

func (t *Transport) Events() <-chan transport.Event { return t.events }

// Advertise opens roomID with t as host.
func (t *Transport) Advertise(_ context.Context, roomID string) (string, error) {
	if roomID == "" || strings.Contains(roomID, "/") {
		return "", fmt.Errorf("invalid room id %q", roomID)
	}

	n := t.network
	n.mu.Lock()
	defer n.mu.Unlock()

	if t.isClosed() {
		return "", transport.ErrClosed
	}
	if t.room != "" {
		return "", transport.ErrConnected
	}
	if _, ok := n.rooms[roomID]; ok {
		return "", transport.ErrRoomTaken
	}

	n.rooms[roomID] = &room{host: t.id, members: map[string]*Transport{t.id: t}}
	t.room = roomID

	n.logger.Debug("memory room advertised", slog.String("room", roomID), slog.String("host", t.id))
	return scheme + roomID, nil
}

// Connect joins the room named by connectionInfo.
func (t *Transport) Connect(_ context.Context, connectionInfo string) error {
	roomID, ok := strings.CutPrefix(connectionInfo, scheme)
	if !ok || roomID == "" {
		return fmt.Errorf("invalid memory connection info %q", connectionInfo)
	}

	n := t.network
	n.mu.Lock()
	defer n.mu.Unlock()

	if t.isClosed() {
		return transport.ErrClosed
	}
	if t.room != "" {
		return transport.ErrConnected
	}
	r, ok := n.rooms[roomID]
	if !ok {
		return transport.ErrRoomNotFound
	}

	for id, member := range r.members {
		if !n.silenced[id] {
			member.push(transport.Event{Type: transport.EventPeerJoin, PeerID: t.id})
		}
		t.push(transport.Event{Type: transport.EventPeerJoin, PeerID: id})
	}
	r.members[t.id] = t
	t.room = roomID

	return nil
}

// Send delivers data to peerID, or to every other member when peerID is empty.
// Unknown peers are ignored like on a real network.
func (t *Transport) Send(_ context.Context, peerID string, data []byte) error {
	n := t.network
	n.mu.Lock()
	defer n.mu.Unlock()

	if t.isClosed() {
		return transport.ErrClosed
	}
	r, ok := n.rooms[t.room]
	if !ok {
		return transport.ErrNotConnected
	}
	if n.silenced[t.id] {
		return nil
	}

	payload := append([]byte(nil), data...)
	for id, member := range r.members {
		if id == t.id || (peerID != "" && id != peerID) || n.silenced[id] {
			continue
		}
		member.push(transport.Event{Type: transport.EventMessage, PeerID: t.id, Data: payload})
	}
	return nil
}

// Drop disconnects peerID from the room. Only the host may drop.
func (t *Transport) Drop(_ context.Context, peerID string) error {
	n := t.network
	n.mu.Lock()
	defer n.mu.Unlock()

	r, ok := n.rooms[t.room]
	if !ok {
		return transport.ErrNotConnected
	}
	if r.host != t.id {
		return transport.ErrNotHost
	}

	target, ok := r.members[peerID]
	if !ok || peerID == t.id {
		return nil
	}
	n.leave(r, target)
	target.shutdown(transport.ErrDropped)
	return nil
}

// Close leaves the room. When the host leaves, the room is closed for everyone.
func (t *Transport) Close() error {
	n := t.network
	n.mu.Lock()
	defer n.mu.Unlock()

	if r, ok := n.rooms[t.room]; ok {
		n.leave(r, t)
		if r.host == t.id && !n.silenced[t.id] {
			for _, member := range r.members {
				n.leave(r, member)
				member.shutdown(fmt.Errorf("host left: %w", transport.ErrClosed))
			}
		}
	}
	t.shutdown(nil)
	return nil
}

// leave убирает пира из комнаты и оповещает остальных; вызывается под n.mu
func (n *Network) leave(r *room, t *Transport) {
	delete(r.members, t.id)
	if !n.silenced[t.id] {
		for id, member := range r.members {
			if !n.silenced[id] {
				member.push(transport.Event{Type: transport.EventPeerLeave, PeerID: t.id})
			}
		}
	}
	if len(r.members) == 0 {
		delete(n.rooms, t.room)
	}
	t.room = ""
}

func (t *Transport) push(e transport.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.events <- e:
	default:
		t.network.logger.Warn("memory transport event buffer full, dropping event",
			slog.String("peer", t.id),
			slog.String("type", string(e.Type)))
	}
}

// shutdown закрывает канал событий; err != nil сообщается событием closed
func (t *Transport) shutdown(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if err != nil {
		select {
		case t.events <- transport.Event{Type: transport.EventClosed, Err: err}:
		default:
		}
	}
	t.closed = true
	close(t.events)
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
