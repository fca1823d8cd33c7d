// Package relay forwards peer frames between the members of a session room.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/iudanet/chordkeeper/pkg/api"
)

type inbound struct {
	from  *Peer
	frame api.Frame
}

// Hub owns every room. Membership changes and routing happen on the Run goroutine.
type Hub struct {
	logger *slog.Logger

	// комната -> id пира -> пир
	rooms map[string]map[string]*Peer
	// комната -> id первого подключившегося (хост)
	advertisers map[string]string

	register   chan *Peer
	unregister chan *Peer
	route      chan inbound

	mu   sync.RWMutex
	done chan struct{}
	once sync.Once
}

// NewHub creates a relay hub. Call Run to start it.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:      logger,
		rooms:       make(map[string]map[string]*Peer),
		advertisers: make(map[string]string),
		register:    make(chan *Peer),
		unregister:  make(chan *Peer),
		route:       make(chan inbound, 256),
		done:        make(chan struct{}),
	}
}

// Run processes hub events until ctx is cancelled or Stop is called.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case p := <-h.register:
			h.addPeer(p)
		case p := <-h.unregister:
			h.removePeer(p, websocket.CloseNormalClosure)
		case in := <-h.route:
			h.routeFrame(in.from, in.frame)
		case <-ctx.Done():
			h.Stop()
			h.cleanup()
			return
		case <-h.done:
			h.cleanup()
			return
		}
	}
}

// Stop shuts the hub down and disconnects every peer.
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.done) })
}

// Register adds a peer to its room
func (h *Hub) Register(p *Peer) {
	select {
	case h.register <- p:
	case <-h.done:
		p.closeSend()
	}
}

// Unregister removes a peer from its room
func (h *Hub) Unregister(p *Peer) {
	select {
	case h.unregister <- p:
	case <-h.done:
	}
}

// Route hands a frame read from p to the hub.
func (h *Hub) Route(p *Peer, frame api.Frame) {
	select {
	case h.route <- inbound{from: p, frame: frame}:
	case <-h.done:
	}
}

// RoomSize returns the number of connected peers of a room
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) addPeer(p *Peer) {
	h.mu.Lock()
	members, ok := h.rooms[p.Room]
	if !ok {
		members = make(map[string]*Peer)
		h.rooms[p.Room] = members
		// Первый участник комнаты объявляет сессию
		h.advertisers[p.Room] = p.ID
	}
	existing := make([]string, 0, len(members))
	for id := range members {
		existing = append(existing, id)
	}
	members[p.ID] = p
	advertiser := h.advertisers[p.Room]
	h.mu.Unlock()

	payload, _ := json.Marshal(api.Welcome{PeerID: p.ID, Advertiser: advertiser, Peers: existing})
	h.deliver(p, api.Frame{Type: api.FrameWelcome, Room: p.Room, To: p.ID, Payload: payload})
	h.broadcast(p.Room, p.ID, api.Frame{Type: api.FramePeerJoin, Room: p.Room, From: p.ID})

	h.logger.Info("relay peer joined",
		slog.String("room", p.Room),
		slog.String("peer", p.ID),
		slog.Int("members", len(existing)+1))
}

func (h *Hub) removePeer(p *Peer, code int) {
	h.mu.Lock()
	members, ok := h.rooms[p.Room]
	if !ok || members[p.ID] != p {
		h.mu.Unlock()
		return
	}
	delete(members, p.ID)
	if len(members) == 0 {
		delete(h.rooms, p.Room)
		delete(h.advertisers, p.Room)
	}
	h.mu.Unlock()

	p.closeWith(code)
	h.broadcast(p.Room, p.ID, api.Frame{Type: api.FramePeerLeave, Room: p.Room, From: p.ID})

	h.logger.Info("relay peer left",
		slog.String("room", p.Room),
		slog.String("peer", p.ID))
}

func (h *Hub) routeFrame(from *Peer, frame api.Frame) {
	// Отправитель определяется соединением, а не содержимым кадра
	frame.From = from.ID
	frame.Room = from.Room

	switch frame.Type {
	case api.FrameMessage:
		if frame.To == "" {
			h.broadcast(from.Room, from.ID, frame)
			return
		}
		h.mu.RLock()
		target := h.rooms[from.Room][frame.To]
		h.mu.RUnlock()
		if target == nil {
			h.logger.Debug("relay target not found",
				slog.String("room", from.Room),
				slog.String("to", frame.To))
			return
		}
		h.deliver(target, frame)

	case api.FrameDrop:
		h.mu.RLock()
		isAdvertiser := h.advertisers[from.Room] == from.ID
		target := h.rooms[from.Room][frame.To]
		h.mu.RUnlock()
		if !isAdvertiser {
			h.logger.Warn("drop requested by non-advertiser",
				slog.String("room", from.Room),
				slog.String("peer", from.ID))
			return
		}
		if target != nil {
			h.removePeer(target, api.CloseDropped)
		}

	default:
		h.logger.Warn("unknown relay frame type",
			slog.String("type", frame.Type),
			slog.String("peer", from.ID))
	}
}

// broadcast sends frame to every peer of room except exclude
func (h *Hub) broadcast(room, exclude string, frame api.Frame) {
	h.mu.RLock()
	targets := make([]*Peer, 0, len(h.rooms[room]))
	for id, p := range h.rooms[room] {
		if id != exclude {
			targets = append(targets, p)
		}
	}
	h.mu.RUnlock()

	for _, p := range targets {
		h.deliver(p, frame)
	}
}

// deliver кладет кадр в очередь пира; переполненный пир отключается
func (h *Hub) deliver(p *Peer, frame api.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("failed to marshal relay frame", slog.Any("error", err))
		return
	}

	if !p.enqueue(data) {
		h.logger.Warn("relay peer send buffer full, disconnecting",
			slog.String("room", p.Room),
			slog.String("peer", p.ID))
		h.removePeer(p, websocket.CloseTryAgainLater)
	}
}

func (h *Hub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, members := range h.rooms {
		for _, p := range members {
			p.closeSend()
		}
	}
	h.rooms = make(map[string]map[string]*Peer)
	h.advertisers = make(map[string]string)
}
