package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/iudanet/chordkeeper/pkg/api"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxFrameBytes  = 1 << 20
	sendBufferSize = 64
)

// Peer is one websocket connection in a room.
type Peer struct {
	hub    *Hub
	conn   *websocket.Conn
	logger *slog.Logger
	send   chan []byte
	ID     string
	Room   string

	mu        sync.Mutex
	closed    bool
	closeCode int // код, с которым WritePump закроет соединение
}

// NewPeer wraps an upgraded connection. The peer id is assigned by the server.
func NewPeer(hub *Hub, conn *websocket.Conn, room string, logger *slog.Logger) *Peer {
	return &Peer{
		hub:    hub,
		conn:   conn,
		logger: logger,
		send:   make(chan []byte, sendBufferSize),
		ID:     uuid.New().String(),
		Room:   room,
	}
}

func (p *Peer) enqueue(data []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return true
	}
	select {
	case p.send <- data:
		return true
	default:
		return false
	}
}

func (p *Peer) closeSend() {
	p.closeWith(websocket.CloseNormalClosure)
}

// closeWith закрывает очередь; первый код побеждает
func (p *Peer) closeWith(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		p.closed = true
		p.closeCode = code
		close(p.send)
	}
}

func (p *Peer) exitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCode
}

// ReadPump reads frames from the connection until it fails.
func (p *Peer) ReadPump() {
	defer func() {
		p.hub.Unregister(p)
		_ = p.conn.Close()
	}()

	p.conn.SetReadLimit(maxFrameBytes)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.logger.Warn("relay read error",
					slog.Any("error", err),
					slog.String("room", p.Room),
					slog.String("peer", p.ID))
			}
			return
		}

		var frame api.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			p.logger.Warn("invalid relay frame",
				slog.Any("error", err),
				slog.String("peer", p.ID))
			continue
		}

		p.hub.Route(p, frame)
	}
}

// WritePump writes queued frames and keeps the connection alive with pings.
func (p *Peer) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
	}()

	for {
		select {
		case data, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub закрыл очередь
				code, reason := p.exitCode(), ""
				if code == api.CloseDropped {
					reason = "dropped by host"
				}
				_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
