package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/iudanet/chordkeeper/internal/server/relay"
)

// maxRoomIDLen ограничение длины id комнаты
const maxRoomIDLen = 128

// RelayHandler upgrades peers into relay rooms
type RelayHandler struct {
	logger   *slog.Logger
	hub      *relay.Hub
	upgrader websocket.Upgrader
}

// NewRelayHandler creates a new relay handler
func NewRelayHandler(logger *slog.Logger, hub *relay.Hub) *RelayHandler {
	return &RelayHandler{
		logger: logger,
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Join обрабатывает GET /api/v1/relay/{room}
func (h *RelayHandler) Join(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	if room == "" || len(room) > maxRoomIDLen {
		sendError(h.logger, w, "invalid room id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("relay upgrade failed", slog.Any("error", err))
		return
	}

	peer := relay.NewPeer(h.hub, conn, room, h.logger)
	h.hub.Register(peer)

	go peer.WritePump()
	peer.ReadPump()
}
