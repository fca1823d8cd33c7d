package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iudanet/chordkeeper/internal/server/feed"
	"github.com/iudanet/chordkeeper/pkg/api"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// ChangeSubscriber выдает подписки на изменения владельца
type ChangeSubscriber interface {
	Subscribe(ownerID string) *feed.Subscription
}

// ChangesHandler streams an owner's change events over a websocket
type ChangesHandler struct {
	logger   *slog.Logger
	feed     ChangeSubscriber
	upgrader websocket.Upgrader
}

// NewChangesHandler creates a new change feed handler
func NewChangesHandler(logger *slog.Logger, subscriber ChangeSubscriber) *ChangesHandler {
	return &ChangesHandler{
		logger: logger,
		feed:   subscriber,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Клиент не браузер, аутентификация по bearer токену
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Stream обрабатывает GET /api/v1/changes
func (h *ChangesHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := GetOwnerID(r.Context())
	if !ok {
		sendError(h.logger, w, "owner not found in context", http.StatusUnauthorized)
		return
	}

	// подписка до рукопожатия: событие сразу после Subscribe клиента не теряется
	sub := h.feed.Subscribe(ownerID)
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже записал ответ
		h.logger.Warn("change feed upgrade failed", slog.Any("error", err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("change feed subscribed", slog.String("owner_id", ownerID), slog.String("subscription", sub.ID))

	// Клиент ничего не присылает; чтение нужно для pong и обнаружения закрытия
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			data, err := json.Marshal(api.ChangeEventFromModel(event))
			if err != nil {
				h.logger.Error("failed to marshal change event", slog.Any("error", err))
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("change feed write failed", slog.Any("error", err))
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-gone:
			h.logger.Info("change feed closed by client", slog.String("owner_id", ownerID))
			return

		case <-r.Context().Done():
			return
		}
	}
}
