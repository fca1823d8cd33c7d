// Package relay implements the session transport over the server websocket relay.
// The connection string of a session is the relay room URL.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iudanet/chordkeeper/internal/models"
	"github.com/iudanet/chordkeeper/internal/transport"
	"github.com/iudanet/chordkeeper/pkg/api"
)

const (
	writeWait     = 10 * time.Second
	maxFrameBytes = 1 << 20
	eventBuffer   = 256
	roomPath      = "/api/v1/relay/"
)

// Transport is a relay room member.
type Transport struct {
	baseURL string
	dialer  *websocket.Dialer
	logger  *slog.Logger
	events  chan transport.Event

	// writeMu gorilla допускает только одного писателя
	writeMu sync.Mutex

	mu         sync.Mutex
	conn       *websocket.Conn
	id         string
	advertiser string
	done       chan struct{}
	closed     bool
	wg         sync.WaitGroup
}

var _ transport.Transport = (*Transport)(nil)

// New creates a relay transport for the server at baseURL (http, https, ws or wss).
func New(baseURL string, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		baseURL: strings.TrimRight(baseURL, "/"),
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:  logger,
		events:  make(chan transport.Event, eventBuffer),
		done:    make(chan struct{}),
	}
}

func (t *Transport) Kind() models.TransportKind { return models.TransportRelay }

func (t *Transport) Events() <-chan transport.Event { return t.events }

// LocalID returns the server-assigned peer id; empty until connected.
func (t *Transport) LocalID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

// Advertise joins roomID as its first member and returns the room URL.
// The relay makes the first member the advertiser; a busy room is refused.
func (t *Transport) Advertise(ctx context.Context, roomID string) (string, error) {
	if roomID == "" || strings.ContainsAny(roomID, "/?#") {
		return "", fmt.Errorf("invalid room id %q", roomID)
	}

	roomURL, err := RoomURL(t.baseURL, roomID)
	if err != nil {
		return "", err
	}

	conn, welcome, err := t.dial(ctx, roomURL)
	if err != nil {
		return "", err
	}
	if welcome.Advertiser != welcome.PeerID {
		// транспорт одноразовый, занятая комната его закрывает
		t.start(conn)
		_ = t.Close()
		return "", transport.ErrRoomTaken
	}

	t.start(conn)
	return roomURL, nil
}

// Connect joins the room at connectionInfo and reports existing members as peer-join events.
func (t *Transport) Connect(ctx context.Context, connectionInfo string) error {
	u, err := url.Parse(connectionInfo)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || !strings.Contains(u.Path, roomPath) {
		return fmt.Errorf("invalid relay connection info %q", connectionInfo)
	}

	conn, welcome, err := t.dial(ctx, connectionInfo)
	if err != nil {
		return err
	}

	for _, peer := range welcome.Peers {
		t.emit(transport.Event{Type: transport.EventPeerJoin, PeerID: peer})
	}
	t.start(conn)
	return nil
}

// dial подключается к комнате и ждет welcome кадр с id пира
func (t *Transport) dial(ctx context.Context, roomURL string) (*websocket.Conn, *api.Welcome, error) {
	t.mu.Lock()
	switch {
	case t.closed:
		t.mu.Unlock()
		return nil, nil, transport.ErrClosed
	case t.conn != nil:
		t.mu.Unlock()
		return nil, nil, transport.ErrConnected
	}
	t.mu.Unlock()

	conn, resp, err := t.dialer.DialContext(ctx, roomURL, nil)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusTooManyRequests {
				return nil, nil, fmt.Errorf("relay join rate limited: %w", err)
			}
		}
		return nil, nil, fmt.Errorf("failed to dial relay: %w", err)
	}
	conn.SetReadLimit(maxFrameBytes)

	welcome, err := readWelcome(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close()
		return nil, nil, transport.ErrClosed
	}
	t.conn = conn
	t.id = welcome.PeerID
	t.advertiser = welcome.Advertiser
	t.wg.Add(1)
	t.mu.Unlock()

	t.logger.Info("relay connected",
		slog.String("peer", welcome.PeerID),
		slog.Bool("advertiser", welcome.PeerID == welcome.Advertiser))
	return conn, welcome, nil
}

func (t *Transport) start(conn *websocket.Conn) {
	go t.readLoop(conn)
}

func readWelcome(ctx context.Context, conn *websocket.Conn) (*api.Welcome, error) {
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	var frame api.Frame
	if err := conn.ReadJSON(&frame); err != nil {
		return nil, fmt.Errorf("failed to read welcome: %w", err)
	}
	if frame.Type != api.FrameWelcome {
		return nil, fmt.Errorf("unexpected first relay frame %q", frame.Type)
	}

	var welcome api.Welcome
	if err := json.Unmarshal(frame.Payload, &welcome); err != nil {
		return nil, fmt.Errorf("invalid welcome payload: %w", err)
	}
	if welcome.PeerID == "" {
		return nil, errors.New("welcome without peer id")
	}
	return &welcome, nil
}

// Send sends data to peerID, or to the whole room when peerID is empty.
func (t *Transport) Send(_ context.Context, peerID string, data []byte) error {
	// []byte кодируется в JSON как base64, payload остается валидным JSON
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	return t.write(api.Frame{Type: api.FrameMessage, To: peerID, Payload: payload})
}

// Drop asks the relay to disconnect peerID. Only the advertiser may drop.
func (t *Transport) Drop(_ context.Context, peerID string) error {
	t.mu.Lock()
	isHost := t.id != "" && t.id == t.advertiser
	t.mu.Unlock()
	if !isHost {
		return transport.ErrNotHost
	}
	return t.write(api.Frame{Type: api.FrameDrop, To: peerID})
}

func (t *Transport) write(frame api.Frame) error {
	t.mu.Lock()
	conn := t.conn
	closed := t.closed
	t.mu.Unlock()

	if closed {
		return transport.ErrClosed
	}
	if conn == nil {
		return transport.ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("relay write failed: %w", err)
	}
	return nil
}

// Close leaves the room and closes the event channel.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	close(t.done)
	t.mu.Unlock()

	var err error
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = conn.Close()
	}

	t.wg.Wait()
	if conn == nil {
		close(t.events)
	}
	return err
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	defer t.wg.Done()
	defer close(t.events)

	for {
		var frame api.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			select {
			case <-t.done:
			default:
				t.emit(transport.Event{Type: transport.EventClosed, Err: t.closeReason(err)})
			}
			return
		}

		switch frame.Type {
		case api.FrameMessage:
			var data []byte
			if err := json.Unmarshal(frame.Payload, &data); err != nil {
				t.logger.Warn("invalid relay payload", slog.String("from", frame.From), slog.Any("error", err))
				continue
			}
			t.emit(transport.Event{Type: transport.EventMessage, PeerID: frame.From, Data: data})
		case api.FramePeerJoin:
			t.emit(transport.Event{Type: transport.EventPeerJoin, PeerID: frame.From})
		case api.FramePeerLeave:
			t.emit(transport.Event{Type: transport.EventPeerLeave, PeerID: frame.From})
		default:
			t.logger.Debug("ignoring relay frame", slog.String("type", frame.Type))
		}
	}
}

// closeReason отличает отключение хостом от потери соединения
func (t *Transport) closeReason(err error) error {
	if websocket.IsCloseError(err, api.CloseDropped) {
		t.logger.Info("dropped from relay room by host")
		return transport.ErrDropped
	}
	t.logger.Warn("relay connection lost", slog.Any("error", err))
	return fmt.Errorf("relay connection lost: %w", err)
}

func (t *Transport) emit(e transport.Event) {
	select {
	case t.events <- e:
	case <-t.done:
	}
}

// RoomURL builds the websocket URL of a relay room.
func RoomURL(baseURL, roomID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + roomPath + url.PathEscape(roomID))
	if err != nil {
		return "", fmt.Errorf("invalid relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	return u.String(), nil
}
