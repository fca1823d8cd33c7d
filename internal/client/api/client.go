package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iudanet/chordkeeper/internal/models"
	"github.com/iudanet/chordkeeper/pkg/api"
)

// ErrNotFound возвращается, когда сервер ответил 404
var ErrNotFound = errors.New("not found on server")

// StatusError описывает неуспешный ответ сервера
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.Code, e.Message)
}

// Is позволяет сравнивать 404 с ErrNotFound через errors.Is
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// Subscription is a live stream of change events for one owner.
// Events is closed when the stream ends; Close may be called any number of times.
type Subscription interface {
	Events() <-chan models.ChangeEvent
	Close() error
}

// ClientAPI is the remote store contract used by the sync engine.
type ClientAPI interface {
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Song, error)
	Upsert(ctx context.Context, song *models.Song, arrangement *models.Arrangement) (*models.Song, error)
	Delete(ctx context.Context, songID string) error
	GetArrangement(ctx context.Context, songID string) (*models.Arrangement, error)
	Subscribe(ctx context.Context, ownerID string) (Subscription, error)
}

// Client представляет HTTP клиент удаленного хранилища
type Client struct {
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *slog.Logger
	baseURL    string
	token      string
}

var _ ClientAPI = (*Client)(nil)

// NewClient создает новый HTTP клиент. token отправляется как Bearer в каждом запросе.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Сохраняем Authorization при редиректах
				if len(via) > 0 {
					if auth := via[0].Header.Get("Authorization"); auth != "" {
						req.Header.Set("Authorization", auth)
					}
				}
				return nil
			},
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

// ListByOwner возвращает все песни владельца.
// Сервер ограничивает выборку владельцем токена, чужие записи отбрасываются.
func (c *Client) ListByOwner(ctx context.Context, ownerID string) ([]*models.Song, error) {
	var resp api.ListSongsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/songs", nil, &resp); err != nil {
		return nil, fmt.Errorf("list songs: %w", err)
	}

	songs := make([]*models.Song, 0, len(resp.Songs))
	for _, s := range resp.Songs {
		if ownerID != "" && s.OwnerID != ownerID {
			c.logger.Warn("skipping song of another owner", slog.String("song_id", s.ID))
			continue
		}
		songs = append(songs, s.ToModel())
	}
	return songs, nil
}

// Upsert отправляет песню (и, если есть, аранжировку) на сервер.
// Возвращает версию, которая хранится на сервере после запроса.
func (c *Client) Upsert(ctx context.Context, song *models.Song, arrangement *models.Arrangement) (*models.Song, error) {
	if song == nil || song.ID == "" {
		return nil, errors.New("song id is required")
	}

	req := api.UpsertSongRequest{
		Song:        api.SongFromModel(song),
		Arrangement: api.ArrangementFromModel(arrangement),
	}

	var resp api.UpsertSongResponse
	if err := c.doRequest(ctx, http.MethodPut, "/api/v1/songs/"+url.PathEscape(song.ID), req, &resp); err != nil {
		return nil, fmt.Errorf("upsert song %s: %w", song.ID, err)
	}

	if !resp.Applied {
		c.logger.Debug("server kept its version", slog.String("song_id", song.ID))
	}
	return resp.Song.ToModel(), nil
}

// Delete удаляет песню на сервере
func (c *Client) Delete(ctx context.Context, songID string) error {
	if err := c.doRequest(ctx, http.MethodDelete, "/api/v1/songs/"+url.PathEscape(songID), nil, nil); err != nil {
		return fmt.Errorf("delete song %s: %w", songID, err)
	}
	return nil
}

// GetArrangement загружает аранжировку песни. Отсутствие дает ErrNotFound.
func (c *Client) GetArrangement(ctx context.Context, songID string) (*models.Arrangement, error) {
	var resp api.Arrangement
	path := "/api/v1/songs/" + url.PathEscape(songID) + "/arrangement"
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("get arrangement %s: %w", songID, err)
	}
	return resp.ToModel(), nil
}

// Subscribe opens the change feed websocket for the token owner.
func (c *Client) Subscribe(ctx context.Context, ownerID string) (Subscription, error) {
	wsURL, err := websocketURL(c.baseURL, "/api/v1/changes")
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	c.authorize(header)

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("subscribe: %w", &StatusError{Code: resp.StatusCode, Message: resp.Status})
		}
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	stream := newChangeStream(conn, ownerID, c.logger)
	go stream.readLoop()

	c.logger.Info("change feed connected", slog.String("owner_id", ownerID))
	return stream, nil
}

func (c *Client) authorize(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
}

// doRequest выполняет HTTP запрос с JSON телом
func (c *Client) doRequest(ctx context.Context, method, path string, body, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Message == "" {
			return &StatusError{Code: resp.StatusCode, Message: resp.Status}
		}
		return &StatusError{Code: resp.StatusCode, Message: errResp.Message}
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

func websocketURL(baseURL, path string) (string, error) {
	u, err := url.Parse(baseURL + path)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
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

// changeStream читает события из websocket и отдает их в канал
type changeStream struct {
	conn    *websocket.Conn
	logger  *slog.Logger
	ownerID string
	events  chan models.ChangeEvent
	done    chan struct{}
	once    sync.Once
	err     error
}

func newChangeStream(conn *websocket.Conn, ownerID string, logger *slog.Logger) *changeStream {
	return &changeStream{
		conn:    conn,
		logger:  logger,
		ownerID: ownerID,
		events:  make(chan models.ChangeEvent, 64),
		done:    make(chan struct{}),
	}
}

func (s *changeStream) Events() <-chan models.ChangeEvent {
	return s.events
}

func (s *changeStream) Close() error {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.err = s.conn.Close()
	})
	return s.err
}

func (s *changeStream) readLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Warn("change feed closed", slog.Any("error", err), slog.String("owner_id", s.ownerID))
			}
			return
		}

		var wire api.ChangeEvent
		if err := json.Unmarshal(data, &wire); err != nil {
			s.logger.Warn("invalid change event", slog.Any("error", err))
			continue
		}
		event := wire.ToModel()
		if !event.Type.Valid() || event.SongID() == "" {
			s.logger.Warn("change event without type or song", slog.String("type", wire.EventType))
			continue
		}

		select {
		case s.events <- event:
		case <-s.done:
			return
		}
	}
}
