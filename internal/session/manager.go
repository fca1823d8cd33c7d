// Package session runs live song sharing sessions between a host and its guests.
//
// A Manager is an explicit context object: an application creates one per
// device and may run several in one process (tests do).
package session

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/chordkeeper/internal/codec"
	"github.com/iudanet/chordkeeper/internal/crdt"
	"github.com/iudanet/chordkeeper/internal/crypto"
	"github.com/iudanet/chordkeeper/internal/models"
	"github.com/iudanet/chordkeeper/internal/transport"
)

// State состояние подключения к сессии
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// EventType тип события менеджера
type EventType string

const (
	EventSessionCreated    EventType = "session-created"
	EventSessionJoined     EventType = "session-joined"
	EventManifestReceived  EventType = "manifest-received"
	EventParticipantJoined EventType = "participant-joined"
	EventParticipantLeft   EventType = "participant-left"
	EventEjected           EventType = "ejected"
	EventSessionEnded      EventType = "session-ended"
)

const (
	DefaultContentTimeout   = 10 * time.Second
	DefaultPresenceInterval = 15 * time.Second

	eventBuffer = 64
)

// Event is delivered on Manager.Events.
type Event struct {
	Err         error
	Participant *models.Participant
	Type        EventType
	Manifest    models.Manifest
}

// Config настройки менеджера
type Config struct {
	DisplayName      string
	Instruments      []string
	ContentTimeout   time.Duration // 0 = DefaultContentTimeout
	PresenceInterval time.Duration // 0 = DefaultPresenceInterval
}

// Options of a hosted session.
type Options struct {
	Scope    string        // Scope метка того, что раздается (например, название сет-листа)
	Password string        // пустой пароль = открытая сессия
	TTL      time.Duration // 0 = без срока действия
}

// TransportFactory creates a fresh transport for every session.
type TransportFactory func() (transport.Transport, error)

// ContentProvider returns the arrangement body of a manifest song on the host.
type ContentProvider func(ctx context.Context, id string) (string, bool)

// Status is a snapshot for the UI.
type Status struct {
	Error        error
	State        State
	Role         models.Role
	SessionID    string
	Scope        string
	QRPayload    string
	Participants []models.Participant
	Manifest     models.Manifest
	PeerCount    int
	IsHosting    bool
	Ejected      bool

	// TransposedSongs сколько песен сейчас транспонировано
	TransposedSongs int
}

// session живет от Create/Join до teardown
type session struct {
	id         string
	role       models.Role
	tr         transport.Transport
	hostID     string
	key        []byte // ключ пароля сессии, nil для открытой сессии
	descriptor *models.SessionDescriptor
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// Manager owns at most one session at a time.
type Manager struct {
	factory TransportFactory
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	events       chan Event
	eventsMu     sync.Mutex
	eventsClosed bool

	mu              sync.Mutex
	state           State
	sess            *session
	destroyed       bool
	lastErr         error
	ejected         bool
	ejectedSessions map[string]struct{}
	scope           string
	qrPayload       string
	manifest        models.Manifest
	provider        ContentProvider

	participants map[string]*models.Participant // известные пиры
	verified     map[string]bool                // хост: гости с проверенным паролем
	awaiting     map[string]bool                // хост: ждут манифест до проверки пароля
	ejectedPeers map[string]bool                // хост: выгнанные в этой сессии

	clock     *crdt.Clock
	transpose *crdt.LWWMap[string, int]
	observers map[string]map[uint64]func(int)
	nextObsID uint64

	cache   map[string]string
	pending map[string]*contentRequest
}

// NewManager creates a session manager. A nil factory makes every session
// action fail with ErrTransportUnavailable.
func NewManager(factory TransportFactory, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ContentTimeout <= 0 {
		cfg.ContentTimeout = DefaultContentTimeout
	}
	if cfg.PresenceInterval <= 0 {
		cfg.PresenceInterval = DefaultPresenceInterval
	}

	m := &Manager{
		factory:         factory,
		cfg:             cfg,
		logger:          logger,
		now:             time.Now,
		events:          make(chan Event, eventBuffer),
		state:           StateDisconnected,
		ejectedSessions: make(map[string]struct{}),
		clock:           crdt.NewClock(),
		observers:       make(map[string]map[uint64]func(int)),
	}
	m.resetSessionState()
	return m
}

// resetSessionState очищает все, что принадлежит сессии; вызывается под mu
func (m *Manager) resetSessionState() {
	m.participants = make(map[string]*models.Participant)
	m.verified = make(map[string]bool)
	m.awaiting = make(map[string]bool)
	m.ejectedPeers = make(map[string]bool)
	if m.transpose == nil {
		m.transpose = crdt.NewLWWMap[string, int]()
	} else {
		m.transpose.Clear()
	}
	m.cache = make(map[string]string)
	m.pending = make(map[string]*contentRequest)
	m.manifest = nil
	m.qrPayload = ""
	m.scope = ""
}

// Events returns the event stream. It is closed by Destroy.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Status returns a snapshot of the current session.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		State:     m.state,
		Error:     m.lastErr,
		Ejected:   m.ejected,
		Scope:     m.scope,
		QRPayload: m.qrPayload,
		Manifest:  m.manifest.Clone(),
		PeerCount: len(m.participants),

		TransposedSongs: m.transpose.Len(),
	}
	if m.sess != nil {
		st.Role = m.sess.role
		st.SessionID = m.sess.id
		st.IsHosting = m.sess.role == models.RoleHost
	}

	st.Participants = make([]models.Participant, 0, len(m.participants))
	for _, p := range m.participants {
		st.Participants = append(st.Participants, p.Clone())
	}
	slices.SortFunc(st.Participants, func(a, b models.Participant) int {
		if a.IsHost != b.IsHost {
			if a.IsHost {
				return -1
			}
			return 1
		}
		return cmp.Or(cmp.Compare(a.DisplayName, b.DisplayName), cmp.Compare(a.ClientID, b.ClientID))
	})

	return st
}

// ClearEjected clears the sticky ejection flag. The session the guest was
// removed from stays closed to it.
func (m *Manager) ClearEjected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ejected = false
	if m.lastErr == ErrEjected {
		m.lastErr = nil
	}
}

// CreateSession advertises a new room and starts hosting manifest.
func (m *Manager) CreateSession(ctx context.Context, manifest models.Manifest, opts Options) (*models.SessionDescriptor, error) {
	if err := manifest.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	tr, err := m.begin()
	if err != nil {
		return nil, err
	}

	sessionID := uuid.New().String()
	info, err := tr.Advertise(ctx, sessionID)
	if err != nil {
		return nil, m.abort(tr, fmt.Errorf("failed to advertise session: %w", err))
	}

	s := &session{
		id:     sessionID,
		role:   models.RoleHost,
		tr:     tr,
		hostID: tr.LocalID(),
	}

	d := &models.SessionDescriptor{
		CreatedAt:       m.now().UTC(),
		SessionID:       sessionID,
		TransportKind:   tr.Kind(),
		HostID:          s.hostID,
		HostDisplayName: m.cfg.DisplayName,
		ConnectionInfo:  info,
	}
	if opts.TTL > 0 {
		expires := d.CreatedAt.Add(opts.TTL)
		d.ExpiresAt = &expires
	}
	if opts.Password != "" {
		salt, key, err := crypto.NewSessionSecret(opts.Password)
		if err != nil {
			return nil, m.abort(tr, fmt.Errorf("failed to derive session key: %w", err))
		}
		d.PasswordSalt = salt
		s.key = key
	}
	s.descriptor = d

	qr, err := codec.EncodeDescriptor(d)
	if err != nil {
		return nil, m.abort(tr, err)
	}
	if est := codec.EstimateEncodedSize(qr); est.TooLarge {
		m.logger.Warn("session descriptor may not scan reliably", slog.Int("bytes", est.Bytes))
	}

	m.mu.Lock()
	m.sess = s
	m.state = StateConnected
	m.manifest = manifest.Clone()
	m.scope = opts.Scope
	m.qrPayload = qr
	m.start(s)
	m.mu.Unlock()

	m.logger.Info("session created",
		slog.String("session_id", sessionID),
		slog.String("transport", string(tr.Kind())),
		slog.Int("songs", len(manifest)),
		slog.Bool("password", s.key != nil))
	m.emit(Event{Type: EventSessionCreated})

	return d, nil
}

// JoinSession connects to the session described by d. The manifest arrives
// later as a manifest-received event.
func (m *Manager) JoinSession(ctx context.Context, d *models.SessionDescriptor, password string) error {
	if d == nil {
		return fmt.Errorf("%w: nil descriptor", codec.ErrInvalidDescriptor)
	}
	if d.Expired(m.now()) {
		return ErrDescriptorExpired
	}

	m.mu.Lock()
	_, wasEjected := m.ejectedSessions[d.SessionID]
	m.mu.Unlock()
	if wasEjected {
		return ErrEjected
	}

	var key []byte
	if d.RequiresPassword() {
		if password == "" {
			return ErrPasswordRequired
		}
		var err error
		if key, err = crypto.DeriveSessionKeyFromSalt(password, d.PasswordSalt); err != nil {
			return fmt.Errorf("failed to derive session key: %w", err)
		}
	}

	tr, err := m.begin()
	if err != nil {
		return err
	}

	if err := tr.Connect(ctx, d.ConnectionInfo); err != nil {
		return m.abort(tr, fmt.Errorf("failed to join session: %w", err))
	}

	s := &session{
		id:         d.SessionID,
		role:       models.RoleGuest,
		tr:         tr,
		hostID:     d.HostID,
		key:        key,
		descriptor: d,
	}

	m.mu.Lock()
	m.sess = s
	m.state = StateConnected
	m.start(s)
	m.mu.Unlock()

	m.logger.Info("session joined",
		slog.String("session_id", d.SessionID),
		slog.String("host", d.HostDisplayName))
	m.emit(Event{Type: EventSessionJoined})

	m.broadcastPresence(ctx, s)
	m.send(ctx, s, s.hostID, codec.KindManifestRequest, nil)

	return nil
}

// begin переводит менеджер в connecting и создает транспорт
func (m *Manager) begin() (transport.Transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.destroyed || m.factory == nil:
		m.lastErr = ErrTransportUnavailable
		return nil, ErrTransportUnavailable
	case m.sess != nil || m.state == StateConnecting:
		return nil, ErrAlreadyInSession
	}

	tr, err := m.factory()
	if err != nil || tr == nil {
		m.lastErr = fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
		return nil, m.lastErr
	}

	m.state = StateConnecting
	m.lastErr = nil
	m.resetSessionState()
	return tr, nil
}

// abort возвращает менеджер в disconnected после неудачного Create/Join
func (m *Manager) abort(tr transport.Transport, err error) error {
	_ = tr.Close()

	m.mu.Lock()
	m.state = StateDisconnected
	m.lastErr = err
	m.mu.Unlock()

	m.logger.Warn("session start failed", slog.Any("error", err))
	return err
}

// LeaveSession closes the current session. Safe to call at any time.
func (m *Manager) LeaveSession() {
	m.mu.Lock()
	s := m.sess
	m.mu.Unlock()

	if s != nil {
		m.teardown(s, "", nil, true)
	}
}

// Destroy leaves the session and closes the event stream. The manager
// cannot be used afterwards.
func (m *Manager) Destroy() {
	m.LeaveSession()

	m.mu.Lock()
	m.destroyed = true
	m.provider = nil
	m.observers = make(map[string]map[uint64]func(int))
	m.mu.Unlock()

	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()
	if !m.eventsClosed {
		m.eventsClosed = true
		close(m.events)
	}
}

// teardown закрывает сессию s. wait=false используется из цикла сессии,
// который не может ждать сам себя.
func (m *Manager) teardown(s *session, reason EventType, err error, wait bool) {
	m.mu.Lock()
	if m.sess != s {
		m.mu.Unlock()
		return
	}
	m.sess = nil
	m.state = StateDisconnected
	if err != nil {
		m.lastErr = err
	}
	pending := m.pending
	m.resetSessionState()
	// наблюдатели живут до конца сессии, begin их не трогает
	m.observers = make(map[string]map[uint64]func(int))
	m.mu.Unlock()

	// ожидающие запросы контента завершаются как "нет данных"
	for _, req := range pending {
		req.timer.Stop()
		req.resolve("", false)
	}

	s.cancel()
	if err := s.tr.Close(); err != nil {
		m.logger.Debug("transport close failed", slog.Any("error", err))
	}
	if wait {
		s.wg.Wait()
	}

	m.logger.Info("session closed", slog.String("session_id", s.id), slog.Any("reason", err))
	if reason != "" {
		m.emit(Event{Type: reason, Err: err})
	}
}

func (m *Manager) emit(e Event) {
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()

	if m.eventsClosed {
		return
	}
	select {
	case m.events <- e:
	default:
		m.logger.Warn("session event dropped, nobody is reading", slog.String("type", string(e.Type)))
	}
}

// self описание этого устройства для presence
func (m *Manager) self(s *session) models.Participant {
	return models.Participant{
		ClientID:    s.tr.LocalID(),
		DisplayName: m.cfg.DisplayName,
		Instruments: slices.Clone(m.cfg.Instruments),
		IsHost:      s.role == models.RoleHost,
	}
}

func (m *Manager) current() *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}
