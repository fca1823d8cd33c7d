package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/iudanet/chordkeeper/internal/codec"
	"github.com/iudanet/chordkeeper/internal/crypto"
	"github.com/iudanet/chordkeeper/internal/models"
	"github.com/iudanet/chordkeeper/internal/transport"
)

const concernBuffer = 64

// inbound одно событие транспорта, уже разобранное демультиплексором
type inbound struct {
	err  error
	env  *codec.Envelope // nil для peer-join/peer-leave/closed
	typ  transport.EventType
	from string
}

// concerns входящие каналы по видам кадров
type concerns struct {
	presence chan inbound
	content  chan inbound
	state    chan inbound
	control  chan inbound
}

func (m *Manager) start(s *session) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	c := &concerns{
		presence: make(chan inbound, concernBuffer),
		content:  make(chan inbound, concernBuffer),
		state:    make(chan inbound, concernBuffer),
		control:  make(chan inbound, concernBuffer),
	}

	s.wg.Add(2)
	go m.demux(ctx, s, c)
	go m.run(ctx, s, c)
}

// demux читает транспорт, декодирует кадры один раз и раскладывает их по каналам
func (m *Manager) demux(ctx context.Context, s *session, c *concerns) {
	defer s.wg.Done()

	events := s.tr.Events()
	for {
		var (
			ev transport.Event
			ok bool
		)
		select {
		case <-ctx.Done():
			return
		case ev, ok = <-events:
		}
		if !ok {
			route(ctx, c.control, inbound{typ: transport.EventClosed, err: ErrConnectionLost})
			return
		}

		switch ev.Type {
		case transport.EventPeerJoin, transport.EventPeerLeave:
			route(ctx, c.presence, inbound{typ: ev.Type, from: ev.PeerID})
		case transport.EventClosed:
			route(ctx, c.control, inbound{typ: ev.Type, from: ev.PeerID, err: ev.Err})
		case transport.EventMessage:
			env, err := codec.DecodeEnvelope(ev.Data)
			if err != nil {
				m.logger.Warn("dropping invalid frame",
					slog.String("from", ev.PeerID),
					slog.Any("error", err))
				continue
			}
			in := inbound{typ: ev.Type, from: ev.PeerID, env: env}
			switch env.Kind {
			case codec.KindPresence:
				route(ctx, c.presence, in)
			case codec.KindManifestRequest, codec.KindManifest, codec.KindContentRequest, codec.KindContentResponse:
				route(ctx, c.content, in)
			case codec.KindState, codec.KindStateSnapshot:
				route(ctx, c.state, in)
			case codec.KindEndedByHost:
				route(ctx, c.control, in)
			}
		}
	}
}

func route(ctx context.Context, ch chan<- inbound, in inbound) {
	select {
	case ch <- in:
	case <-ctx.Done():
	}
}

// run единственный цикл обработки событий сессии
func (m *Manager) run(ctx context.Context, s *session, c *concerns) {
	defer s.wg.Done()

	ticker := time.NewTicker(m.cfg.PresenceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.broadcastPresence(ctx, s)
		case in := <-c.presence:
			m.handlePresence(ctx, s, in)
		case in := <-c.content:
			m.handleContent(ctx, s, in)
		case in := <-c.state:
			m.handleState(s, in)
		case in := <-c.control:
			if m.handleControl(s, in) {
				return
			}
		}
	}
}

func (m *Manager) handlePresence(ctx context.Context, s *session, in inbound) {
	switch in.typ {
	case transport.EventPeerJoin:
		m.logger.Debug("peer joined", slog.String("peer", in.from))
		m.sendPresence(ctx, s, in.from)

	case transport.EventPeerLeave:
		if s.role == models.RoleGuest && in.from == s.hostID {
			m.teardown(s, EventSessionEnded, ErrHostLeft, false)
			return
		}
		m.mu.Lock()
		p, known := m.participants[in.from]
		delete(m.participants, in.from)
		delete(m.verified, in.from)
		delete(m.awaiting, in.from)
		m.mu.Unlock()
		if known {
			left := p.Clone()
			m.emit(Event{Type: EventParticipantLeft, Participant: &left})
		}

	case transport.EventMessage:
		var body codec.Presence
		if err := in.env.DecodeBody(&body); err != nil {
			m.logger.Warn("dropping invalid presence", slog.String("from", in.from), slog.Any("error", err))
			return
		}
		m.applyPresence(ctx, s, in.from, body)
	}
}

func (m *Manager) applyPresence(ctx context.Context, s *session, from string, body codec.Presence) {
	p := body.Participant.Clone()
	// клиенту не доверяем: id берем из транспорта, хост определяем по дескриптору
	p.ClientID = from
	p.IsHost = from == s.hostID

	if s.role == models.RoleHost && s.key != nil {
		m.mu.Lock()
		verified, ejected := m.verified[from], m.ejectedPeers[from]
		m.mu.Unlock()
		if ejected {
			return
		}
		if !verified {
			if err := crypto.VerifySessionProof(s.key, s.id, from, body.Proof); err != nil {
				m.logger.Warn("guest failed password check", slog.String("peer", from))
				m.eject(ctx, s, from, "invalid password")
				return
			}
		}
	}

	m.mu.Lock()
	if m.ejectedPeers[from] {
		m.mu.Unlock()
		return
	}
	_, known := m.participants[from]
	m.participants[from] = &p
	m.verified[from] = true
	awaiting := m.awaiting[from]
	delete(m.awaiting, from)
	m.mu.Unlock()

	if !known {
		joined := p.Clone()
		m.emit(Event{Type: EventParticipantJoined, Participant: &joined})
	}
	if awaiting {
		m.sendManifest(ctx, s, from)
	}
}

func (m *Manager) handleContent(ctx context.Context, s *session, in inbound) {
	switch in.env.Kind {
	case codec.KindManifestRequest:
		if s.role != models.RoleHost {
			return
		}
		if !m.authorized(s, in.from) {
			m.mu.Lock()
			if !m.ejectedPeers[in.from] {
				m.awaiting[in.from] = true
			}
			m.mu.Unlock()
			return
		}
		m.sendManifest(ctx, s, in.from)

	case codec.KindManifest:
		if !m.fromHost(s, in) {
			return
		}
		var frame codec.ManifestFrame
		if err := in.env.DecodeBody(&frame); err != nil {
			m.logger.Warn("dropping invalid manifest frame", slog.Any("error", err))
			return
		}
		manifest, err := codec.DecodeManifest(frame.Data)
		if err != nil {
			m.logger.Warn("dropping invalid manifest", slog.Any("error", err))
			return
		}
		m.mu.Lock()
		m.manifest = manifest
		m.mu.Unlock()
		m.logger.Info("manifest received", slog.Int("songs", len(manifest)))
		m.emit(Event{Type: EventManifestReceived, Manifest: manifest.Clone()})

	case codec.KindContentRequest:
		if s.role != models.RoleHost {
			return
		}
		var req codec.ContentRequest
		if err := in.env.DecodeBody(&req); err != nil {
			m.logger.Warn("dropping invalid content request", slog.Any("error", err))
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			m.serveContent(ctx, s, in.from, req.ID)
		}()

	case codec.KindContentResponse:
		if !m.fromHost(s, in) {
			return
		}
		var resp codec.ContentResponse
		if err := in.env.DecodeBody(&resp); err != nil {
			m.logger.Warn("dropping invalid content response", slog.Any("error", err))
			return
		}
		m.resolveContent(resp)
	}
}

func (m *Manager) handleState(s *session, in inbound) {
	if s.role == models.RoleHost {
		m.logger.Warn("ignoring state change from guest",
			slog.String("peer", in.from),
			slog.String("kind", string(in.env.Kind)))
		return
	}
	if !m.fromHost(s, in) {
		return
	}

	switch in.env.Kind {
	case codec.KindState:
		var st codec.State
		if err := in.env.DecodeBody(&st); err != nil {
			m.logger.Warn("dropping invalid state frame", slog.Any("error", err))
			return
		}
		m.applyTranspose(st.SongID, st.Semitones, st.Version)

	case codec.KindStateSnapshot:
		var snap codec.StateSnapshot
		if err := in.env.DecodeBody(&snap); err != nil {
			m.logger.Warn("dropping invalid state snapshot", slog.Any("error", err))
			return
		}
		for _, st := range snap.Entries {
			m.applyTranspose(st.SongID, st.Semitones, st.Version)
		}
	}
}

// handleControl возвращает true, если сессия завершена
func (m *Manager) handleControl(s *session, in inbound) bool {
	switch in.typ {
	case transport.EventMessage:
		if s.role != models.RoleGuest || !m.fromHost(s, in) {
			return false
		}
		var body codec.EndedByHost
		_ = in.env.DecodeBody(&body)
		m.logger.Warn("removed from session by host",
			slog.String("session_id", s.id),
			slog.String("reason", body.Reason))
		m.markEjected(s)
		m.teardown(s, EventEjected, ErrEjected, false)
		return true

	case transport.EventClosed:
		if s.role == models.RoleGuest && errors.Is(in.err, transport.ErrDropped) {
			m.markEjected(s)
			m.teardown(s, EventEjected, ErrEjected, false)
			return true
		}
		m.logger.Warn("session transport closed", slog.Any("error", in.err))
		m.teardown(s, EventSessionEnded, ErrConnectionLost, false)
		return true
	}
	return false
}

func (m *Manager) markEjected(s *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ejected = true
	m.ejectedSessions[s.id] = struct{}{}
}

func (m *Manager) fromHost(s *session, in inbound) bool {
	if in.from == s.hostID {
		return true
	}
	m.logger.Warn("ignoring host frame from non-host peer",
		slog.String("peer", in.from),
		slog.String("kind", string(in.env.Kind)))
	return false
}

// authorized хост: пир может получать манифест и контент
func (m *Manager) authorized(s *session, peer string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ejectedPeers[peer] {
		return false
	}
	return s.key == nil || m.verified[peer]
}

// eject убирает гостя из сессии хоста
func (m *Manager) eject(ctx context.Context, s *session, peer, reason string) {
	m.mu.Lock()
	m.ejectedPeers[peer] = true
	p, known := m.participants[peer]
	delete(m.participants, peer)
	delete(m.verified, peer)
	delete(m.awaiting, peer)
	m.mu.Unlock()

	_ = m.send(ctx, s, peer, codec.KindEndedByHost, codec.EndedByHost{Reason: reason})
	if err := s.tr.Drop(ctx, peer); err != nil {
		m.logger.Warn("failed to drop peer", slog.String("peer", peer), slog.Any("error", err))
	}

	m.logger.Info("participant ejected", slog.String("peer", peer), slog.String("reason", reason))
	if known {
		left := p.Clone()
		m.emit(Event{Type: EventParticipantLeft, Participant: &left})
	}
}

func (m *Manager) send(ctx context.Context, s *session, peer string, kind codec.Kind, body any) error {
	data, err := codec.Encode(kind, body)
	if err != nil {
		m.logger.Error("failed to encode frame", slog.String("kind", string(kind)), slog.Any("error", err))
		return err
	}
	if err := s.tr.Send(ctx, peer, data); err != nil {
		m.logger.Debug("failed to send frame",
			slog.String("kind", string(kind)),
			slog.String("peer", peer),
			slog.Any("error", err))
		return err
	}
	return nil
}

func (m *Manager) presenceBody(s *session) codec.Presence {
	body := codec.Presence{Participant: m.self(s)}
	if s.role == models.RoleGuest && s.key != nil {
		proof, err := crypto.SessionProof(s.key, s.id, s.tr.LocalID())
		if err != nil {
			m.logger.Error("failed to compute session proof", slog.Any("error", err))
		}
		body.Proof = proof
	}
	return body
}

func (m *Manager) sendPresence(ctx context.Context, s *session, peer string) {
	_ = m.send(ctx, s, peer, codec.KindPresence, m.presenceBody(s))
}

func (m *Manager) broadcastPresence(ctx context.Context, s *session) {
	m.sendPresence(ctx, s, "")
}

// sendManifest отправляет гостю манифест и текущее эфемерное состояние
func (m *Manager) sendManifest(ctx context.Context, s *session, peer string) {
	m.mu.Lock()
	manifest := m.manifest.Clone()
	entries := m.transpose.Snapshot()
	m.mu.Unlock()

	snapshot := codec.StateSnapshot{Entries: make([]codec.State, 0, len(entries))}
	for _, e := range entries {
		snapshot.Entries = append(snapshot.Entries, codec.State{SongID: e.Key, Semitones: e.Value, Version: e.Version})
	}

	data, err := codec.EncodeManifest(manifest)
	if err != nil {
		m.logger.Error("failed to encode manifest", slog.Any("error", err))
		return
	}
	if err := m.send(ctx, s, peer, codec.KindManifest, codec.ManifestFrame{Data: data}); err != nil {
		return
	}
	_ = m.send(ctx, s, peer, codec.KindStateSnapshot, snapshot)
}
